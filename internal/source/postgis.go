// Package source loads known points and study-area masks from PostGIS and
// known points from spreadsheets.
package source

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/potentials/internal/db"
	"github.com/sells-group/potentials/internal/resilience"
	"github.com/sells-group/potentials/internal/shapes"
	"github.com/sells-group/potentials/internal/spatial"
)

// validTables is an allowlist of geometry and attribute tables a request
// may name.
var validTables = map[string]bool{
	"geo.counties":      true,
	"geo.places":        true,
	"geo.zcta":          true,
	"geo.cbsa":          true,
	"geo.census_tracts": true,
	"geo.states":        true,
	"geo.demographics":  true,
	"geo.study_areas":   true,
	"geo.known_points":  true,
}

// WGS84 is the SRID of geographic output.
const WGS84 = 4326

// PointQuery selects known points: the centroid of every geometry in Table,
// with stock columns read from Table or, when set, from StockTable joined on
// the ID column.
type PointQuery struct {
	Table      string   `yaml:"table" json:"table"`
	IDColumn   string   `yaml:"id_column" json:"id_column"`
	GeomColumn string   `yaml:"geom_column" json:"geom_column"`
	StockTable string   `yaml:"stock_table" json:"stock_table"`
	Stocks     []string `yaml:"stocks" json:"stocks"`
	// FilterColumn and FilterValues restrict rows, e.g. state_fips IN (...).
	FilterColumn string   `yaml:"filter_column" json:"filter_column"`
	FilterValues []string `yaml:"filter_values" json:"filter_values"`
	// SRID the centroids are transformed to. 4326 yields a geographic frame.
	SRID int `yaml:"srid" json:"srid"`
}

// MaskQuery selects the geometries whose union is the mask.
type MaskQuery struct {
	Table        string   `yaml:"table" json:"table"`
	GeomColumn   string   `yaml:"geom_column" json:"geom_column"`
	FilterColumn string   `yaml:"filter_column" json:"filter_column"`
	FilterValues []string `yaml:"filter_values" json:"filter_values"`
	SRID         int      `yaml:"srid" json:"srid"`
}

// Loader reads engine inputs from a PostGIS database.
type Loader struct {
	pool  db.Pool
	retry resilience.RetryConfig
	log   *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRetry sets the policy for queries that fail transiently.
func WithRetry(cfg resilience.RetryConfig) LoaderOption {
	return func(l *Loader) { l.retry = cfg }
}

// NewLoader creates a Loader over pool.
func NewLoader(pool db.Pool, opts ...LoaderOption) *Loader {
	l := &Loader{
		pool:  pool,
		retry: resilience.DefaultRetryConfig(),
		log:   zap.L().With(zap.String("component", "source")),
	}
	for _, fn := range opts {
		fn(l)
	}
	return l
}

func validateTable(table string) error {
	if !validTables[table] {
		return eris.Wrapf(spatial.ErrInvalidParameter, "source: invalid table name %q", table)
	}
	return nil
}

func col(name, fallback string) string {
	if name == "" {
		name = fallback
	}
	return pgx.Identifier{name}.Sanitize()
}

func frameOf(srid int) spatial.Frame {
	if srid == WGS84 {
		return spatial.Geographic
	}
	return spatial.Planar
}

// KnownPoints loads one known point per row. A NULL stock is an error.
func (l *Loader) KnownPoints(ctx context.Context, q PointQuery) (spatial.PointSet, error) {
	if err := validateTable(q.Table); err != nil {
		return spatial.PointSet{}, err
	}
	if q.StockTable != "" {
		if err := validateTable(q.StockTable); err != nil {
			return spatial.PointSet{}, err
		}
	}
	if len(q.Stocks) == 0 {
		return spatial.PointSet{}, eris.Wrap(spatial.ErrInvalidParameter, "source: no stock columns")
	}
	if q.SRID == 0 {
		q.SRID = WGS84
	}

	sql, args := pointSQL(q)
	cfg := l.retry
	cfg.OnRetry = resilience.RetryLogger("source", "known points")
	set, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (spatial.PointSet, error) {
		return scanPoints(ctx, l.pool, q, sql, args)
	})
	if err != nil {
		return spatial.PointSet{}, err
	}

	l.log.Info("loaded known points",
		zap.String("table", q.Table),
		zap.Int("points", len(set.Points)),
		zap.Stringer("frame", set.Frame),
	)
	return set, nil
}

func scanPoints(ctx context.Context, pool db.Pool, q PointQuery, sql string, args []any) (spatial.PointSet, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return spatial.PointSet{}, eris.Wrapf(err, "source: query known points from %s", q.Table)
	}
	defer rows.Close()

	set := spatial.PointSet{Frame: frameOf(q.SRID)}
	for rows.Next() {
		var id string
		var x, y float64
		stocks := make([]float64, len(q.Stocks))
		dest := []any{&id, &x, &y}
		for i := range stocks {
			dest = append(dest, &stocks[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return spatial.PointSet{}, eris.Wrap(err, "source: scan known point")
		}
		kp := spatial.KnownPoint{Point: spatial.Point{ID: id, X: x, Y: y}, Stocks: make(map[string]float64, len(q.Stocks))}
		for i, name := range q.Stocks {
			if math.IsNaN(stocks[i]) {
				return spatial.PointSet{}, eris.Wrapf(spatial.ErrInvalidParameter, "source: %s has no %s", id, name)
			}
			kp.Stocks[name] = stocks[i]
		}
		set.Points = append(set.Points, kp)
	}
	if err := rows.Err(); err != nil {
		return spatial.PointSet{}, eris.Wrap(err, "source: iterate known points")
	}
	return set, nil
}

func pointSQL(q PointQuery) (string, []any) {
	id := col(q.IDColumn, "geoid")
	geomCol := col(q.GeomColumn, "geom")
	stockAlias := "g"
	from := fmt.Sprintf("%s g", db.Identifier(q.Table).Sanitize())
	if q.StockTable != "" {
		stockAlias = "s"
		from += fmt.Sprintf(" JOIN %s s ON s.%s = g.%s", db.Identifier(q.StockTable).Sanitize(), id, id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT g.%s::text, ST_X(c.pt), ST_Y(c.pt)", id)
	for _, s := range q.Stocks {
		fmt.Fprintf(&b, ", COALESCE(%s.%s::float8, 'NaN')", stockAlias, pgx.Identifier{s}.Sanitize())
	}
	fmt.Fprintf(&b, " FROM %s CROSS JOIN LATERAL (SELECT ST_Transform(ST_Centroid(g.%s), $1) AS pt) c", from, geomCol)

	args := []any{q.SRID}
	if q.FilterColumn != "" {
		fmt.Fprintf(&b, " WHERE g.%s = ANY($2)", pgx.Identifier{q.FilterColumn}.Sanitize())
		args = append(args, q.FilterValues)
	}
	fmt.Fprintf(&b, " ORDER BY g.%s", id)
	return b.String(), args
}

// Mask unions the selected geometries into one mask.
func (l *Loader) Mask(ctx context.Context, q MaskQuery) (*spatial.Mask, error) {
	if err := validateTable(q.Table); err != nil {
		return nil, err
	}
	if q.SRID == 0 {
		q.SRID = WGS84
	}

	sql := fmt.Sprintf("SELECT ST_AsEWKB(ST_Multi(ST_Union(ST_Transform(%s, $1)))) FROM %s",
		col(q.GeomColumn, "geom"), db.Identifier(q.Table).Sanitize())
	args := []any{q.SRID}
	if q.FilterColumn != "" {
		sql += fmt.Sprintf(" WHERE %s = ANY($2)", pgx.Identifier{q.FilterColumn}.Sanitize())
		args = append(args, q.FilterValues)
	}

	cfg := l.retry
	cfg.OnRetry = resilience.RetryLogger("source", "mask")
	data, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		var data []byte
		err := l.pool.QueryRow(ctx, sql, args...).Scan(&data)
		return data, eris.Wrapf(err, "source: query mask from %s", q.Table)
	})
	if err != nil {
		return nil, err
	}
	mask, err := shapes.DecodeMask(data)
	if err != nil {
		return nil, eris.Wrapf(err, "source: mask from %s", q.Table)
	}
	l.log.Info("loaded mask", zap.String("table", q.Table), zap.Float64("area", mask.Area()))
	return mask, nil
}
