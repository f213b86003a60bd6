package export

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/potentials/internal/db"
	"github.com/sells-group/potentials/internal/engine"
	"github.com/sells-group/potentials/internal/isopleth"
	"github.com/sells-group/potentials/internal/shapes"
)

// Output tables.
const (
	BandsTable     = "geo.isopleths"
	PotentialTable = "geo.potentials"
)

var (
	bandColumns      = []string{"run_id", "class", "lower", "upper", "center", "geom"}
	potentialColumns = []string{"run_id", "target_id", "variable", "value", "class"}
)

const postgisMigration = `
CREATE SCHEMA IF NOT EXISTS geo;

CREATE TABLE IF NOT EXISTS geo.isopleths (
	run_id TEXT NOT NULL,
	class  INTEGER NOT NULL,
	lower  DOUBLE PRECISION NOT NULL,
	upper  DOUBLE PRECISION NOT NULL,
	center DOUBLE PRECISION NOT NULL,
	geom   geometry(MultiPolygon) NOT NULL,
	PRIMARY KEY (run_id, class)
);
CREATE INDEX IF NOT EXISTS idx_isopleths_geom ON geo.isopleths USING GIST (geom);

CREATE TABLE IF NOT EXISTS geo.potentials (
	run_id    TEXT NOT NULL,
	target_id TEXT NOT NULL,
	variable  TEXT NOT NULL,
	value     DOUBLE PRECISION NOT NULL,
	class     INTEGER,
	PRIMARY KEY (run_id, target_id, variable)
);
`

// PostGIS writes results into the geo schema.
type PostGIS struct {
	pool db.Pool
	srid int
}

// NewPostGIS creates a writer tagging geometries with srid.
func NewPostGIS(pool db.Pool, srid int) *PostGIS {
	return &PostGIS{pool: pool, srid: srid}
}

// Migrate creates the output tables.
func (p *PostGIS) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgisMigration)
	return eris.Wrap(err, "export: migrate")
}

// WriteBands copies the bands of one run into geo.isopleths.
func (p *PostGIS) WriteBands(ctx context.Context, runID string, bands []isopleth.Band) (int64, error) {
	rows := make([][]any, 0, len(bands))
	for _, b := range bands {
		if b.Geometry == nil || b.Geometry.NumPolygons() == 0 {
			continue
		}
		data, err := shapes.EncodeEWKB(b.Geometry, p.srid)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{runID, b.Class, b.Lower, b.Upper, b.Center, data})
	}
	n, err := db.CopyInto(ctx, p.pool, BandsTable, bandColumns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "export: bands of run %s", runID)
	}
	zap.L().Info("export: wrote isopleths", zap.String("run_id", runID), zap.Int64("rows", n))
	return n, nil
}

// WriteTable upserts every variable of a discrete result into
// geo.potentials. Only the classified variable carries a class.
func (p *PostGIS) WriteTable(ctx context.Context, runID string, res *engine.Result) (int64, error) {
	if res == nil || res.Surface == nil {
		return 0, eris.New("export: result has no surface")
	}
	ids := res.Surface.TargetIDs()
	var rows [][]any
	for _, v := range res.Surface.Variables() {
		vals, err := res.Surface.Values(v)
		if err != nil {
			return 0, err
		}
		for i, id := range ids {
			var class any
			if v == res.Variable && len(res.Classes) == len(ids) {
				class = res.Classes[i]
			}
			rows = append(rows, []any{runID, id, v, vals[i], class})
		}
	}
	n, err := db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        PotentialTable,
		Columns:      potentialColumns,
		ConflictKeys: []string{"run_id", "target_id", "variable"},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "export: table of run %s", runID)
	}
	zap.L().Info("export: wrote potentials", zap.String("run_id", runID), zap.Int64("rows", n))
	return n, nil
}
