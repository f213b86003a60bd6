// Package request reads potential requests from YAML files and JSON bodies
// and resolves their inputs into an engine.Request.
package request

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/potentials/internal/classify"
	"github.com/sells-group/potentials/internal/config"
	"github.com/sells-group/potentials/internal/decay"
	"github.com/sells-group/potentials/internal/engine"
	"github.com/sells-group/potentials/internal/shapes"
	"github.com/sells-group/potentials/internal/source"
	"github.com/sells-group/potentials/internal/spatial"
)

// File is the document form of a request. Unset fields fall back to the
// engine defaults in the configuration.
type File struct {
	Name      string        `yaml:"name" json:"name"`
	Mode      string        `yaml:"mode" json:"mode"`
	Frame     string        `yaml:"frame" json:"frame"`
	Variables []string      `yaml:"variables" json:"variables"`
	Ratio     *engine.Ratio `yaml:"ratio" json:"ratio"`
	Classify  string        `yaml:"classify" json:"classify"`
	Known     KnownSpec     `yaml:"known" json:"known"`
	Mask      *MaskSpec     `yaml:"mask" json:"mask"`
	Targets   *TargetSpec   `yaml:"targets" json:"targets"`
	Decay     DecaySpec     `yaml:"decay" json:"decay"`
	Geodesic  *bool         `yaml:"geodesic" json:"geodesic"`
	Limit     float64       `yaml:"limit" json:"limit"`

	Resolution float64  `yaml:"resolution" json:"resolution"`
	Buffer     *float64 `yaml:"buffer" json:"buffer"`

	Method          string    `yaml:"method" json:"method"`
	Classes         int       `yaml:"classes" json:"classes"`
	Breaks          []float64 `yaml:"breaks" json:"breaks"`
	ReferenceBreaks []float64 `yaml:"reference_breaks" json:"reference_breaks"`

	Output OutputSpec `yaml:"output" json:"output"`

	dir string
}

// KnownSpec names exactly one source of known points.
type KnownSpec struct {
	Points    []spatial.KnownPoint `yaml:"points" json:"points"`
	Shapefile *ShapefileSpec       `yaml:"shapefile" json:"shapefile"`
	XLSX      *XLSXSpec            `yaml:"xlsx" json:"xlsx"`
	PostGIS   *source.PointQuery   `yaml:"postgis" json:"postgis"`
}

// ShapefileSpec points at a shapefile of known points or targets.
type ShapefileSpec struct {
	Path    string   `yaml:"path" json:"path"`
	IDField string   `yaml:"id_field" json:"id_field"`
	Stocks  []string `yaml:"stocks" json:"stocks"`
}

// XLSXSpec points at a worksheet of known points.
type XLSXSpec struct {
	Path             string `yaml:"path" json:"path"`
	source.SheetSpec `yaml:",inline"`
}

// MaskSpec names exactly one source of the study-area mask.
type MaskSpec struct {
	Rect      []float64         `yaml:"rect" json:"rect"` // minx, miny, maxx, maxy
	Shapefile string            `yaml:"shapefile" json:"shapefile"`
	GeoJSON   string            `yaml:"geojson" json:"geojson"`
	PostGIS   *source.MaskQuery `yaml:"postgis" json:"postgis"`
}

// TargetSpec lists discrete evaluation targets.
type TargetSpec struct {
	Points    []spatial.Point `yaml:"points" json:"points"`
	Shapefile *ShapefileSpec  `yaml:"shapefile" json:"shapefile"`
}

// DecaySpec overrides the configured decay function.
type DecaySpec struct {
	Family string  `yaml:"family" json:"family"`
	Span   float64 `yaml:"span" json:"span"`
	Beta   float64 `yaml:"beta" json:"beta"`
}

// OutputSpec lists where the CLI writes results. Empty paths are skipped.
type OutputSpec struct {
	JSON      string `yaml:"json" json:"json"`
	GeoJSON   string `yaml:"geojson" json:"geojson"`
	Shapefile string `yaml:"shapefile" json:"shapefile"`
	XLSX      string `yaml:"xlsx" json:"xlsx"`
	PostGIS   bool   `yaml:"postgis" json:"postgis"`
}

// Load reads a request file. Relative paths inside it resolve against the
// file's directory.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "request: read %s", path)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "request: %s", path)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Parse decodes a YAML (or JSON) request document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "request: parse: %v", err)
	}
	return &f, nil
}

// PostGISSource loads inputs from a spatial database.
type PostGISSource interface {
	KnownPoints(ctx context.Context, q source.PointQuery) (spatial.PointSet, error)
	Mask(ctx context.Context, q source.MaskQuery) (*spatial.Mask, error)
}

// Resolver turns request documents into engine requests.
type Resolver struct {
	Defaults config.EngineConfig
	// PostGIS serves postgis sections. Nil rejects them.
	PostGIS PostGISSource
	// NoFiles rejects sections that read the local filesystem. The HTTP
	// service sets it.
	NoFiles bool
}

// Resolve loads every input the document references and returns the engine
// request.
func (r *Resolver) Resolve(ctx context.Context, f *File) (engine.Request, error) {
	frame, err := spatial.ParseFrame(f.Frame)
	if err != nil {
		return engine.Request{}, err
	}
	mode, err := engine.ParseMode(f.Mode)
	if err != nil {
		return engine.Request{}, err
	}
	method := f.Method
	if method == "" {
		method = r.Defaults.Method
	}
	m, err := classify.ParseMethod(method)
	if err != nil {
		return engine.Request{}, err
	}
	params, err := r.decay(f.Decay)
	if err != nil {
		return engine.Request{}, err
	}

	req := engine.Request{
		Variables:       f.Variables,
		Ratio:           f.Ratio,
		Classify:        f.Classify,
		Mode:            mode,
		Resolution:      f.Resolution,
		Buffer:          f.Buffer,
		Decay:           params,
		Geodesic:        r.Defaults.Geodesic,
		Limit:           f.Limit,
		Method:          m,
		Classes:         f.Classes,
		Breaks:          f.Breaks,
		ReferenceBreaks: f.ReferenceBreaks,
	}
	if f.Geodesic != nil {
		req.Geodesic = *f.Geodesic
	}
	if req.Classes == 0 {
		req.Classes = r.Defaults.Classes
	}
	if len(req.Variables) == 0 && f.Known.Shapefile != nil {
		req.Variables = f.Known.Shapefile.Stocks
	}

	if req.Known, err = r.known(ctx, f, frame); err != nil {
		return engine.Request{}, err
	}
	if f.Mask != nil {
		if req.Mask, err = r.mask(ctx, f); err != nil {
			return engine.Request{}, err
		}
	}
	if f.Targets != nil {
		if req.Targets, err = r.targets(f, req.Known.Frame); err != nil {
			return engine.Request{}, err
		}
	}
	return req, nil
}

func (r *Resolver) decay(d DecaySpec) (decay.Params, error) {
	name := d.Family
	if name == "" {
		name = r.Defaults.Family
	}
	family, err := decay.ParseFamily(name)
	if err != nil {
		return decay.Params{}, err
	}
	p := decay.Params{Family: family, Span: d.Span, Beta: d.Beta}
	if p.Span == 0 {
		p.Span = r.Defaults.Span
	}
	if p.Beta == 0 {
		p.Beta = r.Defaults.Beta
	}
	return p, p.Validate()
}

func (r *Resolver) known(ctx context.Context, f *File, frame spatial.Frame) (spatial.PointSet, error) {
	k := f.Known
	if n := countSet(len(k.Points) > 0, k.Shapefile != nil, k.XLSX != nil, k.PostGIS != nil); n != 1 {
		return spatial.PointSet{}, eris.Wrapf(spatial.ErrInvalidParameter,
			"request: known needs exactly one of points, shapefile, xlsx or postgis, got %d", n)
	}
	switch {
	case len(k.Points) > 0:
		return spatial.PointSet{Frame: frame, Points: k.Points}, nil
	case k.Shapefile != nil:
		path, err := r.path(f, k.Shapefile.Path)
		if err != nil {
			return spatial.PointSet{}, err
		}
		stocks := k.Shapefile.Stocks
		if len(stocks) == 0 {
			stocks = f.Variables
		}
		pts, err := shapes.ReadPoints(path, shapes.PointSpec{IDField: k.Shapefile.IDField, Stocks: stocks})
		return spatial.PointSet{Frame: frame, Points: pts}, err
	case k.XLSX != nil:
		path, err := r.path(f, k.XLSX.Path)
		if err != nil {
			return spatial.PointSet{}, err
		}
		spec := k.XLSX.SheetSpec
		if len(spec.Stocks) == 0 {
			spec.Stocks = f.Variables
		}
		pts, err := source.ReadXLSX(path, spec)
		return spatial.PointSet{Frame: frame, Points: pts}, err
	default:
		if r.PostGIS == nil {
			return spatial.PointSet{}, eris.Wrap(spatial.ErrInvalidParameter, "request: no PostGIS source configured")
		}
		q := *k.PostGIS
		if len(q.Stocks) == 0 {
			q.Stocks = f.Variables
		}
		return r.PostGIS.KnownPoints(ctx, q)
	}
}

func (r *Resolver) mask(ctx context.Context, f *File) (*spatial.Mask, error) {
	m := f.Mask
	if n := countSet(len(m.Rect) > 0, m.Shapefile != "", m.GeoJSON != "", m.PostGIS != nil); n != 1 {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter,
			"request: mask needs exactly one of rect, shapefile, geojson or postgis, got %d", n)
	}
	switch {
	case len(m.Rect) > 0:
		if len(m.Rect) != 4 {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter, "request: rect needs 4 values, got %d", len(m.Rect))
		}
		return spatial.RectMask(m.Rect[0], m.Rect[1], m.Rect[2], m.Rect[3])
	case m.Shapefile != "":
		path, err := r.path(f, m.Shapefile)
		if err != nil {
			return nil, err
		}
		return shapes.ReadMask(path)
	case m.GeoJSON != "":
		path, err := r.path(f, m.GeoJSON)
		if err != nil {
			return nil, err
		}
		return shapes.ReadGeoJSONMask(path)
	default:
		if r.PostGIS == nil {
			return nil, eris.Wrap(spatial.ErrInvalidParameter, "request: no PostGIS source configured")
		}
		return r.PostGIS.Mask(ctx, *m.PostGIS)
	}
}

func (r *Resolver) targets(f *File, frame spatial.Frame) (spatial.TargetSet, error) {
	t := f.Targets
	if t.Shapefile == nil {
		return spatial.PointTargets(frame, t.Points), nil
	}
	if len(t.Points) > 0 {
		return spatial.TargetSet{}, eris.Wrap(spatial.ErrInvalidParameter, "request: targets needs points or shapefile, not both")
	}
	path, err := r.path(f, t.Shapefile.Path)
	if err != nil {
		return spatial.TargetSet{}, err
	}
	known, err := shapes.ReadPoints(path, shapes.PointSpec{IDField: t.Shapefile.IDField})
	if err != nil {
		return spatial.TargetSet{}, err
	}
	pts := make([]spatial.Point, len(known))
	for i, k := range known {
		pts[i] = k.Point
	}
	return spatial.PointTargets(frame, pts), nil
}

func (r *Resolver) path(f *File, p string) (string, error) {
	if r.NoFiles {
		return "", eris.Wrapf(spatial.ErrInvalidParameter, "request: file inputs are not accepted here (%s)", p)
	}
	if p == "" {
		return "", eris.Wrap(spatial.ErrInvalidParameter, "request: empty path")
	}
	if filepath.IsAbs(p) || f.dir == "" {
		return p, nil
	}
	return filepath.Join(f.dir, p), nil
}

// OutputPath resolves an output path against the request file's directory.
func (f *File) OutputPath(p string) string {
	if p == "" || filepath.IsAbs(p) || f.dir == "" {
		return p
	}
	return filepath.Join(f.dir, p)
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
