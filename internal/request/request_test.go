package request

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/potentials/internal/classify"
	"github.com/sells-group/potentials/internal/config"
	"github.com/sells-group/potentials/internal/decay"
	"github.com/sells-group/potentials/internal/engine"
	"github.com/sells-group/potentials/internal/source"
	"github.com/sells-group/potentials/internal/spatial"
)

var defaults = config.EngineConfig{
	Family:   "exponential",
	Span:     75000,
	Beta:     2,
	Classes:  5,
	Method:   "quantile",
	MaxCells: 1000,
}

const rasterDoc = `
name: test
mode: raster
variables: [pop, jobs]
ratio:
  name: jobs_per_1000
  numerator: jobs
  denominator: pop
  scale: 1000
known:
  points:
    - {id: a, x: 1000, y: 1000, stocks: {pop: 500, jobs: 20}}
    - {id: b, x: 9000, y: 1500, stocks: {pop: 300, jobs: 80}}
mask:
  rect: [0, 0, 10000, 10000]
resolution: 1000
buffer: 0
decay:
  family: pareto
  span: 20000
classes: 3
output:
  geojson: out/bands.geojson
`

func TestParseAndResolve_Raster(t *testing.T) {
	f, err := Parse([]byte(rasterDoc))
	require.NoError(t, err)

	req, err := (&Resolver{Defaults: defaults}).Resolve(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, engine.ModeRaster, req.Mode)
	assert.Equal(t, []string{"pop", "jobs"}, req.Variables)
	require.NotNil(t, req.Ratio)
	assert.Equal(t, engine.Ratio{Name: "jobs_per_1000", Numerator: "jobs", Denominator: "pop", Scale: 1000}, *req.Ratio)
	require.Len(t, req.Known.Points, 2)
	assert.Equal(t, spatial.Planar, req.Known.Frame)
	assert.Equal(t, 80.0, req.Known.Points[1].Stocks["jobs"])
	require.NotNil(t, req.Mask)
	assert.InDelta(t, 1e8, req.Mask.Area(), 1e-6)
	assert.Equal(t, 1000.0, req.Resolution)
	require.NotNil(t, req.Buffer)
	assert.Equal(t, 0.0, *req.Buffer)
	assert.Equal(t, decay.Params{Family: decay.Pareto, Span: 20000, Beta: 2}, req.Decay)
	assert.Equal(t, classify.MethodQuantile, req.Method)
	assert.Equal(t, 3, req.Classes)
	assert.Equal(t, "out/bands.geojson", f.Output.GeoJSON)
}

func TestResolve_DefaultsApply(t *testing.T) {
	f, err := Parse([]byte(`
known:
  points: [{id: a, x: 0, y: 0, stocks: {pop: 1}}]
variables: [pop]
`))
	require.NoError(t, err)

	req, err := (&Resolver{Defaults: defaults}).Resolve(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, engine.ModeDiscrete, req.Mode)
	assert.Equal(t, decay.Params{Family: decay.Exponential, Span: 75000, Beta: 2}, req.Decay)
	assert.Equal(t, 5, req.Classes)
	assert.Nil(t, req.Mask)
	assert.Empty(t, req.Targets.Targets)
}

func TestResolve_GeographicTargets(t *testing.T) {
	f, err := Parse([]byte(`
frame: geographic
geodesic: true
variables: [pop]
known:
  points: [{id: a, x: -97.7, y: 30.3, stocks: {pop: 1}}]
targets:
  points: [{id: t1, x: -97.5, y: 30.1}, {id: t2, x: -96.8, y: 32.8}]
method: equal
`))
	require.NoError(t, err)

	req, err := (&Resolver{Defaults: defaults}).Resolve(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, spatial.Geographic, req.Known.Frame)
	assert.True(t, req.Geodesic)
	assert.Equal(t, classify.MethodEqual, req.Method)
	require.Len(t, req.Targets.Targets, 2)
	assert.Equal(t, spatial.Geographic, req.Targets.Frame)
	assert.Equal(t, "t2", req.Targets.Targets[1].ID)
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no known source", `variables: [pop]`},
		{"two known sources", `
variables: [pop]
known:
  points: [{id: a, x: 0, y: 0, stocks: {pop: 1}}]
  shapefile: {path: towns.shp}`},
		{"bad rect", `
known:
  points: [{id: a, x: 0, y: 0, stocks: {pop: 1}}]
mask: {rect: [0, 0, 1]}`},
		{"bad frame", `
frame: mercator
known:
  points: [{id: a, x: 0, y: 0, stocks: {pop: 1}}]`},
		{"bad family", `
decay: {family: gaussian}
known:
  points: [{id: a, x: 0, y: 0, stocks: {pop: 1}}]`},
		{"bad mode", `
mode: hexagons
known:
  points: [{id: a, x: 0, y: 0, stocks: {pop: 1}}]`},
		{"postgis without source", `
known:
  postgis: {table: geo.counties, stocks: [pop]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			_, err = (&Resolver{Defaults: defaults}).Resolve(context.Background(), f)
			assert.True(t, spatial.IsCallerError(err), "got %v", err)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("mode: [raster"))
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))
}

type fakePostGIS struct {
	points    spatial.PointSet
	gotPoints source.PointQuery
	gotMask   source.MaskQuery
}

func (f *fakePostGIS) KnownPoints(_ context.Context, q source.PointQuery) (spatial.PointSet, error) {
	f.gotPoints = q
	return f.points, nil
}

func (f *fakePostGIS) Mask(_ context.Context, q source.MaskQuery) (*spatial.Mask, error) {
	f.gotMask = q
	return spatial.RectMask(0, 0, 1, 1)
}

func TestResolve_PostGIS(t *testing.T) {
	f, err := Parse([]byte(`
variables: [pop]
known:
  postgis:
    table: geo.counties
    stock_table: geo.demographics
    filter_column: state_fips
    filter_values: ["48"]
    srid: 5070
mask:
  postgis: {table: geo.states, filter_column: stusps, filter_values: [TX], srid: 5070}
`))
	require.NoError(t, err)

	pg := &fakePostGIS{points: spatial.PointSet{Points: []spatial.KnownPoint{{Stocks: map[string]float64{"pop": 1}}}}}
	req, err := (&Resolver{Defaults: defaults, PostGIS: pg}).Resolve(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, "geo.demographics", pg.gotPoints.StockTable)
	assert.Equal(t, []string{"pop"}, pg.gotPoints.Stocks)
	assert.Equal(t, []string{"48"}, pg.gotPoints.FilterValues)
	assert.Equal(t, 5070, pg.gotMask.SRID)
	assert.Len(t, req.Known.Points, 1)
	assert.NotNil(t, req.Mask)
}

func TestLoad_RelativePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mask.geojson"),
		[]byte(`{"type":"Polygon","coordinates":[[[0,0],[5,0],[5,5],[0,5],[0,0]]]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "request.yaml"), []byte(`
variables: [pop]
known:
  points: [{id: a, x: 1, y: 1, stocks: {pop: 1}}]
mask:
  geojson: mask.geojson
output:
  json: result.json
`), 0o644))

	f, err := Load(filepath.Join(dir, "request.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "result.json"), f.OutputPath(f.Output.JSON))
	assert.Equal(t, "", f.OutputPath(""))

	req, err := (&Resolver{Defaults: defaults}).Resolve(context.Background(), f)
	require.NoError(t, err)
	assert.InDelta(t, 25, req.Mask.Area(), 1e-9)

	_, err = (&Resolver{Defaults: defaults, NoFiles: true}).Resolve(context.Background(), f)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
