package shapes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/potentials/internal/isopleth"
	"github.com/sells-group/potentials/internal/spatial"
)

func writePoints(t *testing.T, path string) {
	t.Helper()
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("GEOID", 10),
		shp.FloatField("POP", 16, 2),
		shp.FloatField("JOBS", 16, 2),
	}))
	rows := []struct {
		id        string
		x, y      float64
		pop, jobs float64
	}{
		{"06001", 100, 200, 1500, 300},
		{"06003", 5000, 2500, 20.5, 0},
	}
	for _, r := range rows {
		n := int(w.Write(&shp.Point{X: r.x, Y: r.y}))
		require.NoError(t, w.WriteAttribute(n, 0, r.id))
		require.NoError(t, w.WriteAttribute(n, 1, r.pop))
		require.NoError(t, w.WriteAttribute(n, 2, r.jobs))
	}
	w.Close()
}

func TestReadPoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.shp")
	writePoints(t, path)

	pts, err := ReadPoints(path, PointSpec{IDField: "geoid", Stocks: []string{"pop", "JOBS"}})
	require.NoError(t, err)
	require.Len(t, pts, 2)

	assert.Equal(t, "06001", pts[0].ID)
	assert.Equal(t, 100.0, pts[0].X)
	assert.Equal(t, 200.0, pts[0].Y)
	assert.InDelta(t, 1500, pts[0].Stocks["pop"], 1e-9)
	assert.InDelta(t, 300, pts[0].Stocks["JOBS"], 1e-9)
	assert.Equal(t, "06003", pts[1].ID)
	assert.InDelta(t, 20.5, pts[1].Stocks["pop"], 1e-9)
}

func TestReadPoints_NumberedWithoutIDField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.shp")
	writePoints(t, path)

	pts, err := ReadPoints(path, PointSpec{Stocks: []string{"pop"}})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, "1", pts[0].ID)
	assert.Equal(t, "2", pts[1].ID)
}

func TestReadPoints_MissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.shp")
	writePoints(t, path)

	_, err := ReadPoints(path, PointSpec{IDField: "geoid", Stocks: []string{"gdp"}})
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

	_, err = ReadPoints(path, PointSpec{IDField: "fips", Stocks: []string{"pop"}})
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))
}

func TestReadPoints_OpenError(t *testing.T) {
	_, err := ReadPoints(filepath.Join(t.TempDir(), "missing.shp"), PointSpec{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open shapefile")
}

func holedBand(t *testing.T) isopleth.Band {
	t.Helper()
	// Counter-clockwise exterior, clockwise hole, as the extractor emits them.
	mp := geom.NewMultiPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		3, 3, 3, 6, 6, 6, 6, 3, 3, 3,
		20, 0, 22, 0, 22, 2, 20, 2, 20, 0,
	}, [][]int{{10, 20}, {30}})
	return isopleth.Band{Class: 2, Lower: 1.5, Upper: 4, Center: 2.75, Geometry: mp}
}

func TestWriteBands_ReadMaskRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bands.shp")
	require.NoError(t, WriteBands(path, []isopleth.Band{holedBand(t)}))

	mask, err := ReadMask(path)
	require.NoError(t, err)
	assert.InDelta(t, 100-9+4, mask.Area(), 1e-9)
	assert.True(t, mask.Contains(1, 1))
	assert.False(t, mask.Contains(4, 4))
	assert.True(t, mask.Contains(21, 1))
	assert.Equal(t, spatial.BBox{MinX: 0, MinY: 0, MaxX: 22, MaxY: 10}, mask.Bounds())

	r, err := shp.Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	require.True(t, r.Next())
	assert.Equal(t, "2", attribute(r, 0))

	// Exteriors are written clockwise.
	_, shape := r.Shape()
	poly, ok := shape.(*shp.Polygon)
	require.True(t, ok)
	assert.Equal(t, int32(3), poly.NumParts)
	ring := make([]spatial.Vec, 0, 5)
	for _, p := range poly.Points[:5] {
		ring = append(ring, spatial.Vec{X: p.X, Y: p.Y})
	}
	assert.Less(t, spatial.SignedArea(ring[:4]), 0.0)
}

func TestReadMask_NoPolygons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.shp")
	writePoints(t, path)

	_, err := ReadMask(path)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))
}

func TestPolygonParts_NestingWithoutOrientation(t *testing.T) {
	// Both rings counter-clockwise: nesting alone decides the hole.
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}, {X: 0, Y: 0}},
		{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}},
	}))
	parts := polygonParts(&poly)
	require.Len(t, parts, 1)
	assert.Equal(t, 2, parts[0].NumLinearRings())
	mask, err := spatial.NewMask(parts[0])
	require.NoError(t, err)
	assert.InDelta(t, 96, mask.Area(), 1e-9)
}

func TestLocation_PolygonCentroid(t *testing.T) {
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 0}, {X: 0, Y: 0}},
	}))
	x, y, ok := location(&poly)
	require.True(t, ok)
	assert.InDelta(t, 1, x, 1e-9)
	assert.InDelta(t, 2, y, 1e-9)

	_, _, ok = location(&shp.PolyLine{})
	assert.False(t, ok)
}

func TestEWKB(t *testing.T) {
	band := holedBand(t)
	data, err := EncodeEWKB(band.Geometry, 3857)
	require.NoError(t, err)
	assert.Equal(t, 0, band.Geometry.SRID())

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 3857, g.SRID())

	mask, err := DecodeMask(data)
	require.NoError(t, err)
	assert.InDelta(t, 95, mask.Area(), 1e-9)

	_, err = DecodeMask(nil)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

	_, err = EncodeEWKB(nil, 4326)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))
}

func TestReadPoints_CodePage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 12), shp.FloatField("POP", 16, 2)}))
	n := int(w.Write(&shp.Point{X: 1, Y: 2}))
	require.NoError(t, w.WriteAttribute(n, 0, "Bogot\xe1"))
	require.NoError(t, w.WriteAttribute(n, 1, 7.5e6))
	w.Close()
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "places.cpg"), []byte("ANSI 1252\n"), 0o644))

	pts, err := ReadPoints(path, PointSpec{IDField: "name", Stocks: []string{"pop"}})
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, "Bogotá", pts[0].ID)
}

func TestCodePageLabel(t *testing.T) {
	tests := map[string]string{
		"":             "utf-8",
		"UTF-8\r\n":    "utf-8",
		"1252":         "windows-1252",
		"ANSI 1251":    "windows-1251",
		"88591":        "iso-8859-1",
		"8859-15":      "iso-8859-15",
		"Windows-1250": "windows-1250",
	}
	for raw, want := range tests {
		assert.Equal(t, want, codePageLabel(raw), raw)
	}
}
