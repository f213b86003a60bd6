// Package shapes reads known points and study-area masks from ESRI
// shapefiles and writes isopleth bands back out.
package shapes

import (
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/potentials/internal/isopleth"
	"github.com/sells-group/potentials/internal/spatial"
)

// Band attribute columns. DBF field names are limited to 10 characters.
const (
	fieldClass  = "CLASS"
	fieldLower  = "LOWER"
	fieldUpper  = "UPPER"
	fieldCenter = "CENTER"
)

// PointSpec names the attribute columns holding the point identifier and
// stock values. An empty IDField numbers records from 1.
type PointSpec struct {
	IDField string
	Stocks  []string
}

// ReadPoints loads known points from a point or polygon shapefile. Polygon
// records contribute their centroid. Every stock column must be present and
// numeric on every record. Identifiers are decoded with the charset named in
// the .cpg sidecar, if any.
func ReadPoints(path string, spec PointSpec) ([]spatial.KnownPoint, error) {
	dec, err := attributeDecoder(path)
	if err != nil {
		return nil, err
	}
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapes: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := fieldIndex(reader.Fields())
	idIdx := -1
	if spec.IDField != "" {
		i, ok := fieldIdx[strings.ToLower(spec.IDField)]
		if !ok {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter, "shapes: %s has no field %q", path, spec.IDField)
		}
		idIdx = i
	}
	stockIdx := make([]int, len(spec.Stocks))
	for i, name := range spec.Stocks {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter, "shapes: %s has no field %q", path, name)
		}
		stockIdx[i] = idx
	}

	var points []spatial.KnownPoint
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		x, y, ok := location(shape)
		if !ok {
			skipped++
			continue
		}

		id := strconv.Itoa(n + 1)
		if idIdx >= 0 {
			id = attribute(reader, idIdx)
			if dec != nil {
				if id, err = dec.String(id); err != nil {
					return nil, eris.Wrapf(err, "shapes: decode identifier of record %d", n+1)
				}
			}
		}
		stocks := make(map[string]float64, len(spec.Stocks))
		for i, name := range spec.Stocks {
			raw := attribute(reader, stockIdx[i])
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, eris.Wrapf(spatial.ErrInvalidParameter, "shapes: record %s field %s is %q", id, name, raw)
			}
			stocks[name] = v
		}
		points = append(points, spatial.KnownPoint{Point: spatial.Point{ID: id, X: x, Y: y}, Stocks: stocks})
	}

	if skipped > 0 {
		zap.L().Debug("shapes: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return points, nil
}

// ReadMask unions every polygon record of a shapefile into one mask.
func ReadMask(path string) (*spatial.Mask, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapes: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	mp := geom.NewMultiPolygon(geom.XY)
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			continue
		}
		for _, p := range polygonParts(poly) {
			if err := mp.Push(p); err != nil {
				return nil, eris.Wrapf(err, "shapes: %s", path)
			}
		}
	}
	if mp.NumPolygons() == 0 {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "shapes: %s has no polygons", path)
	}
	return spatial.NewMask(mp)
}

// WriteBands writes one polygon record per band, with class and interval
// attributes. Rings are written clockwise for exteriors as shapefiles expect.
func WriteBands(path string, bands []isopleth.Band) error {
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return eris.Wrapf(err, "shapes: create shapefile %s", path)
	}
	defer w.Close()

	if err := w.SetFields([]shp.Field{
		shp.NumberField(fieldClass, 4),
		shp.FloatField(fieldLower, 24, 8),
		shp.FloatField(fieldUpper, 24, 8),
		shp.FloatField(fieldCenter, 24, 8),
	}); err != nil {
		return eris.Wrap(err, "shapes: set fields")
	}

	for _, b := range bands {
		if b.Geometry == nil || b.Geometry.NumPolygons() == 0 {
			continue
		}
		poly := shp.Polygon(*shp.NewPolyLine(shapeParts(b.Geometry)))
		row := int(w.Write(&poly))
		for field, v := range []any{b.Class, b.Lower, b.Upper, b.Center} {
			if err := w.WriteAttribute(row, field, v); err != nil {
				return eris.Wrapf(err, "shapes: write attribute %d of band %d", field, b.Class)
			}
		}
	}
	return nil
}

func fieldIndex(fields []shp.Field) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		idx[strings.ToLower(name)] = i
	}
	return idx
}

func attribute(r *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(r.Attribute(idx), "\x00"))
}

// attributeDecoder reads the .cpg sidecar of a shapefile. A missing sidecar
// or a UTF-8 one needs no decoding and returns nil.
func attributeDecoder(path string) (*encoding.Decoder, error) {
	cpg := strings.TrimSuffix(path, filepath.Ext(path)) + ".cpg"
	data, err := os.ReadFile(cpg)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "shapes: read %s", cpg)
	}
	label := codePageLabel(string(data))
	if label == "" || label == "utf-8" {
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "shapes: unsupported code page %q in %s", strings.TrimSpace(string(data)), cpg)
	}
	return enc.NewDecoder(), nil
}

// codePageLabel maps ESRI code page names ("1252", "ANSI 1252", "88591") to
// WHATWG encoding labels.
func codePageLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "ansi ")
	switch {
	case s == "", s == "utf-8", s == "utf8", s == "65001":
		return "utf-8"
	case strings.HasPrefix(s, "8859"):
		return "iso-8859-" + strings.TrimPrefix(strings.TrimPrefix(s, "8859"), "-")
	}
	if _, err := strconv.Atoi(s); err == nil {
		return "windows-" + s
	}
	return s
}

// location returns the coordinate a record contributes as a known point.
func location(shape shp.Shape) (float64, float64, bool) {
	switch s := shape.(type) {
	case *shp.Point:
		return s.X, s.Y, true
	case *shp.PointZ:
		return s.X, s.Y, true
	case *shp.PointM:
		return s.X, s.Y, true
	case *shp.Polygon:
		parts := polygonParts(s)
		if len(parts) == 0 {
			return 0, 0, false
		}
		mp := geom.NewMultiPolygon(geom.XY)
		for _, p := range parts {
			if err := mp.Push(p); err != nil {
				return 0, 0, false
			}
		}
		c, err := xy.Centroid(mp)
		if err != nil || math.IsNaN(c[0]) || math.IsNaN(c[1]) {
			return 0, 0, false
		}
		return c[0], c[1], true
	default:
		return 0, 0, false
	}
}

// polygonParts groups the rings of a shapefile polygon into polygons. A ring
// nested inside an odd number of larger rings is a hole of the smallest
// exterior containing it; ring orientation is not trusted.
func polygonParts(p *shp.Polygon) []*geom.Polygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}
	type ring struct {
		flat  []float64
		area  float64
		outer int
	}
	var rings []ring
	for i := int32(0); i < p.NumParts; i++ {
		start, end := p.Parts[i], int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}
		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if n := len(flat); flat[0] != flat[n-2] || flat[1] != flat[n-1] {
			flat = append(flat, flat[0], flat[1])
		}
		area := math.Abs(geom.NewLinearRingFlat(geom.XY, flat).Area())
		if area == 0 {
			continue
		}
		rings = append(rings, ring{flat: flat, area: area})
	}
	slices.SortStableFunc(rings, func(a, b ring) int {
		switch {
		case a.area > b.area:
			return -1
		case a.area < b.area:
			return 1
		default:
			return 0
		}
	})

	var polys [][][]float64
	for i := range rings {
		probe := geom.Coord{rings[i].flat[0], rings[i].flat[1]}
		depth, owner := 0, -1
		for j := 0; j < i; j++ {
			if xy.IsPointInRing(geom.XY, probe, rings[j].flat) {
				depth++
				if rings[j].outer >= 0 {
					owner = rings[j].outer
				}
			}
		}
		if depth%2 == 0 || owner < 0 {
			rings[i].outer = len(polys)
			polys = append(polys, [][]float64{rings[i].flat})
			continue
		}
		rings[i].outer = -1
		polys[owner] = append(polys[owner], rings[i].flat)
	}

	out := make([]*geom.Polygon, 0, len(polys))
	for _, rs := range polys {
		var flat []float64
		ends := make([]int, 0, len(rs))
		for _, r := range rs {
			flat = append(flat, r...)
			ends = append(ends, len(flat))
		}
		out = append(out, geom.NewPolygonFlat(geom.XY, flat, ends))
	}
	return out
}

// shapeParts converts a multipolygon into shapefile ring parts, reversing
// every ring so exteriors run clockwise and holes counter-clockwise.
func shapeParts(mp *geom.MultiPolygon) [][]shp.Point {
	var parts [][]shp.Point
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for r := 0; r < poly.NumLinearRings(); r++ {
			flat := poly.LinearRing(r).FlatCoords()
			pts := make([]shp.Point, 0, len(flat)/2)
			for j := len(flat) - 2; j >= 0; j -= 2 {
				pts = append(pts, shp.Point{X: flat[j], Y: flat[j+1]})
			}
			parts = append(parts, pts)
		}
	}
	return parts
}
