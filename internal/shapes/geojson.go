package shapes

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/potentials/internal/spatial"
)

// ReadGeoJSONMask reads a mask from a GeoJSON file holding a FeatureCollection,
// a Feature or a bare Polygon or MultiPolygon geometry. Every polygonal
// geometry found is part of the mask; other geometries are ignored.
func ReadGeoJSONMask(path string) (*spatial.Mask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapes: read %s", path)
	}
	return ParseGeoJSONMask(data)
}

// ParseGeoJSONMask is ReadGeoJSONMask over an in-memory document.
func ParseGeoJSONMask(data []byte) (*spatial.Mask, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "shapes: geojson: %v", err)
	}

	var geoms []geom.T
	switch probe.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter, "shapes: geojson: %v", err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter, "shapes: geojson: %v", err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter, "shapes: geojson: %v", err)
		}
		geoms = append(geoms, g)
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, g := range geoms {
		switch g := g.(type) {
		case *geom.Polygon:
			if err := mp.Push(flat2D(g)); err != nil {
				return nil, eris.Wrap(err, "shapes: geojson polygon")
			}
		case *geom.MultiPolygon:
			for i := 0; i < g.NumPolygons(); i++ {
				if err := mp.Push(flat2D(g.Polygon(i))); err != nil {
					return nil, eris.Wrap(err, "shapes: geojson multipolygon")
				}
			}
		}
	}
	if mp.NumPolygons() == 0 {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "shapes: geojson has no polygons")
	}
	return spatial.NewMask(mp)
}

// flat2D drops any Z or M ordinates.
func flat2D(p *geom.Polygon) *geom.Polygon {
	if p.Layout() == geom.XY {
		return p
	}
	var flat []float64
	ends := make([]int, 0, p.NumLinearRings())
	for r := 0; r < p.NumLinearRings(); r++ {
		ring := p.LinearRing(r)
		for i := 0; i < ring.NumCoords(); i++ {
			c := ring.Coord(i)
			flat = append(flat, c.X(), c.Y())
		}
		ends = append(ends, len(flat))
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}
