// Package export writes engine results: isopleth bands as GeoJSON or
// PostGIS rows, and potential tables as XLSX workbooks or PostGIS rows.
package export

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/potentials/internal/isopleth"
)

// BandFeatures converts bands to a GeoJSON feature collection. Each feature
// carries the band interval as properties; bands without geometry are
// skipped.
func BandFeatures(bands []isopleth.Band) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(bands))}
	for _, b := range bands {
		if b.Geometry == nil {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       strconv.Itoa(b.Class),
			Geometry: b.Geometry,
			Properties: map[string]any{
				"class":  b.Class,
				"lower":  b.Lower,
				"upper":  b.Upper,
				"center": b.Center,
			},
		})
	}
	return fc
}

// MarshalBands encodes bands as a GeoJSON FeatureCollection.
func MarshalBands(bands []isopleth.Band) ([]byte, error) {
	data, err := json.Marshal(BandFeatures(bands))
	if err != nil {
		return nil, eris.Wrap(err, "export: marshal geojson")
	}
	return data, nil
}

// WriteGeoJSON writes bands to path as a GeoJSON FeatureCollection.
func WriteGeoJSON(path string, bands []isopleth.Band) error {
	data, err := MarshalBands(bands)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}
