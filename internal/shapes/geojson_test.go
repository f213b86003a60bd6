package shapes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/potentials/internal/spatial"
)

func TestParseGeoJSONMask(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		area float64
	}{
		{
			name: "polygon",
			doc:  `{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,4],[0,4],[0,0]]]}`,
			area: 16,
		},
		{
			name: "feature with hole",
			doc: `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[
				[[0,0],[10,0],[10,10],[0,10],[0,0]],[[2,2],[2,4],[4,4],[4,2],[2,2]]]}}`,
			area: 96,
		},
		{
			name: "collection skips points",
			doc: `{"type":"FeatureCollection","features":[
				{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,1]}},
				{"type":"Feature","properties":{},"geometry":{"type":"MultiPolygon","coordinates":[
					[[[0,0],[1,0],[1,1],[0,1],[0,0]]],[[[5,5],[7,5],[7,7],[5,7],[5,5]]]]}}]}`,
			area: 5,
		},
		{
			name: "3d polygon",
			doc:  `{"type":"Polygon","coordinates":[[[0,0,1],[2,0,1],[2,2,1],[0,2,1],[0,0,1]]]}`,
			area: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask, err := ParseGeoJSONMask([]byte(tt.doc))
			require.NoError(t, err)
			assert.InDelta(t, tt.area, mask.Area(), 1e-9)
		})
	}
}

func TestParseGeoJSONMask_Errors(t *testing.T) {
	for _, doc := range []string{
		`not json`,
		`{"type":"Point","coordinates":[1,1]}`,
		`{"type":"FeatureCollection","features":[]}`,
	} {
		_, err := ParseGeoJSONMask([]byte(doc))
		assert.True(t, eris.Is(err, spatial.ErrInvalidParameter), doc)
	}
}

func TestReadGeoJSONMask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Polygon","coordinates":[[[0,0],[3,0],[3,3],[0,3],[0,0]]]}`), 0o644))

	mask, err := ReadGeoJSONMask(path)
	require.NoError(t, err)
	assert.True(t, mask.Contains(1, 1))

	_, err = ReadGeoJSONMask(filepath.Join(t.TempDir(), "none.geojson"))
	require.Error(t, err)
}
