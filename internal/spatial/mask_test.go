package spatial

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func squareWithHole() *geom.Polygon {
	// Exterior given clockwise and hole counter-clockwise on purpose.
	return geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 0, 10, 10, 10, 10, 0, 0, 0,
		4, 4, 6, 4, 6, 6, 4, 6, 4, 4,
	}, []int{10, 20})
}

func TestNewMask_NormalizesOrientation(t *testing.T) {
	m, err := NewMask(squareWithHole())
	require.NoError(t, err)

	rings := m.Rings()
	require.Len(t, rings, 2)
	assert.Greater(t, SignedArea(rings[0]), 0.0, "exterior must be CCW")
	assert.Less(t, SignedArea(rings[1]), 0.0, "hole must be CW")
	assert.InDelta(t, 96.0, m.Area(), 1e-9)
}

func TestMask_Contains(t *testing.T) {
	m, err := NewMask(squareWithHole())
	require.NoError(t, err)

	tests := []struct {
		name string
		x, y float64
		want bool
	}{
		{"interior", 1, 1, true},
		{"in hole", 5, 5, false},
		{"outside", 11, 5, false},
		{"between hole and edge", 8, 8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Contains(tt.x, tt.y))
		})
	}
}

func TestMask_DistanceToBoundary(t *testing.T) {
	m, err := RectMask(0, 0, 10, 10)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.DistanceToBoundary(11, 5), 1e-12)
	assert.InDelta(t, 2.0, m.DistanceToBoundary(5, 2), 1e-12)
}

func TestNewMask_MultiPolygonBounds(t *testing.T) {
	mp := geom.NewMultiPolygonFlat(geom.XY, []float64{
		0, 0, 1, 0, 1, 1, 0, 1, 0, 0,
		5, 5, 7, 5, 7, 8, 5, 8, 5, 5,
	}, [][]int{{10}, {20}})

	m, err := NewMask(mp)
	require.NoError(t, err)
	assert.Equal(t, BBox{MinX: 0, MinY: 0, MaxX: 7, MaxY: 8}, m.Bounds())
	assert.True(t, m.Contains(6, 6))
	assert.False(t, m.Contains(3, 3))
}

func TestNewMask_Rejects(t *testing.T) {
	_, err := NewMask(nil)
	assert.True(t, eris.Is(err, ErrInvalidParameter))

	_, err = NewMask(geom.NewPointFlat(geom.XY, []float64{1, 2}))
	assert.True(t, eris.Is(err, ErrInvalidParameter))

	flat := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 1, 2, 2, 0, 0}, []int{8})
	_, err = NewMask(flat)
	assert.True(t, eris.Is(err, ErrInvalidParameter))
}

func TestCheckCoordinates(t *testing.T) {
	assert.NoError(t, CheckCoordinates(Planar, []float64{500000}, []float64{6500000}))
	err := CheckCoordinates(Geographic, []float64{500000}, []float64{45})
	assert.True(t, eris.Is(err, ErrInvalidReferenceFrame))
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame("geographic")
	require.NoError(t, err)
	assert.Equal(t, Geographic, f)

	_, err = ParseFrame("mercator")
	assert.True(t, eris.Is(err, ErrInvalidReferenceFrame))
}

func TestCellTargetID(t *testing.T) {
	c := CellTarget(3, 7, 1.5, 2.5, 1)
	assert.Equal(t, "r3c7", c.ID)
	assert.Equal(t, CellKind, c.Kind)
}
