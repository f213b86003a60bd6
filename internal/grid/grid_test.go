package grid

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/potentials/internal/spatial"
)

func square10km(t *testing.T) *spatial.Mask {
	t.Helper()
	m, err := spatial.RectMask(500000, 6000000, 510000, 6010000)
	require.NoError(t, err)
	return m
}

func TestGenerate_TenKilometerSquare(t *testing.T) {
	g, err := Generate(context.Background(), square10km(t), 1000)
	require.NoError(t, err)

	assert.Equal(t, 10, g.Lattice.NCols)
	assert.Equal(t, 10, g.Lattice.NRows)
	assert.Equal(t, 100, g.Lattice.Len())
	require.Len(t, g.Cells, 100)

	first := g.Cells[0]
	assert.Equal(t, "r0c0", first.ID)
	assert.Equal(t, 500500.0, first.X)
	assert.Equal(t, 6000500.0, first.Y)
	assert.Equal(t, 1000.0, first.Size)
	assert.Equal(t, spatial.CellKind, first.Kind)

	// Row-major: second cell is the next column in row 0.
	assert.Equal(t, "r0c1", g.Cells[1].ID)
	assert.Equal(t, "r1c0", g.Cells[10].ID)
	assert.Equal(t, "r9c9", g.Cells[99].ID)
}

func TestGenerate_MaskFiltering(t *testing.T) {
	// Right triangle: roughly half the lattice centers fall inside.
	tri := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 10.2, 0, 0, 10.2, 0, 0}, []int{8})
	m, err := spatial.NewMask(tri)
	require.NoError(t, err)

	g, err := Generate(context.Background(), m, 1)
	require.NoError(t, err)
	assert.Equal(t, 121, g.Lattice.Len())
	// Centers (c+0.5, r+0.5) with c+r+1 <= 10.2 -> 55 cells.
	assert.Len(t, g.Cells, 55)
	for _, c := range g.Cells {
		assert.LessOrEqual(t, c.X+c.Y, 10.2)
	}
}

func TestGenerate_Buffer(t *testing.T) {
	m, err := spatial.RectMask(0, 0, 10, 10)
	require.NoError(t, err)

	plain, err := Generate(context.Background(), m, 3)
	require.NoError(t, err)
	// ceil(10/3) = 4 columns; centers at 1.5, 4.5, 7.5, 10.5.
	assert.Equal(t, 4, plain.Lattice.NCols)
	assert.Len(t, plain.Cells, 9)

	// One padding cell per side: centers at -1.5 ... 13.5. The right column
	// and top row sit 0.5 outside; the corner is ~0.71 away.
	buffered, err := Generate(context.Background(), m, 3, WithBuffer(0.6))
	require.NoError(t, err)
	assert.Equal(t, 6, buffered.Lattice.NCols)
	assert.Equal(t, 6, buffered.Lattice.NRows)
	assert.InDelta(t, -3, buffered.Lattice.OriginX, 1e-12)
	assert.Len(t, buffered.Cells, 15)
}

func TestGenerate_BufferReachesPastBounds(t *testing.T) {
	m, err := spatial.RectMask(0, 0, 10, 10)
	require.NoError(t, err)

	// A 1.2-cell buffer pads two cells per side and keeps the ring of
	// centers half a cell outside the mask on every edge, left and bottom too.
	g, err := Generate(context.Background(), m, 1, WithBuffer(1.2))
	require.NoError(t, err)
	assert.Equal(t, 14, g.Lattice.NCols)
	assert.Len(t, g.Cells, 144)

	minX, minY := g.Cells[0].X, g.Cells[0].Y
	for _, c := range g.Cells {
		minX, minY = min(minX, c.X), min(minY, c.Y)
	}
	assert.InDelta(t, -0.5, minX, 1e-12)
	assert.InDelta(t, -0.5, minY, 1e-12)
}

func TestGenerate_Deterministic(t *testing.T) {
	hole := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 20, 0, 20, 20, 0, 20, 0, 0,
		5, 5, 15, 5, 15, 15, 5, 15, 5, 5,
	}, []int{10, 20})
	m, err := spatial.NewMask(hole)
	require.NoError(t, err)

	a, err := Generate(context.Background(), m, 0.7, WithWorkers(1))
	require.NoError(t, err)
	b, err := Generate(context.Background(), m, 0.7, WithWorkers(8))
	require.NoError(t, err)
	assert.Equal(t, a.Cells, b.Cells)
}

func TestGenerate_Errors(t *testing.T) {
	m := square10km(t)

	_, err := Generate(context.Background(), m, 0)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

	_, err = Generate(context.Background(), m, -5)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

	_, err = Generate(context.Background(), m, 1000, WithBuffer(-1))
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

	_, err = Generate(context.Background(), nil, 1000)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

	_, err = Generate(context.Background(), m, 1)
	assert.True(t, eris.Is(err, spatial.ErrResourceLimitExceeded))

	_, err = Generate(context.Background(), m, 1000, WithMaxCells(99))
	assert.True(t, eris.Is(err, spatial.ErrResourceLimitExceeded))
}

func TestLattice_Indexing(t *testing.T) {
	l := Lattice{OriginX: 10, OriginY: 20, Resolution: 2, NCols: 4, NRows: 3}
	assert.Equal(t, 12, l.Len())
	assert.Equal(t, 6, l.Index(1, 2))

	row, col := l.Position(6)
	assert.Equal(t, 1, row)
	assert.Equal(t, 2, col)

	x, y := l.Center(1, 2)
	assert.Equal(t, 15.0, x)
	assert.Equal(t, 23.0, y)

	assert.True(t, l.InBounds(2, 3))
	assert.False(t, l.InBounds(3, 0))
	assert.False(t, l.InBounds(0, -1))
}
