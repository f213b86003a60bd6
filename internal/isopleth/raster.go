package isopleth

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/potentials/internal/spatial"
)

// spacingTolerance is the relative tolerance when checking cell alignment.
const spacingTolerance = 1e-6

// Raster is a regular lattice of node values. Node (row, col) sits at
// (OriginX + col*Resolution, OriginY + row*Resolution); row 0 is the
// southernmost row. NaN marks a node that was not evaluated.
type Raster struct {
	OriginX    float64
	OriginY    float64
	Resolution float64
	NCols      int
	NRows      int
	Values     []float64
}

// Validate checks that the raster is a well-formed regular lattice.
func (r *Raster) Validate() error {
	if r == nil {
		return eris.Wrap(spatial.ErrInvalidGrid, "isopleth: raster is nil")
	}
	if !(r.Resolution > 0) || math.IsInf(r.Resolution, 0) {
		return eris.Wrapf(spatial.ErrInvalidGrid, "isopleth: resolution %v", r.Resolution)
	}
	if math.IsNaN(r.OriginX) || math.IsNaN(r.OriginY) || math.IsInf(r.OriginX, 0) || math.IsInf(r.OriginY, 0) {
		return eris.Wrap(spatial.ErrInvalidGrid, "isopleth: non-finite origin")
	}
	if r.NCols < 1 || r.NRows < 1 {
		return eris.Wrapf(spatial.ErrInvalidGrid, "isopleth: %d x %d lattice", r.NCols, r.NRows)
	}
	if len(r.Values) != r.NCols*r.NRows {
		return eris.Wrapf(spatial.ErrInvalidGrid,
			"isopleth: %d values for a %d x %d lattice", len(r.Values), r.NCols, r.NRows)
	}
	for i, v := range r.Values {
		if math.IsInf(v, 0) {
			return eris.Wrapf(spatial.ErrInvalidGrid, "isopleth: infinite value at node %d", i)
		}
	}
	return nil
}

// FromTargets assembles a raster from cell targets and their values. Every
// target must be a cell of one common size placed on a single regular lattice.
// Lattice positions without a target are NaN.
func FromTargets(targets []spatial.Target, values []float64) (*Raster, error) {
	if len(targets) == 0 {
		return nil, eris.Wrap(spatial.ErrInvalidGrid, "isopleth: no cells")
	}
	if len(values) != len(targets) {
		return nil, eris.Wrapf(spatial.ErrInvalidGrid, "isopleth: %d values for %d cells", len(values), len(targets))
	}

	size := targets[0].Size
	if !(size > 0) || math.IsInf(size, 0) {
		return nil, eris.Wrapf(spatial.ErrInvalidGrid, "isopleth: cell size %v", size)
	}
	minRow, minCol := targets[0].Row, targets[0].Col
	maxRow, maxCol := minRow, minCol
	for i, t := range targets {
		if t.Kind != spatial.CellKind {
			return nil, eris.Wrapf(spatial.ErrInvalidGrid, "isopleth: target %s is not a grid cell", t.ID)
		}
		if math.Abs(t.Size-size) > spacingTolerance*size {
			return nil, eris.Wrapf(spatial.ErrInvalidGrid, "isopleth: cell %d has size %v, expected %v", i, t.Size, size)
		}
		minRow, maxRow = min(minRow, t.Row), max(maxRow, t.Row)
		minCol, maxCol = min(minCol, t.Col), max(maxCol, t.Col)
	}

	t0 := targets[0]
	r := &Raster{
		OriginX:    t0.X - float64(t0.Col-minCol)*size,
		OriginY:    t0.Y - float64(t0.Row-minRow)*size,
		Resolution: size,
		NCols:      maxCol - minCol + 1,
		NRows:      maxRow - minRow + 1,
	}
	if float64(r.NCols)*float64(r.NRows) > float64(math.MaxInt32) {
		return nil, eris.Wrapf(spatial.ErrResourceLimitExceeded, "isopleth: %d x %d lattice", r.NCols, r.NRows)
	}
	r.Values = make([]float64, r.NCols*r.NRows)
	for i := range r.Values {
		r.Values[i] = math.NaN()
	}

	seen := make([]bool, len(r.Values))
	for i, t := range targets {
		row, col := t.Row-minRow, t.Col-minCol
		x, y := r.nodeX(col), r.nodeY(row)
		if math.Abs(t.X-x) > spacingTolerance*size || math.Abs(t.Y-y) > spacingTolerance*size {
			return nil, eris.Wrapf(spatial.ErrInvalidGrid,
				"isopleth: cell %s at (%v, %v) is off the lattice (expected (%v, %v))", t.ID, t.X, t.Y, x, y)
		}
		idx := row*r.NCols + col
		if seen[idx] {
			return nil, eris.Wrapf(spatial.ErrInvalidGrid, "isopleth: duplicate cell at row %d col %d", t.Row, t.Col)
		}
		seen[idx] = true
		r.Values[idx] = values[i]
	}
	return r, nil
}

func (r *Raster) nodeX(col int) float64 { return r.OriginX + float64(col)*r.Resolution }
func (r *Raster) nodeY(row int) float64 { return r.OriginY + float64(row)*r.Resolution }

func (r *Raster) at(row, col int) float64 { return r.Values[row*r.NCols+col] }

// squares returns the number of lattice squares per row and per column.
func (r *Raster) squares() (cols, rows int) { return r.NCols - 1, r.NRows - 1 }

// extent is the bounding box of the node centers.
func (r *Raster) extent() spatial.BBox {
	return spatial.BBox{
		MinX: r.OriginX,
		MinY: r.OriginY,
		MaxX: r.nodeX(r.NCols - 1),
		MaxY: r.nodeY(r.NRows - 1),
	}
}

// maxValue returns the largest evaluated node value, or NaN when none is.
func (r *Raster) maxValue() float64 {
	out := math.NaN()
	for _, v := range r.Values {
		if !math.IsNaN(v) && (math.IsNaN(out) || v > out) {
			out = v
		}
	}
	return out
}

// ValueAt interpolates the surface at (x, y) over the same triangulation the
// contouring uses. It returns NaN outside the evaluated squares.
func (r *Raster) ValueAt(x, y float64) float64 {
	sc, sr := r.squares()
	if sc < 1 || sr < 1 {
		return math.NaN()
	}
	fx := (x - r.OriginX) / r.Resolution
	fy := (y - r.OriginY) / r.Resolution
	if !(fx >= 0 && fy >= 0 && fx <= float64(sc) && fy <= float64(sr)) {
		return math.NaN()
	}
	col, row := min(int(fx), sc-1), min(int(fy), sr-1)
	v00, v10 := r.at(row, col), r.at(row, col+1)
	v11, v01 := r.at(row+1, col+1), r.at(row+1, col)
	if math.IsNaN(v00) || math.IsNaN(v10) || math.IsNaN(v11) || math.IsNaN(v01) {
		return math.NaN()
	}
	vc := (v00 + v10 + v11 + v01) / 4
	u, v := fx-float64(col), fy-float64(row)

	switch {
	case v <= u && u+v <= 1:
		return planeAt(u, v, 0, 0, v00, 1, 0, v10, 0.5, 0.5, vc)
	case v <= u:
		return planeAt(u, v, 1, 0, v10, 1, 1, v11, 0.5, 0.5, vc)
	case u+v <= 1:
		return planeAt(u, v, 0, 1, v01, 0, 0, v00, 0.5, 0.5, vc)
	default:
		return planeAt(u, v, 1, 1, v11, 0, 1, v01, 0.5, 0.5, vc)
	}
}

// planeAt evaluates the plane through three (x, y, z) points at (x, y). A flat
// triangle returns its value exactly, so a flat area at a break value stays
// in the lower class.
func planeAt(x, y, x1, y1, z1, x2, y2, z2, x3, y3, z3 float64) float64 {
	det := (y2-y3)*(x1-x3) + (x3-x2)*(y1-y3)
	l1 := ((y2-y3)*(x-x3) + (x3-x2)*(y-y3)) / det
	l2 := ((y3-y1)*(x-x3) + (x1-x3)*(y-y3)) / det
	return z3 + l1*(z1-z3) + l2*(z2-z3)
}
