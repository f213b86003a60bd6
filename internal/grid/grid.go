// Package grid tiles a study-area mask into a regular lattice of square cells
// and keeps the cells whose centers fall inside the mask.
package grid

import (
	"context"
	"math"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/potentials/internal/spatial"
)

// DefaultMaxCells bounds the lattice size when no explicit limit is set.
const DefaultMaxCells = 4_000_000

// edgeTolerance absorbs floating-point noise when the extent is an exact
// multiple of the resolution.
const edgeTolerance = 1e-9

// Lattice describes the full regular lattice covering the mask bounding box,
// widened by whole cells when a buffer is set.
// Cell (row, col) is centered at (OriginX + (col+0.5)*Resolution,
// OriginY + (row+0.5)*Resolution); row 0 is the southernmost row.
type Lattice struct {
	OriginX    float64 `json:"origin_x"`
	OriginY    float64 `json:"origin_y"`
	Resolution float64 `json:"resolution"`
	NCols      int     `json:"n_cols"`
	NRows      int     `json:"n_rows"`
}

// Len returns the number of lattice cells.
func (l Lattice) Len() int { return l.NCols * l.NRows }

// Index maps a lattice position to its row-major index.
func (l Lattice) Index(row, col int) int { return row*l.NCols + col }

// Position maps a row-major index back to (row, col).
func (l Lattice) Position(idx int) (row, col int) { return idx / l.NCols, idx % l.NCols }

// Center returns the center coordinate of a lattice cell.
func (l Lattice) Center(row, col int) (x, y float64) {
	return l.OriginX + (float64(col)+0.5)*l.Resolution, l.OriginY + (float64(row)+0.5)*l.Resolution
}

// InBounds reports whether (row, col) lies within the lattice.
func (l Lattice) InBounds(row, col int) bool {
	return row >= 0 && row < l.NRows && col >= 0 && col < l.NCols
}

// Grid is a generated set of cells in row-major order.
type Grid struct {
	Lattice Lattice
	Cells   []spatial.Target
}

// Targets wraps the cells as an evaluation target set.
func (g *Grid) Targets(frame spatial.Frame) spatial.TargetSet {
	return spatial.TargetSet{Frame: frame, Targets: g.Cells}
}

// Option configures Generate.
type Option func(*options)

type options struct {
	buffer   float64
	maxCells int
	workers  int
}

// WithBuffer also keeps cells whose center lies outside the mask but within
// d of its boundary. The lattice grows by ceil(d/resolution) cells on every
// side so those cells exist past the mask bounding box.
func WithBuffer(d float64) Option {
	return func(o *options) { o.buffer = d }
}

// WithMaxCells overrides DefaultMaxCells.
func WithMaxCells(n int) Option {
	return func(o *options) { o.maxCells = n }
}

// WithWorkers bounds the number of goroutines testing cell centers.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Generate tiles the mask bounding box at the given resolution, padded by the
// buffer if one is set. The output is
// deterministic: identical mask and resolution yield identical cell order.
func Generate(ctx context.Context, mask *spatial.Mask, resolution float64, opts ...Option) (*Grid, error) {
	o := options{maxCells: DefaultMaxCells}
	for _, fn := range opts {
		fn(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	if mask == nil {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "grid: mask is required")
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "grid: resolution must be positive, got %v", resolution)
	}
	if o.buffer < 0 || math.IsNaN(o.buffer) {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "grid: buffer must be non-negative, got %v", o.buffer)
	}

	box := mask.Bounds()
	if o.buffer > 0 {
		box = grow(box, math.Ceil(o.buffer/resolution-edgeTolerance)*resolution)
	}
	lat, err := NewLattice(box, resolution, o.maxCells)
	if err != nil {
		return nil, err
	}

	keep := make([]bool, lat.Len())
	reach := grow(mask.Bounds(), o.buffer)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for row := 0; row < lat.NRows; row++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for col := 0; col < lat.NCols; col++ {
				x, y := lat.Center(row, col)
				if !reach.Contains(x, y) {
					continue
				}
				keep[lat.Index(row, col)] = mask.Contains(x, y) ||
					(o.buffer > 0 && mask.DistanceToBoundary(x, y) <= o.buffer)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "grid: generate")
	}

	out := &Grid{Lattice: lat}
	for idx, ok := range keep {
		if !ok {
			continue
		}
		row, col := lat.Position(idx)
		x, y := lat.Center(row, col)
		out.Cells = append(out.Cells, spatial.CellTarget(row, col, x, y, resolution))
	}

	zap.L().With(zap.String("component", "grid")).Debug("generated grid",
		zap.Int("cols", lat.NCols),
		zap.Int("rows", lat.NRows),
		zap.Int("kept", len(out.Cells)),
		zap.Float64("resolution", resolution),
	)
	return out, nil
}

// NewLattice computes the lattice covering bbox at resolution, failing with
// ErrResourceLimitExceeded when it would exceed maxCells.
func NewLattice(bbox spatial.BBox, resolution float64, maxCells int) (Lattice, error) {
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return Lattice{}, eris.Wrapf(spatial.ErrInvalidParameter, "grid: resolution must be positive, got %v", resolution)
	}
	cols := cellsAcross(bbox.Width(), resolution)
	rows := cellsAcross(bbox.Height(), resolution)
	if maxCells > 0 && cols*rows > float64(maxCells) {
		return Lattice{}, eris.Wrapf(spatial.ErrResourceLimitExceeded,
			"grid: %.0f x %.0f cells at resolution %v exceeds limit %d", cols, rows, resolution, maxCells)
	}
	return Lattice{
		OriginX:    bbox.MinX,
		OriginY:    bbox.MinY,
		Resolution: resolution,
		NCols:      int(cols),
		NRows:      int(rows),
	}, nil
}

func grow(b spatial.BBox, d float64) spatial.BBox {
	return spatial.BBox{MinX: b.MinX - d, MinY: b.MinY - d, MaxX: b.MaxX + d, MaxY: b.MaxY + d}
}

func cellsAcross(extent, resolution float64) float64 {
	return math.Max(1, math.Ceil(extent/resolution-edgeTolerance))
}
