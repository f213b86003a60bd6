// Package spatial holds the data model shared by the potential engine: points,
// stocks, evaluation targets, study-area masks and the caller-error kinds.
package spatial

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

// Frame identifies the coordinate reference frame of a point set.
type Frame int

// Supported frames. Planar coordinates are projected units (meters);
// geographic coordinates are longitude/latitude degrees.
const (
	Planar Frame = iota
	Geographic
)

// String implements fmt.Stringer.
func (f Frame) String() string {
	switch f {
	case Planar:
		return "planar"
	case Geographic:
		return "geographic"
	default:
		return fmt.Sprintf("frame(%d)", int(f))
	}
}

// ParseFrame maps a configuration string to a Frame.
func ParseFrame(s string) (Frame, error) {
	switch s {
	case "", "planar", "projected":
		return Planar, nil
	case "geographic", "lonlat", "degrees":
		return Geographic, nil
	default:
		return Planar, eris.Wrapf(ErrInvalidReferenceFrame, "spatial: unknown frame %q", s)
	}
}

// Point is a 2D coordinate with a stable identifier. For geographic frames X is
// longitude and Y is latitude.
type Point struct {
	ID string  `json:"id" yaml:"id"`
	X  float64 `json:"x" yaml:"x"`
	Y  float64 `json:"y" yaml:"y"`
}

// KnownPoint is a source point carrying one or more non-negative stocks.
type KnownPoint struct {
	Point  `yaml:",inline"`
	Stocks map[string]float64 `json:"stocks" yaml:"stocks"`
}

// Stock returns the named stock and whether it is present.
func (k KnownPoint) Stock(name string) (float64, bool) {
	v, ok := k.Stocks[name]
	return v, ok
}

// PointSet is a slice of known points tagged with their frame.
type PointSet struct {
	Frame  Frame
	Points []KnownPoint
}

// Coordinates returns the bare points of the set.
func (s PointSet) Coordinates() []Point {
	out := make([]Point, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Point
	}
	return out
}

// TargetKind tags the evaluation-target variant.
type TargetKind int

// Target variants.
const (
	PointKind TargetKind = iota
	CellKind
)

// Target is an evaluation target: either a discrete point or a grid cell center.
// Cell targets additionally carry their size and lattice position.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
	X    float64    `json:"x"`
	Y    float64    `json:"y"`
	Size float64    `json:"size,omitempty"`
	Row  int        `json:"row,omitempty"`
	Col  int        `json:"col,omitempty"`
}

// PointTarget wraps a point as an evaluation target.
func PointTarget(p Point) Target {
	return Target{Kind: PointKind, ID: p.ID, X: p.X, Y: p.Y}
}

// CellTarget builds a grid-cell target at lattice position (row, col).
func CellTarget(row, col int, x, y, size float64) Target {
	return Target{
		Kind: CellKind,
		ID:   fmt.Sprintf("r%dc%d", row, col),
		X:    x,
		Y:    y,
		Size: size,
		Row:  row,
		Col:  col,
	}
}

// TargetSet is a slice of evaluation targets tagged with their frame.
type TargetSet struct {
	Frame   Frame
	Targets []Target
}

// PointTargets converts a point slice into a target set.
func PointTargets(frame Frame, pts []Point) TargetSet {
	ts := make([]Target, len(pts))
	for i, p := range pts {
		ts[i] = PointTarget(p)
	}
	return TargetSet{Frame: frame, Targets: ts}
}

// CheckCoordinates validates that every coordinate is finite and, for the
// geographic frame, within longitude/latitude range.
func CheckCoordinates(frame Frame, xs, ys []float64) error {
	for i := range xs {
		x, y := xs[i], ys[i]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return eris.Wrapf(ErrInvalidReferenceFrame, "spatial: non-finite coordinate (%v, %v)", x, y)
		}
		if frame == Geographic && (x < -180 || x > 180 || y < -90 || y > 90) {
			return eris.Wrapf(ErrInvalidReferenceFrame, "spatial: coordinate (%v, %v) outside geographic range", x, y)
		}
	}
	return nil
}
