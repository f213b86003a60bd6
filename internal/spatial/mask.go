package spatial

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Vec is a bare 2D coordinate used by the geometry routines.
type Vec struct {
	X, Y float64
}

// BBox is an axis-aligned bounding box.
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Width returns the x extent of the box.
func (b BBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns the y extent of the box.
func (b BBox) Height() float64 { return b.MaxY - b.MinY }

// Contains reports whether (x, y) lies in the closed box.
func (b BBox) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Intersects reports whether two boxes overlap with positive area.
func (b BBox) Intersects(o BBox) bool {
	return b.MinX < o.MaxX && o.MinX < b.MaxX && b.MinY < o.MaxY && o.MinY < b.MaxY
}

// maskPolygon is one part of a mask: an exterior ring followed by holes.
// Rings are open (no repeated closing vertex); flat holds the closed XY form
// for go-geom's ring predicates.
type maskPolygon struct {
	rings [][]Vec
	flat  [][]float64
	bbox  BBox
}

// Mask is a study-area boundary. Exterior rings are stored counter-clockwise
// and holes clockwise regardless of the input orientation.
type Mask struct {
	parts []maskPolygon
	bbox  BBox
	geom  *geom.MultiPolygon
}

// NewMask builds a mask from a *geom.Polygon or *geom.MultiPolygon.
func NewMask(g geom.T) (*Mask, error) {
	var polys []*geom.Polygon
	switch t := g.(type) {
	case *geom.Polygon:
		polys = append(polys, t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			polys = append(polys, t.Polygon(i))
		}
	case nil:
		return nil, eris.Wrap(ErrInvalidParameter, "spatial: mask geometry is nil")
	default:
		return nil, eris.Wrapf(ErrInvalidParameter, "spatial: mask must be polygonal, got %T", g)
	}

	m := &Mask{bbox: BBox{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}}
	for pi, p := range polys {
		part, err := newMaskPolygon(p)
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: mask polygon %d", pi)
		}
		if part == nil {
			continue
		}
		m.parts = append(m.parts, *part)
		m.bbox.MinX = math.Min(m.bbox.MinX, part.bbox.MinX)
		m.bbox.MinY = math.Min(m.bbox.MinY, part.bbox.MinY)
		m.bbox.MaxX = math.Max(m.bbox.MaxX, part.bbox.MaxX)
		m.bbox.MaxY = math.Max(m.bbox.MaxY, part.bbox.MaxY)
	}
	if len(m.parts) == 0 {
		return nil, eris.Wrap(ErrInvalidParameter, "spatial: mask has no polygon with positive area")
	}
	m.geom = m.buildGeometry()
	return m, nil
}

// RectMask is a convenience constructor for an axis-aligned rectangular mask.
func RectMask(minX, minY, maxX, maxY float64) (*Mask, error) {
	p := geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY,
	}, []int{10})
	return NewMask(p)
}

func newMaskPolygon(p *geom.Polygon) (*maskPolygon, error) {
	stride := p.Layout().Stride()
	part := &maskPolygon{}
	for ri := 0; ri < p.NumLinearRings(); ri++ {
		flat := p.LinearRing(ri).FlatCoords()
		ring := make([]Vec, 0, len(flat)/stride)
		for i := 0; i+1 < len(flat); i += stride {
			v := Vec{X: flat[i], Y: flat[i+1]}
			if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) {
				return nil, eris.Wrap(ErrInvalidReferenceFrame, "spatial: non-finite mask coordinate")
			}
			if n := len(ring); n > 0 && ring[n-1] == v {
				continue
			}
			ring = append(ring, v)
		}
		if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
			ring = ring[:len(ring)-1]
		}
		area := SignedArea(ring)
		if len(ring) < 3 || area == 0 {
			if ri == 0 {
				// Degenerate exterior: the whole part is dropped.
				return nil, nil
			}
			continue
		}
		wantCCW := ri == 0
		if (area > 0) != wantCCW {
			Reverse(ring)
		}
		part.rings = append(part.rings, ring)
		part.flat = append(part.flat, closedFlat(ring))
	}
	if len(part.rings) == 0 {
		return nil, nil
	}
	part.bbox = ringBBox(part.rings[0])
	return part, nil
}

// Bounds returns the bounding box of the mask.
func (m *Mask) Bounds() BBox { return m.bbox }

// Geometry returns the normalized mask as a go-geom multipolygon.
func (m *Mask) Geometry() *geom.MultiPolygon { return m.geom }

// Area returns the planar area of the mask.
func (m *Mask) Area() float64 { return m.geom.Area() }

// Contains reports whether (x, y) lies inside the mask. Points on an exterior
// ring count as inside, points on a hole ring as outside.
func (m *Mask) Contains(x, y float64) bool {
	if !m.bbox.Contains(x, y) {
		return false
	}
	c := geom.Coord{x, y}
	for _, part := range m.parts {
		if !part.bbox.Contains(x, y) {
			continue
		}
		if !xy.IsPointInRing(geom.XY, c, part.flat[0]) {
			continue
		}
		inHole := false
		for _, hole := range part.flat[1:] {
			if xy.IsPointInRing(geom.XY, c, hole) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// DistanceToBoundary returns the distance from (x, y) to the nearest mask ring.
func (m *Mask) DistanceToBoundary(x, y float64) float64 {
	c := geom.Coord{x, y}
	best := math.Inf(1)
	for _, part := range m.parts {
		for _, ring := range part.flat {
			if d := xy.DistanceFromPointToLineString(geom.XY, c, ring); d < best {
				best = d
			}
		}
	}
	return best
}

// Rings returns every normalized ring (exteriors CCW, holes CW) as open
// vertex sequences. The returned slices must not be modified.
func (m *Mask) Rings() [][]Vec {
	var out [][]Vec
	for _, part := range m.parts {
		out = append(out, part.rings...)
	}
	return out
}

func (m *Mask) buildGeometry() *geom.MultiPolygon {
	var flat []float64
	var endss [][]int
	for _, part := range m.parts {
		var ends []int
		for _, ring := range part.flat {
			flat = append(flat, ring...)
			ends = append(ends, len(flat))
		}
		endss = append(endss, ends)
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}

// SignedArea returns the shoelace area of an open ring: positive when the ring
// is counter-clockwise.
func SignedArea(ring []Vec) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum / 2
}

// Reverse reverses a ring in place.
func Reverse(ring []Vec) {
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
}

func closedFlat(ring []Vec) []float64 {
	flat := make([]float64, 0, 2*len(ring)+2)
	for _, v := range ring {
		flat = append(flat, v.X, v.Y)
	}
	return append(flat, ring[0].X, ring[0].Y)
}

func ringBBox(ring []Vec) BBox {
	b := BBox{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, v := range ring {
		b.MinX = math.Min(b.MinX, v.X)
		b.MinY = math.Min(b.MinY, v.Y)
		b.MaxX = math.Max(b.MaxX, v.X)
		b.MaxY = math.Max(b.MaxY, v.Y)
	}
	return b
}
