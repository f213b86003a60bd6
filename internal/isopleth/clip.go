package isopleth

import (
	"math"
	"slices"

	"github.com/sells-group/potentials/internal/spatial"
)

// snapFactor scales the resolution into the distance under which two points
// are treated as one during noding.
const snapFactor = 1e-9

// Mask fragments are classified by the surface just left of them. The sample
// sits off the midpoint so it does not land on lattice lines or nodes of
// masks drawn on the lattice, and sideFactor scales the resolution into the
// offset into the region.
const (
	sampleAt   = 0.3819660112501051
	sideFactor = 1e-7
)

// Square inside/outside status for squares no mask edge touches.
const (
	squareBoundary int8 = iota
	squareInside
	squareOutside
)

// segment is a directed boundary segment; the region lies on its left.
type segment struct {
	a, b spatial.Vec
}

type splitPoint struct {
	t float64
	p spatial.Vec
}

// clipper holds the mask data shared by every band of one extraction. It is
// read-only after construction.
type clipper struct {
	r      *Raster
	mask   *spatial.Mask
	segs   []segment
	index  map[int][]int
	status []int8
	tol    float64
}

func newClipper(r *Raster, mask *spatial.Mask) *clipper {
	c := &clipper{
		r:     r,
		mask:  mask,
		index: make(map[int][]int),
		tol:   r.Resolution * snapFactor,
	}
	for _, ring := range mask.Rings() {
		for i := range ring {
			c.segs = append(c.segs, segment{a: ring[i], b: ring[(i+1)%len(ring)]})
		}
	}
	for id, s := range c.segs {
		c.register(id, s)
	}
	c.classifySquares()
	return c
}

// register records the mask segment in every lattice square its bounding
// box comes within one square of, row by row.
func (c *clipper) register(id int, s segment) {
	sc, sr := c.r.squares()
	res := c.r.Resolution
	minY, maxY := math.Min(s.a.Y, s.b.Y), math.Max(s.a.Y, s.b.Y)
	r0 := max(0, int(math.Floor((minY-c.r.OriginY)/res))-1)
	r1 := min(sr-1, int(math.Floor((maxY-c.r.OriginY)/res))+1)
	for row := r0; row <= r1; row++ {
		ylo := c.r.nodeY(row) - res
		yhi := c.r.nodeY(row+1) + res
		xlo, xhi, ok := xRangeWithin(s, ylo, yhi)
		if !ok {
			continue
		}
		c0 := max(0, int(math.Floor((xlo-c.r.OriginX)/res))-1)
		c1 := min(sc-1, int(math.Floor((xhi-c.r.OriginX)/res))+1)
		for col := c0; col <= c1; col++ {
			sq := row*sc + col
			c.index[sq] = append(c.index[sq], id)
		}
	}
}

// xRangeWithin returns the x extent of the part of s with ylo <= y <= yhi.
func xRangeWithin(s segment, ylo, yhi float64) (float64, float64, bool) {
	if s.a.Y == s.b.Y {
		if s.a.Y < ylo || s.a.Y > yhi {
			return 0, 0, false
		}
		return math.Min(s.a.X, s.b.X), math.Max(s.a.X, s.b.X), true
	}
	t0 := (ylo - s.a.Y) / (s.b.Y - s.a.Y)
	t1 := (yhi - s.a.Y) / (s.b.Y - s.a.Y)
	if t0 > t1 {
		t0, t1 = t1, t0
	}
	t0, t1 = math.Max(t0, 0), math.Min(t1, 1)
	if t0 > t1 {
		return 0, 0, false
	}
	x0 := s.a.X + t0*(s.b.X-s.a.X)
	x1 := s.a.X + t1*(s.b.X-s.a.X)
	return math.Min(x0, x1), math.Max(x0, x1), true
}

// classifySquares marks squares without mask edges as wholly inside or
// outside, scanning each row's center line with the even-odd rule.
func (c *clipper) classifySquares() {
	sc, sr := c.r.squares()
	c.status = make([]int8, sc*sr)
	var xs []float64
	for row := 0; row < sr; row++ {
		y := c.r.OriginY + (float64(row)+0.5)*c.r.Resolution
		xs = xs[:0]
		for _, s := range c.segs {
			if (s.a.Y > y) != (s.b.Y > y) {
				xs = append(xs, s.a.X+(y-s.a.Y)*(s.b.X-s.a.X)/(s.b.Y-s.a.Y))
			}
		}
		slices.Sort(xs)
		k := 0
		for col := 0; col < sc; col++ {
			x := c.r.OriginX + (float64(col)+0.5)*c.r.Resolution
			for k < len(xs) && xs[k] <= x {
				k++
			}
			sq := row*sc + col
			switch {
			case len(c.index[sq]) > 0:
				c.status[sq] = squareBoundary
			case k%2 == 1:
				c.status[sq] = squareInside
			default:
				c.status[sq] = squareOutside
			}
		}
	}
}

// clip intersects the band boundary with the mask and returns the boundary
// of band ∩ mask as directed segments.
func (c *clipper) clip(edges []bandEdge, lo, hi float64) []segment {
	bandSplits := make([][]splitPoint, len(edges))
	maskSplits := make(map[int][]splitPoint)
	for i, e := range edges {
		for _, id := range c.index[e.square] {
			ms := c.segs[id]
			for _, x := range intersect(e.a, e.b, ms.a, ms.b, c.tol) {
				bandSplits[i] = append(bandSplits[i], splitPoint{t: param(e.a, e.b, x), p: x})
				maskSplits[id] = append(maskSplits[id], splitPoint{t: param(ms.a, ms.b, x), p: x})
			}
		}
	}

	type maskFrag struct {
		segment
		used bool
	}
	var maskFrags []maskFrag
	lookup := make(map[segment]int)
	for id, s := range c.segs {
		for _, f := range fragments(s, maskSplits[id]) {
			lookup[f] = len(maskFrags)
			maskFrags = append(maskFrags, maskFrag{segment: f})
		}
	}

	var out []segment
	for i, e := range edges {
		for _, f := range fragments(segment{a: e.a, b: e.b}, bandSplits[i]) {
			if j, ok := lookup[f]; ok {
				// Same direction: both regions lie on the left.
				maskFrags[j].used = true
				out = append(out, f)
				continue
			}
			if j, ok := lookup[segment{a: f.b, b: f.a}]; ok {
				// Opposite direction: the regions only touch.
				maskFrags[j].used = true
				continue
			}
			if c.inside(e.square, midpoint(f)) {
				out = append(out, f)
			}
		}
	}
	for _, f := range maskFrags {
		if f.used {
			continue
		}
		v := c.leftValue(f.segment)
		if !math.IsNaN(v) && v > lo && v <= hi {
			out = append(out, f.segment)
		}
	}
	return out
}

// leftValue samples the surface just left of s, inside the region s bounds.
// A fragment lying on a line where the surface equals a break takes the class
// of that region rather than of the line.
func (c *clipper) leftValue(s segment) float64 {
	dx, dy := s.b.X-s.a.X, s.b.Y-s.a.Y
	l := math.Hypot(dx, dy)
	p := spatial.Vec{X: s.a.X + sampleAt*dx, Y: s.a.Y + sampleAt*dy}
	if l == 0 {
		return c.r.ValueAt(p.X, p.Y)
	}
	d := math.Min(c.r.Resolution*sideFactor, l*1e-3)
	return c.r.ValueAt(p.X-dy/l*d, p.Y+dx/l*d)
}

// maxInside returns the largest surface value over evaluated nodes inside
// the mask and mask vertices on the evaluated squares, or NaN if there is none.
func (c *clipper) maxInside() float64 {
	out := math.NaN()
	keep := func(v float64) {
		if !math.IsNaN(v) && (math.IsNaN(out) || v > out) {
			out = v
		}
	}
	sc, sr := c.r.squares()
	for row := 0; row < c.r.NRows; row++ {
		for col := 0; col < c.r.NCols; col++ {
			v := c.r.at(row, col)
			if math.IsNaN(v) || (!math.IsNaN(out) && v <= out) {
				continue
			}
			if c.nodeInside(row, col, sc, sr) {
				keep(v)
			}
		}
	}
	for _, s := range c.segs {
		keep(c.r.ValueAt(s.a.X, s.a.Y))
	}
	return out
}

// nodeInside tests a node against the mask, using the status of the
// surrounding squares when one of them is wholly inside or all are outside.
func (c *clipper) nodeInside(row, col, sc, sr int) bool {
	allOutside := true
	for _, d := range [4][2]int{{-1, -1}, {-1, 0}, {0, -1}, {0, 0}} {
		r, cc := row+d[0], col+d[1]
		if r < 0 || cc < 0 || r >= sr || cc >= sc {
			continue
		}
		switch c.status[r*sc+cc] {
		case squareInside:
			return true
		case squareBoundary:
			allOutside = false
		}
	}
	if allOutside {
		return false
	}
	return c.mask.Contains(c.r.nodeX(col), c.r.nodeY(row))
}

func (c *clipper) inside(square int, p spatial.Vec) bool {
	switch c.status[square] {
	case squareInside:
		return true
	case squareOutside:
		return false
	default:
		return c.mask.Contains(p.X, p.Y)
	}
}

// fragments splits s at the given points, in order along s.
func fragments(s segment, splits []splitPoint) []segment {
	if len(splits) == 0 {
		return []segment{s}
	}
	slices.SortStableFunc(splits, func(x, y splitPoint) int {
		switch {
		case x.t < y.t:
			return -1
		case x.t > y.t:
			return 1
		default:
			return 0
		}
	})
	out := make([]segment, 0, len(splits)+1)
	prev := s.a
	for _, sp := range splits {
		if sp.p == prev || sp.p == s.a || sp.p == s.b {
			continue
		}
		out = append(out, segment{a: prev, b: sp.p})
		prev = sp.p
	}
	return append(out, segment{a: prev, b: s.b})
}

// intersect returns the points where segments pq and ab meet. Collinear
// overlaps yield the overlap endpoints. Points within tol of an endpoint are
// snapped onto it, preferring p and q.
func intersect(p, q, a, b spatial.Vec, tol float64) []spatial.Vec {
	r := spatial.Vec{X: q.X - p.X, Y: q.Y - p.Y}
	s := spatial.Vec{X: b.X - a.X, Y: b.Y - a.Y}
	rl, sl := math.Hypot(r.X, r.Y), math.Hypot(s.X, s.Y)
	if rl == 0 || sl == 0 {
		return nil
	}
	ap := spatial.Vec{X: a.X - p.X, Y: a.Y - p.Y}
	denom := cross(r, s)

	if math.Abs(denom) <= 1e-12*rl*sl {
		if math.Abs(cross(r, ap))/rl > tol {
			return nil
		}
		var out []spatial.Vec
		for _, v := range [2]spatial.Vec{p, q} {
			if onSegment(v, a, b, tol) {
				out = append(out, v)
			}
		}
		for _, v := range [2]spatial.Vec{a, b} {
			if onSegment(v, p, q, tol) && v != p && v != q {
				out = append(out, v)
			}
		}
		return out
	}

	t := cross(ap, s) / denom
	u := cross(ap, r) / denom
	if t < -tol/rl || t > 1+tol/rl || u < -tol/sl || u > 1+tol/sl {
		return nil
	}
	x := spatial.Vec{X: p.X + t*r.X, Y: p.Y + t*r.Y}
	for _, v := range [4]spatial.Vec{p, q, a, b} {
		if math.Hypot(x.X-v.X, x.Y-v.Y) <= tol {
			return []spatial.Vec{v}
		}
	}
	return []spatial.Vec{x}
}

func onSegment(v, a, b spatial.Vec, tol float64) bool {
	if math.Hypot(v.X-a.X, v.Y-a.Y) <= tol || math.Hypot(v.X-b.X, v.Y-b.Y) <= tol {
		return true
	}
	t := param(a, b, v)
	return t > 0 && t < 1
}

// param projects v onto the line ab, returning 0 at a and 1 at b.
func param(a, b, v spatial.Vec) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	return ((v.X-a.X)*dx + (v.Y-a.Y)*dy) / (dx*dx + dy*dy)
}

func cross(u, v spatial.Vec) float64 { return u.X*v.Y - u.Y*v.X }

func midpoint(s segment) spatial.Vec {
	return spatial.Vec{X: (s.a.X + s.b.X) / 2, Y: (s.a.Y + s.b.Y) / 2}
}
