package isopleth

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/potentials/internal/spatial"
)

// ErrBrokenRings reports band boundaries that do not assemble into closed,
// nested rings. It marks an internal failure, never bad input.
var ErrBrokenRings = eris.New("broken contour rings")

// stitch links directed segments into closed rings. Where several segments
// leave one vertex, the sharpest left turn is taken, which keeps regions that
// only touch at a point in separate rings. A chain that cannot be closed is an
// error: dropping it would leave a gap in the bands.
func stitch(segs []segment) ([][]spatial.Vec, error) {
	out := make(map[spatial.Vec][]int, len(segs))
	for i, s := range segs {
		out[s.a] = append(out[s.a], i)
	}
	used := make([]bool, len(segs))

	var rings [][]spatial.Vec
	for start := range segs {
		if used[start] {
			continue
		}
		used[start] = true
		origin := segs[start].a
		ring := []spatial.Vec{origin}
		cur := segs[start]
		closed := false
		for {
			if cur.b == origin {
				closed = true
				break
			}
			next := pickNext(segs, out[cur.b], used, cur)
			if next < 0 {
				break
			}
			used[next] = true
			ring = append(ring, cur.b)
			cur = segs[next]
		}
		if !closed {
			return nil, eris.Wrapf(ErrBrokenRings, "isopleth: open chain of %d vertices from (%v, %v)",
				len(ring), origin.X, origin.Y)
		}
		if ring = simplify(ring); len(ring) >= 3 {
			rings = append(rings, ring)
		}
	}
	return rings, nil
}

// pickNext returns the unused candidate making the largest counter-clockwise
// turn from the incoming segment, or -1 if there is none.
func pickNext(segs []segment, candidates []int, used []bool, in segment) int {
	best, bestAngle := -1, math.Inf(-1)
	din := spatial.Vec{X: in.b.X - in.a.X, Y: in.b.Y - in.a.Y}
	for _, c := range candidates {
		if used[c] {
			continue
		}
		s := segs[c]
		dout := spatial.Vec{X: s.b.X - s.a.X, Y: s.b.Y - s.a.Y}
		angle := math.Atan2(cross(din, dout), din.X*dout.X+din.Y*dout.Y)
		if angle > bestAngle {
			best, bestAngle = c, angle
		}
	}
	return best
}

// simplify drops repeated, collinear and spike vertices from an open ring.
func simplify(ring []spatial.Vec) []spatial.Vec {
	out := make([]spatial.Vec, 0, len(ring))
	for _, v := range ring {
		out = append(out, v)
		for n := len(out); n >= 3 && removable(out[n-3], out[n-2], out[n-1]); n = len(out) {
			out[n-2] = out[n-1]
			out = out[:n-1]
		}
	}
	for len(out) >= 3 {
		n := len(out)
		if removable(out[n-2], out[n-1], out[0]) {
			out = out[:n-1]
			continue
		}
		if removable(out[n-1], out[0], out[1]) {
			out = out[1:]
			continue
		}
		break
	}
	if len(out) < 3 || spatial.SignedArea(out) == 0 {
		return nil
	}
	return out
}

// removable reports whether b adds nothing between a and c: a repeat, a
// straight continuation or a spike back along the same line.
func removable(a, b, c spatial.Vec) bool {
	u := spatial.Vec{X: b.X - a.X, Y: b.Y - a.Y}
	v := spatial.Vec{X: c.X - b.X, Y: c.Y - b.Y}
	return cross(u, v) == 0
}

// assemble classifies rings into outers (counter-clockwise) and holes
// (clockwise) and returns them as a multipolygon. Each hole goes to the outer
// containing most of its vertices, the smaller outer on ties.
func assemble(rings [][]spatial.Vec) (*geom.MultiPolygon, error) {
	type outer struct {
		flat  []float64
		area  float64
		holes [][]float64
	}
	var outers []*outer
	var holes [][]spatial.Vec
	for _, ring := range rings {
		a := spatial.SignedArea(ring)
		switch {
		case a > 0:
			outers = append(outers, &outer{flat: closedFlat(ring), area: a})
		case a < 0:
			holes = append(holes, ring)
		}
	}

	for _, h := range holes {
		var best *outer
		bestCount := 0
		for _, o := range outers {
			count := 0
			for _, v := range h {
				if xy.IsPointInRing(geom.XY, geom.Coord{v.X, v.Y}, o.flat) {
					count++
				}
			}
			if count > bestCount || (count == bestCount && count > 0 && o.area < best.area) {
				best, bestCount = o, count
			}
		}
		if best == nil {
			return nil, eris.Wrapf(ErrBrokenRings, "isopleth: hole of %d vertices from (%v, %v) has no outer ring",
				len(h), h[0].X, h[0].Y)
		}
		best.holes = append(best.holes, closedFlat(h))
	}

	mp := geom.NewMultiPolygon(geom.XY)
	if len(outers) == 0 {
		return mp, nil
	}
	var flat []float64
	endss := make([][]int, 0, len(outers))
	for _, o := range outers {
		flat = append(flat, o.flat...)
		ends := []int{len(flat)}
		for _, h := range o.holes {
			flat = append(flat, h...)
			ends = append(ends, len(flat))
		}
		endss = append(endss, ends)
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss), nil
}

func closedFlat(ring []spatial.Vec) []float64 {
	flat := make([]float64, 0, 2*len(ring)+2)
	for _, v := range ring {
		flat = append(flat, v.X, v.Y)
	}
	return append(flat, ring[0].X, ring[0].Y)
}
