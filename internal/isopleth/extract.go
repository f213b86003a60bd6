// Package isopleth turns a raster of potential values into filled contour
// polygons, one multipolygon per class interval, clipped to a mask.
//
// Each lattice square is split into four triangles around its center, whose
// value is the mean of the four corners. The surface is linear on every
// triangle, so the part of a triangle inside a class interval is a convex
// polygon cut exactly. Pieces of one class are merged by cancelling shared
// directed edges, clipped against the mask boundary and stitched into rings.
//
// Class i covers (b[i], b[i+1]]; the first class is open below and the last
// open above. A value equal to a break belongs to the lower class, and so does
// a flat area at a break value.
package isopleth

import (
	"context"
	"math"
	"runtime"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/potentials/internal/classify"
	"github.com/sells-group/potentials/internal/spatial"
)

// Band is the isopleth polygon of one class interval.
type Band struct {
	Class    int                `json:"class"`
	Lower    float64            `json:"lower"`
	Upper    float64            `json:"upper"`
	Center   float64            `json:"center"`
	Geometry *geom.MultiPolygon `json:"-"`
}

// Option configures Extract.
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers bounds the number of bands extracted concurrently.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Extract builds one band per non-empty class interval of breaks, clipped to
// mask. A nil mask disables clipping. Bands are returned in class order; a
// mask that does not overlap the raster extent yields no bands. The last
// band's Upper is the largest value of the surface within the mask.
func Extract(ctx context.Context, r *Raster, breaks []float64, mask *spatial.Mask, opts ...Option) ([]Band, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := classify.Validate(breaks); err != nil {
		return nil, eris.Wrap(err, "isopleth: breaks")
	}

	bands := []Band{}
	sc, sr := r.squares()
	if sc < 1 || sr < 1 {
		return bands, nil
	}
	if mask != nil && !r.extent().Intersects(mask.Bounds()) {
		return bands, nil
	}
	top := r.maxValue()
	if math.IsNaN(top) {
		return bands, nil
	}

	var clip *clipper
	if mask != nil {
		clip = newClipper(r, mask)
		if m := clip.maxInside(); !math.IsNaN(m) {
			top = m
		}
	}

	n := len(breaks) - 1
	results := make([]*geom.MultiPolygon, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lo, hi := math.Inf(-1), math.Inf(1)
			if i > 0 {
				lo = breaks[i]
			}
			if i < n-1 {
				hi = breaks[i+1]
			}
			edges := bandEdges(r, lo, hi)
			var segs []segment
			if clip != nil {
				segs = clip.clip(edges, lo, hi)
			} else {
				segs = make([]segment, len(edges))
				for j, e := range edges {
					segs[j] = segment{a: e.a, b: e.b}
				}
			}
			rings, err := stitch(segs)
			if err != nil {
				return eris.Wrapf(err, "isopleth: class %d", i)
			}
			results[i], err = assemble(rings)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "isopleth: extract")
	}

	for i, mp := range results {
		if mp == nil || mp.NumPolygons() == 0 {
			continue
		}
		upper := breaks[i+1]
		if i == n-1 {
			upper = top
		}
		bands = append(bands, Band{
			Class:    i,
			Lower:    breaks[i],
			Upper:    upper,
			Center:   (breaks[i] + upper) / 2,
			Geometry: mp,
		})
	}
	return bands, nil
}

// bandEdge is a directed boundary edge of the band region, tagged with the
// lattice square it lies in.
type bandEdge struct {
	a, b   spatial.Vec
	square int
}

type edgeKey struct{ a, b spatial.Vec }

type edgeRec struct {
	seq    int
	square int
}

// edgeSet merges convex pieces by cancelling opposite directed edges. Only
// unmatched edges are held; seq restores insertion order at the end.
type edgeSet struct {
	open map[edgeKey]edgeRec
	seq  int
}

func (s *edgeSet) add(a, b spatial.Vec, square int) {
	rev := edgeKey{a: b, b: a}
	if _, ok := s.open[rev]; ok {
		delete(s.open, rev)
		return
	}
	s.open[edgeKey{a: a, b: b}] = edgeRec{seq: s.seq, square: square}
	s.seq++
}

func (s *edgeSet) edges() []bandEdge {
	type seqEdge struct {
		bandEdge
		seq int
	}
	all := make([]seqEdge, 0, len(s.open))
	for k, rec := range s.open {
		all = append(all, seqEdge{bandEdge: bandEdge{a: k.a, b: k.b, square: rec.square}, seq: rec.seq})
	}
	slices.SortFunc(all, func(x, y seqEdge) int { return x.seq - y.seq })
	out := make([]bandEdge, len(all))
	for i, e := range all {
		out[i] = e.bandEdge
	}
	return out
}

// bandEdges cuts every evaluated triangle to [lo, hi] and returns the
// boundary of the union of the pieces, counter-clockwise around the band.
func bandEdges(r *Raster, lo, hi float64) []bandEdge {
	set := &edgeSet{open: make(map[edgeKey]edgeRec)}
	sc, sr := r.squares()
	var pts [3]spatial.Vec
	var vals [3]float64
	piece := make([]spatial.Vec, 0, 8)

	for row := 0; row < sr; row++ {
		y0, y1 := r.nodeY(row), r.nodeY(row+1)
		yc := r.OriginY + (float64(row)+0.5)*r.Resolution
		for col := 0; col < sc; col++ {
			v00, v10 := r.at(row, col), r.at(row, col+1)
			v11, v01 := r.at(row+1, col+1), r.at(row+1, col)
			if math.IsNaN(v00) || math.IsNaN(v10) || math.IsNaN(v11) || math.IsNaN(v01) {
				continue
			}
			x0, x1 := r.nodeX(col), r.nodeX(col+1)
			xc := r.OriginX + (float64(col)+0.5)*r.Resolution
			vc := (v00 + v10 + v11 + v01) / 4

			corners := [4]spatial.Vec{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
			cvals := [4]float64{v00, v10, v11, v01}
			square := row*sc + col
			for t := 0; t < 4; t++ {
				pts = [3]spatial.Vec{corners[t], corners[(t+1)%4], {X: xc, Y: yc}}
				vals = [3]float64{cvals[t], cvals[(t+1)%4], vc}
				piece = cutTriangle(piece[:0], pts, vals, lo, hi)
				if len(piece) < 3 || spatial.SignedArea(piece) <= 0 {
					continue
				}
				for i := range piece {
					set.add(piece[i], piece[(i+1)%len(piece)], square)
				}
			}
		}
	}
	return set.edges()
}

// cutTriangle appends to dst the counter-clockwise polygon
// {p in triangle : lo <= f(p) <= hi}. Triangles lying at or below lo are
// left to the lower class.
func cutTriangle(dst []spatial.Vec, pts [3]spatial.Vec, vals [3]float64, lo, hi float64) []spatial.Vec {
	vmin := math.Min(vals[0], math.Min(vals[1], vals[2]))
	vmax := math.Max(vals[0], math.Max(vals[1], vals[2]))
	if vmax <= lo || vmin > hi {
		return dst
	}
	emit := func(p spatial.Vec) {
		if n := len(dst); n > 0 && dst[n-1] == p {
			return
		}
		dst = append(dst, p)
	}
	for i := 0; i < 3; i++ {
		j := (i + 1) % 3
		va, vb := vals[i], vals[j]
		if va >= lo && va <= hi {
			emit(pts[i])
		}
		switch {
		case va < vb:
			if lo > va && lo < vb {
				emit(crossing(pts[i], va, pts[j], vb, lo))
			}
			if hi > va && hi < vb {
				emit(crossing(pts[i], va, pts[j], vb, hi))
			}
		case va > vb:
			if hi < va && hi > vb {
				emit(crossing(pts[i], va, pts[j], vb, hi))
			}
			if lo < va && lo > vb {
				emit(crossing(pts[i], va, pts[j], vb, lo))
			}
		}
	}
	if n := len(dst); n > 1 && dst[0] == dst[n-1] {
		dst = dst[:n-1]
	}
	return dst
}

// crossing interpolates where the edge reaches level. Endpoints are ordered
// first so both triangles sharing an edge get the identical point.
func crossing(pa spatial.Vec, va float64, pb spatial.Vec, vb float64, level float64) spatial.Vec {
	if pb.X < pa.X || (pb.X == pa.X && pb.Y < pa.Y) {
		pa, pb = pb, pa
		va, vb = vb, va
	}
	t := (level - va) / (vb - va)
	return spatial.Vec{X: pa.X + t*(pb.X-pa.X), Y: pa.Y + t*(pb.Y-pa.Y)}
}
