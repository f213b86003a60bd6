// Package engine wires the potential stages into one request: grid
// generation, distance matrix, decay, accumulation, classification and, in
// raster mode, isopleth extraction. A request either completes or fails as a
// whole; no partial result is returned.
package engine

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/potentials/internal/classify"
	"github.com/sells-group/potentials/internal/decay"
	"github.com/sells-group/potentials/internal/distance"
	"github.com/sells-group/potentials/internal/grid"
	"github.com/sells-group/potentials/internal/isopleth"
	"github.com/sells-group/potentials/internal/metrics"
	"github.com/sells-group/potentials/internal/potential"
	"github.com/sells-group/potentials/internal/spatial"
)

// Engine runs potential requests. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	cache    *distance.Cache
	metrics  *metrics.Metrics
	workers  int
	maxCells int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache reuses distance matrices across requests with identical points.
func WithCache(c *distance.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics records stage timings and request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithWorkers bounds the goroutines used by each parallel stage.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithMaxCells caps the raster lattice size.
func WithMaxCells(n int) Option {
	return func(e *Engine) { e.maxCells = n }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{maxCells: grid.DefaultMaxCells}
	for _, fn := range opts {
		fn(e)
	}
	return e
}

// Run executes one request.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		e.metrics.CountRequest("unknown", outcome(err))
		return nil, err
	}
	log := zap.L().With(zap.String("component", "engine"), zap.String("mode", string(mode)))

	res, err := e.run(ctx, &req, mode, log)
	e.metrics.CountRequest(string(mode), outcome(err))
	if err != nil {
		log.Warn("request failed", zap.Error(err))
		return nil, err
	}
	res.Stats.ElapsedMS = time.Since(start).Milliseconds()
	log.Info("request complete",
		zap.String("variable", res.Variable),
		zap.Int("known", res.Stats.Known),
		zap.Int("targets", res.Stats.Targets),
		zap.Int("bands", len(res.Bands)),
		zap.Bool("cache_hit", res.Stats.CacheHit),
		zap.Int64("elapsed_ms", res.Stats.ElapsedMS),
	)
	return res, nil
}

func (e *Engine) run(ctx context.Context, req *Request, mode Mode, log *zap.Logger) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	fn, err := decay.New(req.Decay)
	if err != nil {
		return nil, eris.Wrap(err, "engine: decay")
	}

	res := &Result{Mode: mode, Variable: req.ClassifiedVariable()}
	res.Stats.Known = len(req.Known.Points)

	var targets spatial.TargetSet
	switch mode {
	case ModeRaster:
		targets, err = e.rasterTargets(ctx, req, log)
		if err != nil {
			return nil, err
		}
		res.Stats.Cells = len(targets.Targets)
	default:
		targets, res.Stats.Excluded = discreteTargets(req)
		if len(targets.Targets) == 0 {
			return nil, eris.Wrap(spatial.ErrInvalidParameter, "engine: no targets inside the mask")
		}
	}
	res.Stats.Targets = len(targets.Targets)

	stop := e.metrics.Timer("distance")
	m, hit, err := e.distances(ctx, req, targets)
	if err != nil {
		return nil, err
	}
	res.Stats.CacheHit = hit
	log.Debug("distance matrix", zap.Int("targets", m.Targets()), zap.Int("known", m.Known()),
		zap.Stringer("metric", m.Metric()), zap.Bool("cache_hit", hit), zap.Duration("elapsed", stop()))

	stop = e.metrics.Timer("accumulate")
	surface, err := potential.Compute(ctx, req.Known.Points, req.Variables, m, fn,
		potential.WithLimit(req.Limit), potential.WithWorkers(e.workers))
	if err != nil {
		return nil, err
	}
	if req.Ratio != nil {
		if surface, err = withRatio(surface, req.Ratio); err != nil {
			return nil, err
		}
	}
	log.Debug("accumulated", zap.Strings("variables", surface.Variables()), zap.Duration("elapsed", stop()))
	res.Surface = surface

	stop = e.metrics.Timer("classify")
	values, err := surface.Values(res.Variable)
	if err != nil {
		return nil, err
	}
	if res.Breaks, err = req.deriveBreaks(values); err != nil {
		return nil, err
	}
	log.Debug("classified", zap.Float64s("breaks", res.Breaks), zap.Duration("elapsed", stop()))

	if mode == ModeDiscrete {
		if res.Table, err = surface.Table(res.Variable); err != nil {
			return nil, err
		}
		if res.Classes, err = classify.Assign(values, res.Breaks); err != nil {
			return nil, err
		}
		return res, nil
	}

	stop = e.metrics.Timer("isopleth")
	raster, err := isopleth.FromTargets(targets.Targets, values)
	if err != nil {
		return nil, err
	}
	if res.Bands, err = isopleth.Extract(ctx, raster, res.Breaks, req.Mask, isopleth.WithWorkers(e.workers)); err != nil {
		return nil, err
	}
	log.Debug("isopleths", zap.Int("bands", len(res.Bands)), zap.Duration("elapsed", stop()))
	return res, nil
}

// rasterTargets generates the evaluation grid over the request mask.
func (e *Engine) rasterTargets(ctx context.Context, req *Request, log *zap.Logger) (spatial.TargetSet, error) {
	buffer := req.Resolution * math.Sqrt2
	if req.Buffer != nil {
		buffer = *req.Buffer
	}
	stop := e.metrics.Timer("grid")
	g, err := grid.Generate(ctx, req.Mask, req.Resolution,
		grid.WithBuffer(buffer), grid.WithMaxCells(e.maxCells), grid.WithWorkers(e.workers))
	if err != nil {
		return spatial.TargetSet{}, err
	}
	if len(g.Cells) == 0 {
		return spatial.TargetSet{}, eris.Wrapf(spatial.ErrInvalidParameter,
			"engine: no grid cell at resolution %v falls inside the mask", req.Resolution)
	}
	e.metrics.SetGridCells(len(g.Cells))
	log.Debug("grid generated", zap.Int("cells", len(g.Cells)), zap.Int("lattice", g.Lattice.Len()),
		zap.Float64("buffer", buffer), zap.Duration("elapsed", stop()))
	return g.Targets(req.Known.Frame), nil
}

// discreteTargets returns the request targets, or the known points when none
// are given, minus those outside the mask.
func discreteTargets(req *Request) (spatial.TargetSet, int) {
	targets := req.Targets
	if len(targets.Targets) == 0 {
		targets = spatial.PointTargets(req.Known.Frame, req.Known.Coordinates())
	}
	if req.Mask == nil {
		return targets, 0
	}
	kept := make([]spatial.Target, 0, len(targets.Targets))
	for _, t := range targets.Targets {
		if req.Mask.Contains(t.X, t.Y) {
			kept = append(kept, t)
		}
	}
	return spatial.TargetSet{Frame: targets.Frame, Targets: kept}, len(targets.Targets) - len(kept)
}

func (e *Engine) distances(ctx context.Context, req *Request, targets spatial.TargetSet) (*distance.Matrix, bool, error) {
	opts := []distance.Option{distance.WithGeodesic(req.Geodesic), distance.WithWorkers(e.workers)}
	if e.cache == nil {
		m, err := distance.Build(ctx, req.Known, targets, opts...)
		return m, false, err
	}
	m, hit, err := e.cache.Build(ctx, req.Known, targets, opts...)
	if err != nil {
		return nil, false, err
	}
	e.metrics.CountCache(hit)
	e.metrics.SetCacheEntries(e.cache.Stats().Entries)
	return m, hit, nil
}

// withRatio adds the ratio variable to the surface. A zero scale means 1.
func withRatio(s *potential.Surface, r *Ratio) (*potential.Surface, error) {
	scale := r.Scale
	if scale == 0 {
		scale = 1
	}
	vals, err := s.Ratio(r.Numerator, r.Denominator, scale)
	if err != nil {
		return nil, err
	}
	return s.WithVariable(r.Name, vals)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case eris.Is(err, spatial.ErrResourceLimitExceeded):
		return "resource_limit"
	case spatial.IsCallerError(err):
		return "caller_error"
	default:
		return "error"
	}
}
