// Package potential accumulates distance-weighted stocks into potential
// surfaces. Decay weights are evaluated once per matrix cell and shared by
// every stock variable.
package potential

import (
	"context"
	"math"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/potentials/internal/decay"
	"github.com/sells-group/potentials/internal/distance"
	"github.com/sells-group/potentials/internal/spatial"
)

// rowsPerTask is how many targets one worker accumulates per task.
const rowsPerTask = 256

// Row is one (target, output) pair of a discrete-mode table.
type Row struct {
	TargetID string  `json:"target_id"`
	Value    float64 `json:"value"`
}

// Surface maps every evaluation target to one output per stock variable.
// Surfaces are immutable once computed.
type Surface struct {
	variables []string
	targetIDs []string
	values    map[string][]float64
}

// Option configures Compute.
type Option func(*options)

type options struct {
	limit   float64
	workers int
}

// WithLimit drops contributions from known points farther than d. Zero
// disables the limit.
func WithLimit(d float64) Option {
	return func(o *options) { o.limit = d }
}

// WithWorkers bounds the number of goroutines.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Compute evaluates, for each target t and variable v,
//
//	Output(t, v) = sum over k of stock_k(v) * w(d(k, t))
//
// known must be in the matrix's column order.
func Compute(ctx context.Context, known []spatial.KnownPoint, variables []string, m *distance.Matrix, fn decay.Function, opts ...Option) (*Surface, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	if o.limit < 0 || math.IsNaN(o.limit) {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "potential: limit must be non-negative, got %v", o.limit)
	}
	if m == nil {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "potential: distance matrix is required")
	}
	if err := fn.Params().Validate(); err != nil {
		return nil, eris.Wrap(err, "potential: decay")
	}
	if len(variables) == 0 {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "potential: at least one variable is required")
	}
	if len(known) != m.Known() {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter,
			"potential: %d known points for a matrix with %d columns", len(known), m.Known())
	}
	ids := m.KnownIDs()
	for i, k := range known {
		if k.ID != ids[i] {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter,
				"potential: known point %d is %q, matrix column is %q", i, k.ID, ids[i])
		}
	}

	stocks, err := stockColumns(known, variables)
	if err != nil {
		return nil, err
	}

	nt, nk := m.Targets(), m.Known()
	out := make([][]float64, len(variables))
	for v := range out {
		out[v] = make([]float64, nt)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for start := 0; start < nt; start += rowsPerTask {
		end := min(start+rowsPerTask, nt)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			w := make([]float64, nk)
			for t := start; t < end; t++ {
				for k, d := range m.Row(t) {
					if o.limit > 0 && d > o.limit {
						w[k] = 0
						continue
					}
					w[k] = fn.At(d)
				}
				for v, col := range stocks {
					var sum float64
					for k, s := range col {
						if w[k] != 0 && s != 0 {
							sum += s * w[k]
						}
					}
					out[v][t] = sum
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "potential: compute")
	}

	s := &Surface{
		variables: append([]string(nil), variables...),
		targetIDs: m.TargetIDs(),
		values:    make(map[string][]float64, len(variables)),
	}
	for v, name := range variables {
		s.values[name] = out[v]
	}
	return s, nil
}

// stockColumns transposes the stocks into one column per variable.
func stockColumns(known []spatial.KnownPoint, variables []string) ([][]float64, error) {
	cols := make([][]float64, len(variables))
	seen := make(map[string]bool, len(variables))
	for v, name := range variables {
		if seen[name] {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter, "potential: duplicate variable %q", name)
		}
		seen[name] = true
		col := make([]float64, len(known))
		for k, p := range known {
			s, ok := p.Stock(name)
			switch {
			case !ok:
				return nil, eris.Wrapf(spatial.ErrInvalidParameter, "potential: %s has no stock %q", p.ID, name)
			case s < 0 || math.IsNaN(s) || math.IsInf(s, 0):
				return nil, eris.Wrapf(spatial.ErrInvalidParameter, "potential: %s stock %q is %v", p.ID, name, s)
			}
			col[k] = s
		}
		cols[v] = col
	}
	return cols, nil
}

// Variables returns the variable names in computation order.
func (s *Surface) Variables() []string { return s.variables }

// TargetIDs returns the target identifiers in matrix row order.
func (s *Surface) TargetIDs() []string { return s.targetIDs }

// Values returns the outputs of one variable in target order. The slice must
// not be modified.
func (s *Surface) Values(variable string) ([]float64, error) {
	vals, ok := s.values[variable]
	if !ok {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "potential: unknown variable %q", variable)
	}
	return vals, nil
}

// Table returns the (target id, output) pairs of one variable.
func (s *Surface) Table(variable string) ([]Row, error) {
	vals, err := s.Values(variable)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(vals))
	for i, v := range vals {
		rows[i] = Row{TargetID: s.targetIDs[i], Value: v}
	}
	return rows, nil
}

// Ratio returns scale * num / den per target. Targets whose denominator
// potential is zero get 0.
func (s *Surface) Ratio(num, den string, scale float64) ([]float64, error) {
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "potential: ratio scale %v", scale)
	}
	n, err := s.Values(num)
	if err != nil {
		return nil, err
	}
	d, err := s.Values(den)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(n))
	for i := range n {
		if d[i] > 0 {
			out[i] = scale * n[i] / d[i]
		}
	}
	return out, nil
}

// WithVariable returns a copy of the surface carrying an extra derived
// variable, such as a ratio.
func (s *Surface) WithVariable(name string, values []float64) (*Surface, error) {
	if _, ok := s.values[name]; ok {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "potential: variable %q already exists", name)
	}
	if len(values) != len(s.targetIDs) {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter,
			"potential: %d values for %d targets", len(values), len(s.targetIDs))
	}
	out := &Surface{
		variables: append(append([]string(nil), s.variables...), name),
		targetIDs: s.targetIDs,
		values:    make(map[string][]float64, len(s.values)+1),
	}
	for k, v := range s.values {
		out.values[k] = v
	}
	out.values[name] = append([]float64(nil), values...)
	return out, nil
}
