// Package distance builds the rectangular distance matrices between known
// source points and evaluation targets.
package distance

import (
	"context"
	"math"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/potentials/internal/spatial"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371008.8

// rowsPerTask is how many target rows one worker fills per task.
const rowsPerTask = 256

// Metric identifies how a matrix was computed.
type Metric int

// Supported metrics.
const (
	Euclidean Metric = iota
	Haversine
	Supplied
)

// String implements fmt.Stringer.
func (m Metric) String() string {
	switch m {
	case Euclidean:
		return "euclidean"
	case Haversine:
		return "haversine"
	default:
		return "supplied"
	}
}

// Matrix holds distances with one row per evaluation target and one column per
// known point. Values are non-negative and never NaN.
type Matrix struct {
	knownIDs  []string
	targetIDs []string
	metric    Metric
	values    []float64
}

// NewMatrix wraps precomputed distances laid out row-major (target-major).
func NewMatrix(knownIDs, targetIDs []string, values []float64) (*Matrix, error) {
	if len(knownIDs) == 0 || len(targetIDs) == 0 {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "distance: known points and targets must be non-empty")
	}
	if len(values) != len(knownIDs)*len(targetIDs) {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter,
			"distance: got %d values for %d targets x %d known points", len(values), len(targetIDs), len(knownIDs))
	}
	for i, v := range values {
		if v < 0 || math.IsNaN(v) {
			return nil, eris.Wrapf(spatial.ErrInvalidDistance,
				"distance: value %v at target %s, known %s", v, targetIDs[i/len(knownIDs)], knownIDs[i%len(knownIDs)])
		}
	}
	return &Matrix{
		knownIDs:  append([]string(nil), knownIDs...),
		targetIDs: append([]string(nil), targetIDs...),
		metric:    Supplied,
		values:    append([]float64(nil), values...),
	}, nil
}

// Known returns the number of known points (columns).
func (m *Matrix) Known() int { return len(m.knownIDs) }

// Targets returns the number of evaluation targets (rows).
func (m *Matrix) Targets() int { return len(m.targetIDs) }

// KnownIDs returns the column identifiers.
func (m *Matrix) KnownIDs() []string { return m.knownIDs }

// TargetIDs returns the row identifiers.
func (m *Matrix) TargetIDs() []string { return m.targetIDs }

// Metric reports how the matrix was computed.
func (m *Matrix) Metric() Metric { return m.metric }

// At returns the distance between target row t and known column k.
func (m *Matrix) At(t, k int) float64 { return m.values[t*len(m.knownIDs)+k] }

// Row returns the distances from target t to every known point. The slice
// aliases the matrix and must not be modified.
func (m *Matrix) Row(t int) []float64 {
	n := len(m.knownIDs)
	return m.values[t*n : (t+1)*n]
}

// Option configures Build.
type Option func(*options)

type options struct {
	geodesic bool
	workers  int
}

// WithGeodesic enables great-circle distances for geographic point sets.
func WithGeodesic(on bool) Option {
	return func(o *options) { o.geodesic = on }
}

// WithWorkers bounds the number of goroutines. Zero or less uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Build computes the distance from every target to every known point.
// Planar sets use Euclidean distance; geographic sets require WithGeodesic and
// yield haversine distances in meters.
func Build(ctx context.Context, known spatial.PointSet, targets spatial.TargetSet, opts ...Option) (*Matrix, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}

	metric, err := resolveMetric(known.Frame, targets.Frame, o.geodesic)
	if err != nil {
		return nil, err
	}
	if len(known.Points) == 0 || len(targets.Targets) == 0 {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "distance: known points and targets must be non-empty")
	}

	kx := make([]float64, len(known.Points))
	ky := make([]float64, len(known.Points))
	knownIDs := make([]string, len(known.Points))
	for i, p := range known.Points {
		kx[i], ky[i], knownIDs[i] = p.X, p.Y, p.ID
	}
	tx := make([]float64, len(targets.Targets))
	ty := make([]float64, len(targets.Targets))
	targetIDs := make([]string, len(targets.Targets))
	for i, t := range targets.Targets {
		tx[i], ty[i], targetIDs[i] = t.X, t.Y, t.ID
	}
	if err := spatial.CheckCoordinates(known.Frame, kx, ky); err != nil {
		return nil, eris.Wrap(err, "distance: known points")
	}
	if err := spatial.CheckCoordinates(targets.Frame, tx, ty); err != nil {
		return nil, eris.Wrap(err, "distance: targets")
	}

	nk := len(kx)
	values := make([]float64, nk*len(tx))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for start := 0; start < len(tx); start += rowsPerTask {
		end := min(start+rowsPerTask, len(tx))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for t := start; t < end; t++ {
				row := values[t*nk : (t+1)*nk]
				for k := range row {
					if metric == Haversine {
						row[k] = HaversineMeters(kx[k], ky[k], tx[t], ty[t])
					} else {
						row[k] = math.Hypot(tx[t]-kx[k], ty[t]-ky[k])
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "distance: build")
	}

	return &Matrix{knownIDs: knownIDs, targetIDs: targetIDs, metric: metric, values: values}, nil
}

func resolveMetric(known, targets spatial.Frame, geodesic bool) (Metric, error) {
	if known != targets {
		return 0, eris.Wrapf(spatial.ErrInvalidReferenceFrame,
			"distance: known points are %s but targets are %s", known, targets)
	}
	switch {
	case known == spatial.Planar && !geodesic:
		return Euclidean, nil
	case known == spatial.Geographic && geodesic:
		return Haversine, nil
	case known == spatial.Geographic:
		return 0, eris.Wrap(spatial.ErrInvalidReferenceFrame,
			"distance: geographic coordinates need geodesic distances")
	default:
		return 0, eris.Wrap(spatial.ErrInvalidReferenceFrame,
			"distance: geodesic distances need geographic coordinates")
	}
}

// HaversineMeters returns the great-circle distance between two lon/lat
// positions given in degrees.
func HaversineMeters(lon1, lat1, lon2, lat2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}
