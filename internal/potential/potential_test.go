package potential

import (
	"context"
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/potentials/internal/decay"
	"github.com/sells-group/potentials/internal/distance"
	"github.com/sells-group/potentials/internal/spatial"
)

func abKnown() []spatial.KnownPoint {
	return []spatial.KnownPoint{
		{Point: spatial.Point{ID: "A", X: 0, Y: 0}, Stocks: map[string]float64{"pop": 100, "gdp": 1000}},
		{Point: spatial.Point{ID: "B", X: 100000, Y: 0}, Stocks: map[string]float64{"pop": 50, "gdp": 0}},
	}
}

func abMatrix(t *testing.T) *distance.Matrix {
	t.Helper()
	targets := spatial.PointTargets(spatial.Planar, []spatial.Point{
		{ID: "A", X: 0, Y: 0},
		{ID: "B", X: 100000, Y: 0},
		{ID: "mid", X: 50000, Y: 0},
	})
	m, err := distance.Build(context.Background(), spatial.PointSet{Frame: spatial.Planar, Points: abKnown()}, targets)
	require.NoError(t, err)
	return m
}

func exponential(t *testing.T) decay.Function {
	t.Helper()
	fn, err := decay.New(decay.Params{Family: decay.Exponential, Span: 75000, Beta: 2})
	require.NoError(t, err)
	return fn
}

func TestCompute_TwoPointScenario(t *testing.T) {
	fn := exponential(t)
	s, err := Compute(context.Background(), abKnown(), []string{"pop"}, abMatrix(t), fn)
	require.NoError(t, err)

	vals, err := s.Values("pop")
	require.NoError(t, err)
	a, b, mid := vals[0], vals[1], vals[2]

	w100 := fn.At(100000)
	assert.InDelta(t, 100+50*w100, a, 1e-9)
	assert.InDelta(t, 50+100*w100, b, 1e-9)
	assert.Greater(t, a, mid)
	assert.Greater(t, mid, 0.0)
	assert.InDelta(t, 150*fn.At(50000), mid, 1e-9)
}

func TestCompute_MultipleVariablesShareMatrix(t *testing.T) {
	fn := exponential(t)
	s, err := Compute(context.Background(), abKnown(), []string{"pop", "gdp"}, abMatrix(t), fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"pop", "gdp"}, s.Variables())

	gdp, err := s.Values("gdp")
	require.NoError(t, err)
	// B's zero stock contributes nothing.
	assert.InDelta(t, 1000.0, gdp[0], 1e-9)
	assert.InDelta(t, 1000*fn.At(100000), gdp[1], 1e-9)

	tbl, err := s.Table("gdp")
	require.NoError(t, err)
	require.Len(t, tbl, 3)
	assert.Equal(t, "mid", tbl[2].TargetID)
	assert.Equal(t, gdp[2], tbl[2].Value)
}

func TestCompute_FarTargetIsFiniteAndNonNegative(t *testing.T) {
	fn, err := decay.New(decay.Params{Family: decay.Exponential, Span: 1, Beta: 2})
	require.NoError(t, err)
	m, err := distance.NewMatrix([]string{"A", "B"}, []string{"far"}, []float64{1e9, 1e9})
	require.NoError(t, err)

	s, err := Compute(context.Background(), abKnown(), []string{"pop"}, m, fn)
	require.NoError(t, err)
	vals, err := s.Values("pop")
	require.NoError(t, err)
	assert.False(t, math.IsNaN(vals[0]))
	assert.GreaterOrEqual(t, vals[0], 0.0)
}

func TestCompute_Limit(t *testing.T) {
	fn := exponential(t)
	s, err := Compute(context.Background(), abKnown(), []string{"pop"}, abMatrix(t), fn, WithLimit(60000))
	require.NoError(t, err)
	vals, err := s.Values("pop")
	require.NoError(t, err)
	assert.Equal(t, 100.0, vals[0])
	assert.Equal(t, 50.0, vals[1])
	assert.InDelta(t, 150*fn.At(50000), vals[2], 1e-9)
}

func TestCompute_Deterministic(t *testing.T) {
	var known []spatial.KnownPoint
	var pts []spatial.Point
	for i := 0; i < 300; i++ {
		x, y := float64(i*731%10007), float64(i*373%9973)
		known = append(known, spatial.KnownPoint{
			Point:  spatial.Point{ID: "k" + string(rune('a'+i%26)) + string(rune('a'+i/26)), X: x, Y: y},
			Stocks: map[string]float64{"pop": float64(i%13) * 1.7},
		})
		pts = append(pts, spatial.Point{ID: "t", X: y, Y: x})
	}
	m, err := distance.Build(context.Background(), spatial.PointSet{Frame: spatial.Planar, Points: known},
		spatial.PointTargets(spatial.Planar, pts))
	require.NoError(t, err)
	fn, err := decay.New(decay.Params{Family: decay.Pareto, Span: 2000, Beta: 2})
	require.NoError(t, err)

	a, err := Compute(context.Background(), known, []string{"pop"}, m, fn, WithWorkers(1))
	require.NoError(t, err)
	b, err := Compute(context.Background(), known, []string{"pop"}, m, fn, WithWorkers(16))
	require.NoError(t, err)

	va, _ := a.Values("pop")
	vb, _ := b.Values("pop")
	assert.Equal(t, va, vb)
}

func TestCompute_Errors(t *testing.T) {
	fn := exponential(t)
	m := abMatrix(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		known []spatial.KnownPoint
		vars  []string
		fn    decay.Function
		opts  []Option
	}{
		{"missing stock", abKnown(), []string{"jobs"}, fn, nil},
		{"negative stock", []spatial.KnownPoint{
			{Point: spatial.Point{ID: "A"}, Stocks: map[string]float64{"pop": -1}},
			{Point: spatial.Point{ID: "B"}, Stocks: map[string]float64{"pop": 1}},
		}, []string{"pop"}, fn, nil},
		{"no variables", abKnown(), nil, fn, nil},
		{"duplicate variable", abKnown(), []string{"pop", "pop"}, fn, nil},
		{"column mismatch", abKnown()[:1], []string{"pop"}, fn, nil},
		{"column order", []spatial.KnownPoint{abKnown()[1], abKnown()[0]}, []string{"pop"}, fn, nil},
		{"zero function", abKnown(), []string{"pop"}, decay.Function{}, nil},
		{"negative limit", abKnown(), []string{"pop"}, fn, []Option{WithLimit(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(ctx, tt.known, tt.vars, m, tt.fn, tt.opts...)
			assert.True(t, eris.Is(err, spatial.ErrInvalidParameter), "got %v", err)
		})
	}
}

func TestSurface_RatioAndDerived(t *testing.T) {
	m, err := distance.NewMatrix([]string{"A", "B"}, []string{"t1", "t2"}, []float64{0, 0, 0, 0})
	require.NoError(t, err)
	fn := exponential(t)
	known := []spatial.KnownPoint{
		{Point: spatial.Point{ID: "A"}, Stocks: map[string]float64{"pop": 10, "gdp": 200}},
		{Point: spatial.Point{ID: "B"}, Stocks: map[string]float64{"pop": 0, "gdp": 0}},
	}
	s, err := Compute(context.Background(), known, []string{"pop", "gdp"}, m, fn)
	require.NoError(t, err)

	ratio, err := s.Ratio("gdp", "pop", 1000)
	require.NoError(t, err)
	assert.Equal(t, []float64{20000, 20000}, ratio)

	derived, err := s.WithVariable("gdppc", ratio)
	require.NoError(t, err)
	assert.Equal(t, []string{"pop", "gdp", "gdppc"}, derived.Variables())
	_, err = s.Values("gdppc")
	assert.Error(t, err, "original surface is unchanged")

	_, err = derived.WithVariable("gdppc", ratio)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

}

func TestSurface_RatioZeroDenominator(t *testing.T) {
	m, err := distance.NewMatrix([]string{"A"}, []string{"t"}, []float64{0})
	require.NoError(t, err)
	known := []spatial.KnownPoint{{Point: spatial.Point{ID: "A"}, Stocks: map[string]float64{"pop": 0, "gdp": 5}}}
	s, err := Compute(context.Background(), known, []string{"pop", "gdp"}, m, exponential(t))
	require.NoError(t, err)

	r, err := s.Ratio("gdp", "pop", 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, r)

	_, err = s.Ratio("gdp", "pop", 0)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))
}
