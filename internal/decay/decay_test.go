package decay

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/potentials/internal/spatial"
)

func TestWeight_ClosedForms(t *testing.T) {
	tests := []struct {
		name   string
		family Family
		span   float64
		beta   float64
	}{
		{"exponential beta 2", Exponential, 75000, 2},
		{"exponential beta 1", Exponential, 10, 1},
		{"pareto beta 2", Pareto, 75000, 2},
		{"pareto beta 0.5", Pareto, 3, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := New(Params{Family: tt.family, Span: tt.span, Beta: tt.beta})
			require.NoError(t, err)

			w0, err := fn.Weight(0)
			require.NoError(t, err)
			assert.Equal(t, 1.0, w0)

			ws, err := fn.Weight(tt.span)
			require.NoError(t, err)
			assert.InDelta(t, ReferenceFraction, ws, 1e-12)

			far, err := fn.Weight(tt.span * 1e6)
			require.NoError(t, err)
			assert.Less(t, far, 1e-3)
		})
	}
}

func TestWeight_StrictlyDecreasing(t *testing.T) {
	for _, f := range []Family{Exponential, Pareto} {
		fn, err := New(Params{Family: f, Span: 1000, Beta: 1.5})
		require.NoError(t, err)

		prev := fn.At(0)
		for d := 10.0; d < 20000; d += 10 {
			w := fn.At(d)
			assert.Less(t, w, prev, "%s at %v", f, d)
			assert.GreaterOrEqual(t, w, 0.0)
			prev = w
		}
	}
}

func TestWeight_ExponentialValue(t *testing.T) {
	w, err := Weight(100000, 75000, 2, Exponential)
	require.NoError(t, err)
	alpha := math.Ln2 / (75000.0 * 75000.0)
	assert.InDelta(t, math.Exp(-alpha*1e10), w, 1e-15)
}

func TestWeight_ParetoValue(t *testing.T) {
	w, err := Weight(20, 10, 2, Pareto)
	require.NoError(t, err)
	alpha := (math.Sqrt2 - 1) / 10
	assert.InDelta(t, math.Pow(1+alpha*20, -2), w, 1e-15)
}

func TestWeight_Errors(t *testing.T) {
	_, err := Weight(-1, 10, 2, Exponential)
	assert.True(t, eris.Is(err, spatial.ErrInvalidDistance))

	_, err = Weight(math.NaN(), 10, 2, Pareto)
	assert.True(t, eris.Is(err, spatial.ErrInvalidDistance))

	_, err = Weight(1, 0, 2, Exponential)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

	_, err = Weight(1, 10, -1, Pareto)
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))

	_, err = New(Params{Family: Family(42), Span: 1, Beta: 1})
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("Exponential")
	require.NoError(t, err)
	assert.Equal(t, Exponential, f)

	f, err = ParseFamily("pareto")
	require.NoError(t, err)
	assert.Equal(t, Pareto, f)

	_, err = ParseFamily("gaussian")
	assert.True(t, eris.Is(err, spatial.ErrInvalidParameter))
}
