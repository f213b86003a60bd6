// Package classify derives class breaks from value distributions and assigns
// values to classes.
//
// Breaks are strictly increasing. Class i covers (b[i], b[i+1]]; the first
// class is open below and the last open above, so a value equal to a break
// always falls in the lower class.
package classify

import (
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/potentials/internal/spatial"
)

// Method names a break derivation.
type Method string

// Supported methods.
const (
	MethodQuantile Method = "quantile"
	MethodEqual    Method = "equal"
	MethodFixed    Method = "fixed"
)

// ParseMethod maps a configuration string to a Method. Empty means quantile.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodQuantile, nil
	case MethodQuantile, MethodEqual, MethodFixed:
		return m, nil
	default:
		return "", eris.Wrapf(spatial.ErrInvalidParameter, "classify: unknown method %q", s)
	}
}

// QuantileBreaks returns k+1 boundaries at the 0, 1/k, ..., 1 quantiles of
// values, interpolating linearly between order statistics. The first break is
// min(values) and the last is max(values) unless every value is identical.
func QuantileBreaks(values []float64, k int) ([]float64, error) {
	sorted, err := sortedCopy(values, k)
	if err != nil {
		return nil, err
	}
	n := len(sorted)
	breaks := make([]float64, k+1)
	for i := range breaks {
		h := float64(n-1) * float64(i) / float64(k)
		lo := int(math.Floor(h))
		if lo >= n-1 {
			breaks[i] = sorted[n-1]
			continue
		}
		breaks[i] = sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
	}
	breaks[0], breaks[k] = sorted[0], sorted[n-1]
	return makeStrict(breaks), nil
}

// EqualBreaks splits [min, max] into k intervals of equal width.
func EqualBreaks(values []float64, k int) ([]float64, error) {
	sorted, err := sortedCopy(values, k)
	if err != nil {
		return nil, err
	}
	lo, hi := sorted[0], sorted[len(sorted)-1]
	breaks := make([]float64, k+1)
	for i := range breaks {
		breaks[i] = lo + (hi-lo)*float64(i)/float64(k)
	}
	breaks[k] = hi
	return makeStrict(breaks), nil
}

// ComparableBreaks keeps the interior boundaries of base and replaces the
// first and last with the min and max of newValues. An end that would cross
// its interior neighbour is held just outside it.
func ComparableBreaks(base, newValues []float64) ([]float64, error) {
	if err := Validate(base); err != nil {
		return nil, eris.Wrap(err, "classify: base breaks")
	}
	sorted, err := sortedCopy(newValues, 1)
	if err != nil {
		return nil, err
	}
	lo, hi := sorted[0], sorted[len(sorted)-1]
	n := len(base)
	out := slices.Clone(base)
	if n == 2 {
		out[0], out[1] = lo, hi
		return makeStrict(out), nil
	}
	out[0] = math.Min(lo, math.Nextafter(base[1], math.Inf(-1)))
	out[n-1] = math.Max(hi, math.Nextafter(base[n-2], math.Inf(1)))
	return out, nil
}

// Validate checks that breaks has at least two finite, strictly increasing
// entries.
func Validate(breaks []float64) error {
	if len(breaks) < 2 {
		return eris.Wrapf(spatial.ErrInvalidParameter, "classify: need at least 2 breaks, got %d", len(breaks))
	}
	for i, b := range breaks {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return eris.Wrapf(spatial.ErrInvalidParameter, "classify: break %d is %v", i, b)
		}
		if i > 0 && b <= breaks[i-1] {
			return eris.Wrapf(spatial.ErrInvalidParameter,
				"classify: breaks not strictly increasing at %d (%v <= %v)", i, b, breaks[i-1])
		}
	}
	return nil
}

// ClassOf returns the class index of v. Values at or below breaks[1] are class
// 0 and values above breaks[len-2] are the last class.
func ClassOf(v float64, breaks []float64) int {
	last := len(breaks) - 2
	for i := 0; i < last; i++ {
		if v <= breaks[i+1] {
			return i
		}
	}
	return last
}

// Assign returns the class index of every value.
func Assign(values, breaks []float64) ([]int, error) {
	if err := Validate(breaks); err != nil {
		return nil, err
	}
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = ClassOf(v, breaks)
	}
	return out, nil
}

func sortedCopy(values []float64, k int) ([]float64, error) {
	if k < 1 {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "classify: class count must be positive, got %d", k)
	}
	if len(values) == 0 {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "classify: no values")
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter, "classify: value %d is %v", i, v)
		}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sorted, nil
}

// makeStrict nudges duplicate boundaries apart by the smallest representable
// step. When the range is non-degenerate the ends stay fixed and interior
// breaks are pushed toward the middle; otherwise breaks climb from the first.
func makeStrict(b []float64) []float64 {
	n := len(b)
	up, down := math.Inf(1), math.Inf(-1)
	if b[n-1] > b[0] {
		for i := 1; i < n-1; i++ {
			if b[i] <= b[i-1] {
				b[i] = math.Nextafter(b[i-1], up)
			}
		}
		for i := n - 2; i > 0; i-- {
			if b[i] >= b[i+1] {
				b[i] = math.Nextafter(b[i+1], down)
			}
		}
	}
	// Degenerate range, or too few representable values between the ends.
	for i := 1; i < n; i++ {
		if b[i] <= b[i-1] {
			b[i] = math.Nextafter(b[i-1], up)
		}
	}
	return b
}
