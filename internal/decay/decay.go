// Package decay provides the distance-decay functions used to weight stocks
// when computing potentials.
//
// Every family is calibrated so that the weight at distance == span equals
// ReferenceFraction (one half):
//
//	exponential: w(d) = exp(-alpha * d^beta),  alpha = ln(2) / span^beta
//	pareto:      w(d) = (1 + alpha*d)^(-beta), alpha = (2^(1/beta) - 1) / span
package decay

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/potentials/internal/spatial"
)

// ReferenceFraction is the weight every family yields at distance == span.
const ReferenceFraction = 0.5

// Family enumerates the supported decay families.
type Family int

// Supported families.
const (
	Exponential Family = iota + 1
	Pareto
)

// String implements fmt.Stringer.
func (f Family) String() string {
	switch f {
	case Exponential:
		return "exponential"
	case Pareto:
		return "pareto"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// ParseFamily maps a family name to its enum value.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exponential", "exp":
		return Exponential, nil
	case "pareto", "power", "inverse_power":
		return Pareto, nil
	default:
		return 0, eris.Wrapf(spatial.ErrInvalidParameter, "decay: unsupported family %q", s)
	}
}

// Params configures a decay function.
type Params struct {
	Family Family  `json:"family" yaml:"family"`
	Span   float64 `json:"span" yaml:"span"`
	Beta   float64 `json:"beta" yaml:"beta"`
}

// Validate checks that the parameters describe a supported function.
func (p Params) Validate() error {
	if p.Family != Exponential && p.Family != Pareto {
		return eris.Wrapf(spatial.ErrInvalidParameter, "decay: unsupported family %s", p.Family)
	}
	if !(p.Span > 0) || math.IsInf(p.Span, 0) {
		return eris.Wrapf(spatial.ErrInvalidParameter, "decay: span must be positive, got %v", p.Span)
	}
	if !(p.Beta > 0) || math.IsInf(p.Beta, 0) {
		return eris.Wrapf(spatial.ErrInvalidParameter, "decay: beta must be positive, got %v", p.Beta)
	}
	return nil
}

// Function is a validated, stateless decay function.
type Function struct {
	params Params
	alpha  float64
}

// New validates params and precomputes alpha.
func New(p Params) (Function, error) {
	if err := p.Validate(); err != nil {
		return Function{}, err
	}
	return Function{params: p, alpha: Alpha(p.Family, p.Span, p.Beta)}, nil
}

// Alpha derives the family's scale factor from span and beta.
func Alpha(f Family, span, beta float64) float64 {
	switch f {
	case Exponential:
		return math.Ln2 / math.Pow(span, beta)
	case Pareto:
		return (math.Pow(2, 1/beta) - 1) / span
	default:
		return math.NaN()
	}
}

// Params returns the parameters the function was built with.
func (fn Function) Params() Params { return fn.params }

// Alpha returns the precomputed scale factor.
func (fn Function) Alpha() float64 { return fn.alpha }

// Weight maps a distance to a weight in [0, 1].
func (fn Function) Weight(d float64) (float64, error) {
	if d < 0 || math.IsNaN(d) {
		return 0, eris.Wrapf(spatial.ErrInvalidDistance, "decay: distance %v", d)
	}
	return fn.At(d), nil
}

// At is the unchecked hot-path form of Weight. d must be a valid distance.
func (fn Function) At(d float64) float64 {
	if d == 0 {
		return 1
	}
	switch fn.params.Family {
	case Exponential:
		return math.Exp(-fn.alpha * math.Pow(d, fn.params.Beta))
	case Pareto:
		return math.Pow(1+fn.alpha*d, -fn.params.Beta)
	default:
		return 0
	}
}

// Weight is the one-shot form of the catalog contract.
func Weight(distance, span, beta float64, family Family) (float64, error) {
	fn, err := New(Params{Family: family, Span: span, Beta: beta})
	if err != nil {
		return 0, err
	}
	return fn.Weight(distance)
}
