package engine

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/potentials/internal/classify"
	"github.com/sells-group/potentials/internal/decay"
	"github.com/sells-group/potentials/internal/isopleth"
	"github.com/sells-group/potentials/internal/potential"
	"github.com/sells-group/potentials/internal/spatial"
)

// Mode selects how evaluation targets are chosen.
type Mode string

// Evaluation modes.
const (
	// ModeDiscrete evaluates an explicit target set, or the known points
	// themselves when no targets are given.
	ModeDiscrete Mode = "discrete"
	// ModeRaster evaluates a grid generated over the mask and contours it.
	ModeRaster Mode = "raster"
)

// ParseMode maps a configuration string to a Mode. Empty means discrete.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeDiscrete, nil
	case ModeDiscrete, ModeRaster:
		return m, nil
	default:
		return "", eris.Wrapf(spatial.ErrInvalidParameter, "engine: unknown mode %q", s)
	}
}

// Ratio derives scale * numerator / denominator from two computed potentials.
type Ratio struct {
	Name        string
	Numerator   string
	Denominator string
	Scale       float64
}

// Request is one potential computation. It is read-only to the engine.
type Request struct {
	Known     spatial.PointSet
	Variables []string
	Ratio     *Ratio

	// Classify names the variable the breaks are derived from. It defaults to
	// the ratio when one is requested, otherwise to the first variable.
	Classify string

	Mode    Mode
	Mask    *spatial.Mask
	Targets spatial.TargetSet

	Resolution float64
	// Buffer keeps raster cells within this distance outside the mask. Nil
	// means one cell diagonal, enough for the contour squares to cover the mask.
	Buffer *float64

	Decay    decay.Params
	Geodesic bool
	// Limit drops contributions from known points farther than this. Zero
	// disables the cutoff.
	Limit float64

	Method          classify.Method
	Classes         int
	Breaks          []float64
	ReferenceBreaks []float64
}

// Result carries the computed surface, the breaks actually used and either a
// classified table (discrete) or isopleth bands (raster).
type Result struct {
	Mode     Mode               `json:"mode"`
	Variable string             `json:"variable"`
	Breaks   []float64          `json:"breaks"`
	Table    []potential.Row    `json:"table,omitempty"`
	Classes  []int              `json:"classes,omitempty"`
	Bands    []isopleth.Band    `json:"bands,omitempty"`
	Surface  *potential.Surface `json:"-"`
	Stats    Stats              `json:"stats"`
}

// Stats summarizes the size of a run.
type Stats struct {
	Known     int   `json:"known"`
	Targets   int   `json:"targets"`
	Excluded  int   `json:"excluded,omitempty"`
	Cells     int   `json:"cells,omitempty"`
	CacheHit  bool  `json:"cache_hit"`
	ElapsedMS int64 `json:"elapsed_ms"`
}

// ClassifiedVariable returns the name of the variable breaks are derived from.
func (r *Request) ClassifiedVariable() string {
	switch {
	case r.Classify != "":
		return r.Classify
	case r.Ratio != nil:
		return r.Ratio.Name
	case len(r.Variables) > 0:
		return r.Variables[0]
	default:
		return ""
	}
}

// validate checks everything that can be checked before any computation.
func (r *Request) validate() error {
	mode, err := ParseMode(string(r.Mode))
	if err != nil {
		return err
	}
	if len(r.Known.Points) == 0 {
		return eris.Wrap(spatial.ErrInvalidParameter, "engine: no known points")
	}
	if len(r.Variables) == 0 {
		return eris.Wrap(spatial.ErrInvalidParameter, "engine: no variables")
	}
	if r.Ratio != nil {
		if r.Ratio.Name == "" || r.Ratio.Numerator == "" || r.Ratio.Denominator == "" {
			return eris.Wrap(spatial.ErrInvalidParameter, "engine: ratio needs a name, numerator and denominator")
		}
		for _, v := range r.Variables {
			if v == r.Ratio.Name {
				return eris.Wrapf(spatial.ErrInvalidParameter, "engine: ratio name %q collides with a variable", v)
			}
		}
	}
	if mode == ModeRaster {
		if r.Mask == nil {
			return eris.Wrap(spatial.ErrInvalidParameter, "engine: raster mode needs a mask")
		}
		if !(r.Resolution > 0) || math.IsInf(r.Resolution, 0) {
			return eris.Wrapf(spatial.ErrInvalidParameter, "engine: resolution must be positive, got %v", r.Resolution)
		}
		if r.Buffer != nil && (*r.Buffer < 0 || math.IsNaN(*r.Buffer)) {
			return eris.Wrapf(spatial.ErrInvalidParameter, "engine: buffer must be non-negative, got %v", *r.Buffer)
		}
	}
	method, err := classify.ParseMethod(string(r.Method))
	if err != nil {
		return err
	}
	switch {
	case len(r.ReferenceBreaks) > 0:
		if err := classify.Validate(r.ReferenceBreaks); err != nil {
			return eris.Wrap(err, "engine: reference breaks")
		}
	case method == classify.MethodFixed:
		if err := classify.Validate(r.Breaks); err != nil {
			return eris.Wrap(err, "engine: fixed breaks")
		}
	case r.Classes < 1:
		return eris.Wrapf(spatial.ErrInvalidParameter, "engine: classes must be at least 1, got %d", r.Classes)
	}
	return nil
}

// deriveBreaks applies the request's classification to values.
func (r *Request) deriveBreaks(values []float64) ([]float64, error) {
	if len(r.ReferenceBreaks) > 0 {
		return classify.ComparableBreaks(r.ReferenceBreaks, values)
	}
	method, _ := classify.ParseMethod(string(r.Method))
	switch method {
	case classify.MethodFixed:
		return append([]float64(nil), r.Breaks...), nil
	case classify.MethodEqual:
		return classify.EqualBreaks(values, r.Classes)
	default:
		return classify.QuantileBreaks(values, r.Classes)
	}
}
