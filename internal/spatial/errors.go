package spatial

import "github.com/rotisserie/eris"

// Caller-error kinds shared by every stage of a potential computation.
// Detection sites wrap these with context; callers test with eris.Is.
var (
	// ErrInvalidReferenceFrame reports mixed or incompatible coordinate systems.
	ErrInvalidReferenceFrame = eris.New("invalid reference frame")
	// ErrInvalidParameter reports a non-positive span, beta or resolution,
	// non-monotonic breaks, missing stocks, or empty inputs.
	ErrInvalidParameter = eris.New("invalid parameter")
	// ErrInvalidDistance reports a negative or NaN distance.
	ErrInvalidDistance = eris.New("invalid distance")
	// ErrInvalidGrid reports an irregular raster passed to the contour step.
	ErrInvalidGrid = eris.New("invalid grid")
	// ErrResourceLimitExceeded reports a grid too fine relative to the mask extent.
	ErrResourceLimitExceeded = eris.New("resource limit exceeded")
)

// IsCallerError reports whether err is one of the caller-error kinds above.
func IsCallerError(err error) bool {
	return eris.Is(err, ErrInvalidReferenceFrame) ||
		eris.Is(err, ErrInvalidParameter) ||
		eris.Is(err, ErrInvalidDistance) ||
		eris.Is(err, ErrInvalidGrid)
}
