package diffusion

import "errors"

// Sentinel errors for the generation pipeline. Stage failures wrap one of
// these so callers can classify them with errors.Is.
var (
	// ErrModelLoad reports a missing or corrupt weight or config artifact.
	ErrModelLoad = errors.New("model load failed")

	// ErrShapeMismatch reports tensor dimensions inconsistent between
	// stages or collaborator outputs.
	ErrShapeMismatch = errors.New("tensor shape mismatch")

	// ErrInvalidParameter reports a request parameter outside its valid
	// range, such as a zero step count or an unknown resolution index.
	ErrInvalidParameter = errors.New("invalid parameter")
)
