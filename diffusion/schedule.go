package diffusion

import (
	"fmt"
	"math"
)

// The schedule interpolates corruption angles between these signal rates
// instead of the full [0, 1] range, so the first entry stays strictly
// below 1 and the last stays strictly above 0. Degenerate fully-clean or
// fully-noise states destabilize the denoiser.
const (
	minSignalRate = 0.02
	maxSignalRate = 0.95
)

// OffsetCosineScheduleCumprod returns the cumulative signal-retention
// coefficients for nSteps diffusion timesteps. Entry i is the fraction of
// original signal remaining after i+1 corruption steps: the cosine of the
// interpolated angle, squared. The sequence is strictly within (0, 1] and
// non-increasing. Pure and deterministic given nSteps.
func OffsetCosineScheduleCumprod(nSteps int) ([]float64, error) {
	if nSteps < 1 {
		return nil, fmt.Errorf("%w: step count %d must be positive", ErrInvalidParameter, nSteps)
	}

	start := math.Acos(maxSignalRate)
	end := math.Acos(minSignalRate)

	out := make([]float64, nSteps)
	for i := range out {
		angle := start + (end-start)*float64(i)/float64(nSteps)
		c := math.Cos(angle)
		out[i] = c * c
	}

	return out, nil
}
