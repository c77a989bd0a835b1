package diffusion

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/lumenml/lumen/ml"
)

// Denoiser is the denoising network collaborator. Forward predicts the
// noise component of latent at the given timestep; its output shape must
// match the latent exactly.
type Denoiser interface {
	Forward(ctx ml.Context, latent, timestep, context, channelContext ml.Tensor) (ml.Tensor, error)
}

// Diffuser runs the iterative denoising loop.
type Diffuser struct {
	Denoiser Denoiser

	// Seed drives the initial noise draw. Equal seeds with equal inputs
	// reproduce the same latent trajectory.
	Seed int64

	// Progress, when set, is called after each completed step.
	Progress func(step, total int)
}

// SampleLatent draws an initial latent from a standard normal distribution
// at the conditioning's resolution and denoises it over nSteps under
// classifier-free guidance, walking the schedule from its most corrupted
// entry down to the cleanest. Each step uses the deterministic DDIM
// update: the guided estimate is stripped from the latent to predict the
// clean signal, then the pair is recombined at the previous step's
// retention level.
//
// Steps are strictly sequential; each depends on the previous latent. A
// cancelled ctx aborts between steps and the in-progress latent is
// discarded.
func (d *Diffuser) SampleLatent(ctx context.Context, mc ml.Context, cond *Conditioning, guidanceScale float64, nSteps int) (ml.Tensor, error) {
	if guidanceScale < 0 {
		return nil, fmt.Errorf("%w: guidance scale %v must not be negative", ErrInvalidParameter, guidanceScale)
	}

	alphas, err := OffsetCosineScheduleCumprod(nSteps)
	if err != nil {
		return nil, err
	}

	batch := cond.Batch()
	height := cond.Resolution.LatentHeight()
	width := cond.Resolution.LatentWidth()

	latent := mc.RandNormal(d.Seed, batch, LatentChannels, height, width)

	for t := nSteps - 1; t >= 0; t-- {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		timestep := mc.FromFloats([]float32{float32(t)}, 1)

		condOut, err := d.Denoiser.Forward(mc, latent, timestep, cond.Context, cond.ChannelContext)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(condOut.Shape(), latent.Shape()) {
			return nil, fmt.Errorf("%w: denoiser returned %v for latent %v",
				ErrShapeMismatch, condOut.Shape(), latent.Shape())
		}

		uncondOut, err := d.Denoiser.Forward(mc, latent, timestep, cond.UnconditionalContext, cond.UnconditionalChannelContext)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(uncondOut.Shape(), latent.Shape()) {
			return nil, fmt.Errorf("%w: denoiser returned %v for latent %v",
				ErrShapeMismatch, uncondOut.Shape(), latent.Shape())
		}

		guided := guide(mc, condOut, uncondOut, guidanceScale)

		alpha := alphas[t]
		alphaPrev := 1.0
		if t > 0 {
			alphaPrev = alphas[t-1]
		}

		predicted := latent.
			Sub(mc, guided.Scale(mc, math.Sqrt(1-alpha))).
			Scale(mc, 1/math.Sqrt(alpha))
		latent = predicted.
			Scale(mc, math.Sqrt(alphaPrev)).
			Add(mc, guided.Scale(mc, math.Sqrt(1-alphaPrev)))

		if d.Progress != nil {
			d.Progress(nSteps-t, nSteps)
		}
	}

	return latent, nil
}

// guide extrapolates from the unconditional estimate toward the
// conditional one. The degenerate scales return the branch outputs
// untouched.
func guide(mc ml.Context, cond, uncond ml.Tensor, scale float64) ml.Tensor {
	switch scale {
	case 1:
		return cond
	case 0:
		return uncond
	}

	return uncond.Add(mc, cond.Sub(mc, uncond).Scale(mc, scale))
}
