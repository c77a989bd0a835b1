// Package diffusion implements the latent diffusion sampling engine: the
// offset cosine noise schedule, the classifier-free-guidance denoising
// loop, the resolution bucket table, and the staged pipeline that carries
// tensors between the embedder, diffuser and latent decoder stages across
// precision boundaries. The sub-models themselves are collaborators behind
// small interfaces; see the models packages for the concrete networks.
package diffusion

import (
	"context"
	"fmt"

	"github.com/lumenml/lumen/ml"
)

// StageLoader materializes each stage's sub-model into the given compute
// context. Stages are loaded one at a time; a stage's weights are released
// by closing the context they were loaded into.
type StageLoader interface {
	LoadEmbedder(ctx ml.Context) (TextEncoder, Tokenizer, error)
	LoadDenoiser(ctx ml.Context) (Denoiser, error)
	LoadDecoder(ctx ml.Context) (Decoder, error)
}

// Options are the parameters of one generation request.
type Options struct {
	Prompt         string
	NegativePrompt string

	// ResolutionIndex selects an entry of Resolutions.
	ResolutionIndex int

	GuidanceScale float64
	Steps         int
	Seed          int64

	// Progress, when set, is called after each completed sampling step.
	Progress func(step, total int)
}

// Pipeline generates images by running the three stages in sequence. At
// most one sub-model is resident at a time: each stage loads into its own
// context, its outputs are bridged into the next stage's context, and the
// stage context is closed before the next model loads.
type Pipeline struct {
	Backend ml.Backend
	Loader  StageLoader

	// SampleDType is the precision the sampling stage receives its
	// conditioning in. Defaults to F16.
	SampleDType ml.DType
}

// Generate runs embedding, sampling and decoding for one request. Request
// parameters are validated before any model is loaded. The error names the
// failing stage.
func (p *Pipeline) Generate(ctx context.Context, opts Options) (*ImageResult, error) {
	resolution, err := BucketAt(opts.ResolutionIndex)
	if err != nil {
		return nil, err
	}
	if opts.Steps < 1 {
		return nil, fmt.Errorf("%w: step count %d must be positive", ErrInvalidParameter, opts.Steps)
	}
	if opts.GuidanceScale < 0 {
		return nil, fmt.Errorf("%w: guidance scale %v must not be negative", ErrInvalidParameter, opts.GuidanceScale)
	}

	sampleDType := p.SampleDType
	if sampleDType == ml.DTypeOther {
		sampleDType = ml.DTypeF16
	}

	embedCtx := p.Backend.NewContext()
	encoder, tok, err := p.Loader.LoadEmbedder(embedCtx)
	if err != nil {
		embedCtx.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}

	embedder := &Embedder{Tokenizer: tok, Encoder: encoder, Negative: opts.NegativePrompt}
	cond, err := embedder.TextToConditioning(embedCtx, opts.Prompt, resolution, [2]int{0, 0}, resolution)
	if err != nil {
		embedCtx.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}

	sampleCtx := p.Backend.NewContext()
	cond = cond.Convert(sampleCtx, sampleDType)
	embedCtx.Close()

	denoiser, err := p.Loader.LoadDenoiser(sampleCtx)
	if err != nil {
		sampleCtx.Close()
		return nil, fmt.Errorf("diffuser: %w", err)
	}

	diffuser := &Diffuser{Denoiser: denoiser, Seed: opts.Seed, Progress: opts.Progress}
	latent, err := diffuser.SampleLatent(ctx, sampleCtx, cond, opts.GuidanceScale, opts.Steps)
	if err != nil {
		sampleCtx.Close()
		return nil, fmt.Errorf("diffuser: %w", err)
	}

	decodeCtx := p.Backend.NewContext()
	defer decodeCtx.Close()
	latent = ml.Convert(decodeCtx, latent, ml.DTypeF32)
	sampleCtx.Close()

	decoder, err := p.Loader.LoadDecoder(decodeCtx)
	if err != nil {
		return nil, fmt.Errorf("latent decoder: %w", err)
	}

	result, err := (&LatentDecoder{Decoder: decoder}).LatentToImage(decodeCtx, latent)
	if err != nil {
		return nil, fmt.Errorf("latent decoder: %w", err)
	}

	return result, nil
}
