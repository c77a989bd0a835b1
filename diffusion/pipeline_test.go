package diffusion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lumenml/lumen/ml"
)

// fakeLoader wires the stage fakes and counts loads so tests can assert
// validation happens before any model is resident.
type fakeLoader struct {
	embedderLoads int
	denoiserLoads int
	decoderLoads  int

	embedderErr error
}

func (f *fakeLoader) LoadEmbedder(ctx ml.Context) (TextEncoder, Tokenizer, error) {
	f.embedderLoads++
	if f.embedderErr != nil {
		return nil, nil, f.embedderErr
	}

	return &fakeEncoder{hidden: 16}, &fakeTokenizer{}, nil
}

func (f *fakeLoader) LoadDenoiser(ctx ml.Context) (Denoiser, error) {
	f.denoiserLoads++
	return &fakeDenoiser{}, nil
}

func (f *fakeLoader) LoadDecoder(ctx ml.Context) (Decoder, error) {
	f.decoderLoads++
	return &fakeDecoder{output: func(ctx ml.Context, latent ml.Tensor) (ml.Tensor, error) {
		batch, h, w := latent.Dim(0), latent.Dim(2), latent.Dim(3)
		return ctx.Zeros(ml.DTypeF32, batch, 3, h*LatentScale, w*LatentScale), nil
	}}, nil
}

func newTestPipeline(t *testing.T, loader StageLoader) *Pipeline {
	t.Helper()

	b, err := ml.NewBackend("cpu", ml.BackendParams{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Close)

	return &Pipeline{Backend: b, Loader: loader}
}

func TestGenerate(t *testing.T) {
	loader := &fakeLoader{}
	p := newTestPipeline(t, loader)

	result, err := p.Generate(context.Background(), Options{
		Prompt:          "A beautiful photo of a seaside bluff.",
		ResolutionIndex: DefaultBucket,
		GuidanceScale:   7.5,
		Steps:           30,
	})
	if err != nil {
		t.Fatal(err)
	}

	res := Resolutions[DefaultBucket]
	if result.Width != res.Width || result.Height != res.Height {
		t.Errorf("dimensions = %dx%d, want %v", result.Width, result.Height, res)
	}
	if len(result.Buffer) != 1 {
		t.Errorf("buffers = %d, want 1", len(result.Buffer))
	}
	if len(result.Buffer[0]) != 3*res.Width*res.Height {
		t.Errorf("buffer size = %d, want %d", len(result.Buffer[0]), 3*res.Width*res.Height)
	}

	if loader.embedderLoads != 1 || loader.denoiserLoads != 1 || loader.decoderLoads != 1 {
		t.Errorf("loads = %d/%d/%d, want 1/1/1",
			loader.embedderLoads, loader.denoiserLoads, loader.decoderLoads)
	}
}

func TestGenerateOutOfRangeResolution(t *testing.T) {
	loader := &fakeLoader{}
	p := newTestPipeline(t, loader)

	_, err := p.Generate(context.Background(), Options{
		Prompt:          "prompt",
		ResolutionIndex: len(Resolutions),
		GuidanceScale:   7.5,
		Steps:           30,
	})
	if !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("err = %v, want ErrInvalidParameter", err)
	}
	if loader.embedderLoads != 0 {
		t.Error("model loaded despite invalid resolution index")
	}
}

func TestGenerateInvalidParameters(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts Options
	}{
		{"zero steps", Options{ResolutionIndex: DefaultBucket, GuidanceScale: 7.5, Steps: 0}},
		{"negative guidance", Options{ResolutionIndex: DefaultBucket, GuidanceScale: -1, Steps: 30}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			loader := &fakeLoader{}
			p := newTestPipeline(t, loader)

			if _, err := p.Generate(context.Background(), tt.opts); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("err = %v, want ErrInvalidParameter", err)
			}
			if loader.embedderLoads != 0 {
				t.Error("model loaded despite invalid parameters")
			}
		})
	}
}

func TestGenerateEmbedderLoadFailure(t *testing.T) {
	loader := &fakeLoader{embedderErr: fmt.Errorf("%w: missing checkpoint", ErrModelLoad)}
	p := newTestPipeline(t, loader)

	_, err := p.Generate(context.Background(), Options{
		Prompt:          "prompt",
		ResolutionIndex: DefaultBucket,
		GuidanceScale:   7.5,
		Steps:           30,
	})
	if !errors.Is(err, ErrModelLoad) {
		t.Errorf("err = %v, want ErrModelLoad", err)
	}
	if loader.denoiserLoads != 0 || loader.decoderLoads != 0 {
		t.Error("later stages loaded after embedder failure")
	}
}
