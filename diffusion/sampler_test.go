package diffusion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lumenml/lumen/ml"
	_ "github.com/lumenml/lumen/ml/backend/cpu"
)

func newTestContext(t *testing.T) ml.Context {
	t.Helper()

	b, err := ml.NewBackend("cpu", ml.BackendParams{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Close)

	ctx := b.NewContext()
	t.Cleanup(ctx.Close)

	return ctx
}

// fakeDenoiser echoes the latent back as its noise estimate unless forward
// is set, and counts calls.
type fakeDenoiser struct {
	calls   int
	forward func(ctx ml.Context, latent ml.Tensor) (ml.Tensor, error)
}

func (f *fakeDenoiser) Forward(ctx ml.Context, latent, timestep, context, channelContext ml.Tensor) (ml.Tensor, error) {
	f.calls++
	if f.forward != nil {
		return f.forward(ctx, latent)
	}

	return latent, nil
}

func testConditioning(mc ml.Context, res Resolution) *Conditioning {
	return &Conditioning{
		Context:                     mc.Zeros(ml.DTypeF32, 1, ContextLength, 16),
		UnconditionalContext:        mc.Zeros(ml.DTypeF32, 1, ContextLength, 16),
		ChannelContext:              mc.Zeros(ml.DTypeF32, 1, 16),
		UnconditionalChannelContext: mc.Zeros(ml.DTypeF32, 1, 16),
		Resolution:                  res,
	}
}

func TestSampleLatentSingleStep(t *testing.T) {
	mc := newTestContext(t)
	den := &fakeDenoiser{}
	d := &Diffuser{Denoiser: den, Seed: 1}

	latent, err := d.SampleLatent(context.Background(), mc, testConditioning(mc, Resolution{64, 64}), 7.5, 1)
	if err != nil {
		t.Fatal(err)
	}

	// one iteration runs the denoiser once per guidance branch
	if den.calls != 2 {
		t.Errorf("denoiser calls = %d, want 2", den.calls)
	}
	if diff := cmp.Diff([]int{1, LatentChannels, 8, 8}, latent.Shape()); diff != "" {
		t.Errorf("latent shape mismatch (-want +got):\n%s", diff)
	}
}

func TestSampleLatentStepCount(t *testing.T) {
	mc := newTestContext(t)
	den := &fakeDenoiser{}
	d := &Diffuser{Denoiser: den, Seed: 1}

	var steps []int
	d.Progress = func(step, total int) {
		steps = append(steps, step)
		if total != 5 {
			t.Errorf("total = %d, want 5", total)
		}
	}

	if _, err := d.SampleLatent(context.Background(), mc, testConditioning(mc, Resolution{64, 64}), 7.5, 5); err != nil {
		t.Fatal(err)
	}

	if den.calls != 10 {
		t.Errorf("denoiser calls = %d, want 10", den.calls)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, steps); diff != "" {
		t.Errorf("progress steps mismatch (-want +got):\n%s", diff)
	}
}

func TestSampleLatentDeterministic(t *testing.T) {
	mc := newTestContext(t)
	cond := testConditioning(mc, Resolution{64, 64})

	sample := func(seed int64) []float32 {
		d := &Diffuser{Denoiser: &fakeDenoiser{}, Seed: seed}
		latent, err := d.SampleLatent(context.Background(), mc, cond, 7.5, 3)
		if err != nil {
			t.Fatal(err)
		}
		return latent.Floats()
	}

	if diff := cmp.Diff(sample(42), sample(42)); diff != "" {
		t.Errorf("same seed produced different latents:\n%s", diff)
	}
	if diff := cmp.Diff(sample(42), sample(43)); diff == "" {
		t.Error("different seeds produced identical latents")
	}
}

func TestSampleLatentInvalidParameters(t *testing.T) {
	mc := newTestContext(t)
	cond := testConditioning(mc, Resolution{64, 64})
	d := &Diffuser{Denoiser: &fakeDenoiser{}}

	if _, err := d.SampleLatent(context.Background(), mc, cond, 7.5, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("zero steps: err = %v, want ErrInvalidParameter", err)
	}
	if _, err := d.SampleLatent(context.Background(), mc, cond, -1, 5); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("negative guidance: err = %v, want ErrInvalidParameter", err)
	}
}

func TestSampleLatentShapeMismatch(t *testing.T) {
	mc := newTestContext(t)
	den := &fakeDenoiser{
		forward: func(ctx ml.Context, latent ml.Tensor) (ml.Tensor, error) {
			return ctx.Zeros(ml.DTypeF32, 1, LatentChannels, 4, 4), nil
		},
	}
	d := &Diffuser{Denoiser: den}

	latent, err := d.SampleLatent(context.Background(), mc, testConditioning(mc, Resolution{64, 64}), 7.5, 5)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
	if latent != nil {
		t.Error("latent returned despite shape mismatch")
	}
}

func TestSampleLatentDenoiserError(t *testing.T) {
	mc := newTestContext(t)
	boom := fmt.Errorf("weights on fire")
	den := &fakeDenoiser{
		forward: func(ctx ml.Context, latent ml.Tensor) (ml.Tensor, error) {
			return nil, boom
		},
	}
	d := &Diffuser{Denoiser: den}

	if _, err := d.SampleLatent(context.Background(), mc, testConditioning(mc, Resolution{64, 64}), 7.5, 5); !errors.Is(err, boom) {
		t.Errorf("err = %v, want the denoiser error", err)
	}
}

func TestSampleLatentCancelled(t *testing.T) {
	mc := newTestContext(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Diffuser{Denoiser: &fakeDenoiser{}}
	latent, err := d.SampleLatent(ctx, mc, testConditioning(mc, Resolution{64, 64}), 7.5, 5)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if latent != nil {
		t.Error("latent returned despite cancellation")
	}
}

func TestGuide(t *testing.T) {
	mc := newTestContext(t)
	cond := mc.FromFloats([]float32{1, 2, 3, 4}, 4)
	uncond := mc.FromFloats([]float32{0, 1, 1, 0}, 4)

	if got := guide(mc, cond, uncond, 1); got != cond {
		t.Error("scale 1 did not return the conditional estimate")
	}
	if got := guide(mc, cond, uncond, 0); got != uncond {
		t.Error("scale 0 did not return the unconditional estimate")
	}

	// scale 2: uncond + 2*(cond - uncond)
	want := []float32{2, 3, 5, 8}
	if diff := cmp.Diff(want, guide(mc, cond, uncond, 2).Floats()); diff != "" {
		t.Errorf("guided estimate mismatch (-want +got):\n%s", diff)
	}
}
