package sd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lumenml/lumen/diffusion"
	"github.com/lumenml/lumen/ml"
	_ "github.com/lumenml/lumen/ml/backend/cpu"
	"github.com/lumenml/lumen/safetensors"
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

func TestLoadEmbedder(t *testing.T) {
	loader, err := NewLoader(writeFixture(t))
	if err != nil {
		t.Fatal(err)
	}

	mc := newTestContext(t)
	encoder, tok, err := loader.LoadEmbedder(mc)
	if err != nil {
		t.Fatal(err)
	}

	tokens, err := tok.Encode("a photo of the sea side", diffusion.ContextLength)
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != diffusion.ContextLength {
		t.Fatalf("token count = %d, want %d", len(tokens), diffusion.ContextLength)
	}

	hidden, err := encoder.Encode(mc, tokens)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, diffusion.ContextLength, fixtureTextConfig.HiddenSize}
	if diff := cmp.Diff(want, hidden.Shape()); diff != "" {
		t.Errorf("hidden shape mismatch (-want +got):\n%s", diff)
	}

	res := diffusion.Resolution{Width: 1024, Height: 1024}
	channel, err := encoder.EncodeChannel(mc, res, [2]int{0, 0}, res)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, fixtureTextConfig.ChannelDim}, channel.Shape()); diff != "" {
		t.Errorf("channel shape mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDenoiserForward(t *testing.T) {
	loader, err := NewLoader(writeFixture(t))
	if err != nil {
		t.Fatal(err)
	}

	mc := newTestContext(t)
	den, err := loader.LoadDenoiser(mc)
	if err != nil {
		t.Fatal(err)
	}

	latent := mc.RandNormal(7, 1, 4, 8, 8)
	timestep := mc.FromFloats([]float32{3}, 1)
	context := mc.RandNormal(8, 1, diffusion.ContextLength, fixtureDenoiserConfig.ContextDim)
	channel := mc.RandNormal(9, 1, fixtureDenoiserConfig.ChannelContextDim)

	out, err := den.Forward(mc, latent, timestep, context, channel)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(latent.Shape(), out.Shape()); diff != "" {
		t.Errorf("output shape mismatch (-latent +output):\n%s", diff)
	}
}

func TestLoadDenoiserRejectsBadLatent(t *testing.T) {
	loader, err := NewLoader(writeFixture(t))
	if err != nil {
		t.Fatal(err)
	}

	mc := newTestContext(t)
	den, err := loader.LoadDenoiser(mc)
	if err != nil {
		t.Fatal(err)
	}

	latent := mc.Zeros(ml.DTypeF32, 1, 7, 8, 8)
	timestep := mc.FromFloats([]float32{0}, 1)
	context := mc.Zeros(ml.DTypeF32, 1, diffusion.ContextLength, fixtureDenoiserConfig.ContextDim)
	channel := mc.Zeros(ml.DTypeF32, 1, fixtureDenoiserConfig.ChannelContextDim)

	if _, err := den.Forward(mc, latent, timestep, context, channel); !errors.Is(err, diffusion.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestLoadDecoderDecode(t *testing.T) {
	loader, err := NewLoader(writeFixture(t))
	if err != nil {
		t.Fatal(err)
	}

	mc := newTestContext(t)
	dec, err := loader.LoadDecoder(mc)
	if err != nil {
		t.Fatal(err)
	}

	latent := mc.RandNormal(11, 1, 4, 8, 8)
	pixels, err := dec.Decode(mc, latent)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]int{1, 3, 64, 64}, pixels.Shape()); diff != "" {
		t.Errorf("pixel shape mismatch (-want +got):\n%s", diff)
	}

	for i, v := range pixels.Floats() {
		if v < 0 || v > 1 {
			t.Fatalf("pixel %d = %v outside [0, 1]", i, v)
		}
	}
}

func TestLoaderMissingTensor(t *testing.T) {
	dir := writeFixture(t)

	// rewrite the diffuser checkpoint without its final convolution
	path := filepath.Join(dir, diffuserModel)
	writeDiffuserWeightsWithout(t, path, "conv_out.weight")

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}

	mc := newTestContext(t)
	if _, err := loader.LoadDenoiser(mc); !errors.Is(err, diffusion.ErrModelLoad) {
		t.Errorf("err = %v, want ErrModelLoad", err)
	}
}

func TestLoaderBadArchitecture(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "config.json"), ModelConfig{Architecture: "vqgan"})

	if _, err := NewLoader(dir); !errors.Is(err, diffusion.ErrModelLoad) {
		t.Errorf("err = %v, want ErrModelLoad", err)
	}
}

func TestLoaderMissingDirectory(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, diffusion.ErrModelLoad) {
		t.Errorf("err = %v, want ErrModelLoad", err)
	}
}

func TestGenerateWithRealModels(t *testing.T) {
	loader, err := NewLoader(writeFixture(t))
	if err != nil {
		t.Fatal(err)
	}

	b, err := ml.NewBackend("cpu", ml.BackendParams{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Close)

	mc := b.NewContext()
	t.Cleanup(mc.Close)

	encoder, tok, err := loader.LoadEmbedder(mc)
	if err != nil {
		t.Fatal(err)
	}

	embedder := &diffusion.Embedder{Tokenizer: tok, Encoder: encoder}
	res := diffusion.Resolution{Width: 64, Height: 64}
	cond, err := embedder.TextToConditioning(mc, "a photo of the sea side", res, [2]int{0, 0}, res)
	if err != nil {
		t.Fatal(err)
	}

	den, err := loader.LoadDenoiser(mc)
	if err != nil {
		t.Fatal(err)
	}

	diffuser := &diffusion.Diffuser{Denoiser: den, Seed: 5}
	latent, err := diffuser.SampleLatent(context.Background(), mc, cond, 7.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 4, 8, 8}, latent.Shape()); diff != "" {
		t.Fatalf("latent shape mismatch (-want +got):\n%s", diff)
	}

	dec, err := loader.LoadDecoder(mc)
	if err != nil {
		t.Fatal(err)
	}

	result, err := (&diffusion.LatentDecoder{Decoder: dec}).LatentToImage(mc, latent)
	if err != nil {
		t.Fatal(err)
	}
	if result.Width != 64 || result.Height != 64 {
		t.Errorf("image = %dx%d, want 64x64", result.Width, result.Height)
	}

	if err := diffusion.SaveImages(result.Buffer, filepath.Join(t.TempDir(), "img"), result.Width, result.Height); err != nil {
		t.Fatal(err)
	}
}

// writeDiffuserWeightsWithout rebuilds the diffuser checkpoint, dropping
// the named tensor.
func writeDiffuserWeightsWithout(t *testing.T, path, drop string) {
	t.Helper()

	tmp := filepath.Join(t.TempDir(), "full.safetensors")
	writeDiffuserWeights(t, tmp)

	src, err := safetensors.Open(tmp)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	var kept []*safetensors.Tensor
	for _, name := range src.Tensors() {
		if name == drop {
			continue
		}

		tensor, err := src.GetTensor(name)
		if err != nil {
			t.Fatal(err)
		}
		values, err := tensor.Floats()
		if err != nil {
			t.Fatal(err)
		}
		out, err := safetensors.FromFloats(name, tensor.DType, tensor.Shape, values)
		if err != nil {
			t.Fatal(err)
		}
		kept = append(kept, out)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := safetensors.WriteFile(path, kept); err != nil {
		t.Fatal(err)
	}
}
