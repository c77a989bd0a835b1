package diffusion

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lumenml/lumen/ml"
)

type fakeTokenizer struct {
	texts   []string
	maxLens []int
}

func (f *fakeTokenizer) Encode(text string, maxLen int) ([]int32, error) {
	f.texts = append(f.texts, text)
	f.maxLens = append(f.maxLens, maxLen)

	return make([]int32, maxLen), nil
}

type fakeEncoder struct {
	hidden int

	// hiddenFor overrides the hidden size for a given call index.
	hiddenFor map[int]int
	encodes   int
}

func (f *fakeEncoder) Encode(ctx ml.Context, tokens []int32) (ml.Tensor, error) {
	hidden := f.hidden
	if h, ok := f.hiddenFor[f.encodes]; ok {
		hidden = h
	}
	f.encodes++

	return ctx.Zeros(ml.DTypeF32, 1, len(tokens), hidden), nil
}

func (f *fakeEncoder) EncodeChannel(ctx ml.Context, size Resolution, crop [2]int, aspect Resolution) (ml.Tensor, error) {
	return ctx.Zeros(ml.DTypeF32, 1, f.hidden), nil
}

func TestTextToConditioning(t *testing.T) {
	mc := newTestContext(t)
	tok := &fakeTokenizer{}
	e := &Embedder{Tokenizer: tok, Encoder: &fakeEncoder{hidden: 16}}

	res := Resolution{1024, 1024}
	cond, err := e.TextToConditioning(mc, "a seaside bluff", res, [2]int{0, 0}, res)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"a seaside bluff", ""}, tok.texts); diff != "" {
		t.Errorf("tokenized texts mismatch (-want +got):\n%s", diff)
	}
	for _, maxLen := range tok.maxLens {
		if maxLen != ContextLength {
			t.Errorf("tokenizer maxLen = %d, want %d", maxLen, ContextLength)
		}
	}

	if diff := cmp.Diff([]int{1, ContextLength, 16}, cond.Context.Shape()); diff != "" {
		t.Errorf("context shape mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cond.Context.Shape(), cond.UnconditionalContext.Shape()); diff != "" {
		t.Errorf("branch context shapes differ (-cond +uncond):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 16}, cond.ChannelContext.Shape()); diff != "" {
		t.Errorf("channel context shape mismatch (-want +got):\n%s", diff)
	}
	if cond.Resolution != res {
		t.Errorf("resolution = %v, want %v", cond.Resolution, res)
	}
	if cond.Batch() != 1 {
		t.Errorf("batch = %d, want 1", cond.Batch())
	}
}

func TestTextToConditioningNegativePrompt(t *testing.T) {
	mc := newTestContext(t)
	tok := &fakeTokenizer{}
	e := &Embedder{Tokenizer: tok, Encoder: &fakeEncoder{hidden: 8}, Negative: "blurry, low quality"}

	res := Resolution{512, 2048}
	if _, err := e.TextToConditioning(mc, "a lighthouse", res, [2]int{0, 0}, res); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"a lighthouse", "blurry, low quality"}, tok.texts); diff != "" {
		t.Errorf("tokenized texts mismatch (-want +got):\n%s", diff)
	}
}

func TestTextToConditioningShapeMismatch(t *testing.T) {
	mc := newTestContext(t)
	enc := &fakeEncoder{hidden: 16, hiddenFor: map[int]int{1: 8}}
	e := &Embedder{Tokenizer: &fakeTokenizer{}, Encoder: enc}

	res := Resolution{1024, 1024}
	if _, err := e.TextToConditioning(mc, "prompt", res, [2]int{0, 0}, res); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}
