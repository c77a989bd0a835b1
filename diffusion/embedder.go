package diffusion

import (
	"fmt"
	"slices"

	"github.com/lumenml/lumen/ml"
)

// ContextLength is the fixed token sequence length of the text encoder.
const ContextLength = 77

// Tokenizer turns free text into a fixed-length token id sequence.
type Tokenizer interface {
	Encode(text string, maxLen int) ([]int32, error)
}

// TextEncoder is the text encoding collaborator. Encode maps token ids to
// hidden states [batch, seq, hidden]; EncodeChannel embeds the target
// size, crop offset and aspect ratio into [batch, hidden].
type TextEncoder interface {
	Encode(ctx ml.Context, tokens []int32) (ml.Tensor, error)
	EncodeChannel(ctx ml.Context, size Resolution, crop [2]int, aspect Resolution) (ml.Tensor, error)
}

// Embedder builds Conditioning from a prompt. The unconditional branch is
// encoded from Negative, empty by default.
type Embedder struct {
	Tokenizer Tokenizer
	Encoder   TextEncoder
	Negative  string
}

// TextToConditioning tokenizes and encodes the prompt and the negative
// prompt, embeds the resolution metadata for both branches, and returns
// the assembled conditioning. Encoder errors propagate unchanged.
func (e *Embedder) TextToConditioning(ctx ml.Context, prompt string, size Resolution, crop [2]int, aspect Resolution) (*Conditioning, error) {
	context, err := e.encodeText(ctx, prompt)
	if err != nil {
		return nil, err
	}

	uncondContext, err := e.encodeText(ctx, e.Negative)
	if err != nil {
		return nil, err
	}

	channel, err := e.Encoder.EncodeChannel(ctx, size, crop, aspect)
	if err != nil {
		return nil, err
	}

	uncondChannel, err := e.Encoder.EncodeChannel(ctx, size, crop, aspect)
	if err != nil {
		return nil, err
	}

	if !slices.Equal(context.Shape(), uncondContext.Shape()) {
		return nil, fmt.Errorf("%w: conditional context %v vs unconditional %v",
			ErrShapeMismatch, context.Shape(), uncondContext.Shape())
	}
	if !slices.Equal(channel.Shape(), uncondChannel.Shape()) {
		return nil, fmt.Errorf("%w: conditional channel context %v vs unconditional %v",
			ErrShapeMismatch, channel.Shape(), uncondChannel.Shape())
	}
	if context.Dim(0) != channel.Dim(0) {
		return nil, fmt.Errorf("%w: context batch %d vs channel context batch %d",
			ErrShapeMismatch, context.Dim(0), channel.Dim(0))
	}

	return &Conditioning{
		Context:                     context,
		UnconditionalContext:        uncondContext,
		ChannelContext:              channel,
		UnconditionalChannelContext: uncondChannel,
		Resolution:                  size,
	}, nil
}

func (e *Embedder) encodeText(ctx ml.Context, text string) (ml.Tensor, error) {
	tokens, err := e.Tokenizer.Encode(text, ContextLength)
	if err != nil {
		return nil, err
	}

	return e.Encoder.Encode(ctx, tokens)
}
