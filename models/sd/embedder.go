package sd

import (
	"github.com/lumenml/lumen/diffusion"
	"github.com/lumenml/lumen/ml"
	"github.com/lumenml/lumen/ml/nn"
)

// metadataValues is the number of scalars embedded by the channel path:
// target height and width, crop top and left, aspect height and width.
const metadataValues = 6

// TextEncoder is the embedder stage: the CLIP text transformer plus the
// resolution channel MLP. It satisfies diffusion.TextEncoder.
type TextEncoder struct {
	Text *TextModel

	ChannelLinear1 *nn.Linear
	ChannelLinear2 *nn.Linear

	cfg TextEncoderConfig
}

// Encode returns hidden states [1, len(tokens), hidden] for a token
// sequence.
func (e *TextEncoder) Encode(ctx ml.Context, tokens []int32) (ml.Tensor, error) {
	return e.Text.Forward(ctx, tokens), nil
}

// EncodeChannel embeds the resolution metadata: each scalar is expanded
// sinusoidally, the expansions are concatenated and pushed through a two
// layer MLP, yielding [1, channelDim].
func (e *TextEncoder) EncodeChannel(ctx ml.Context, size diffusion.Resolution, crop [2]int, aspect diffusion.Resolution) (ml.Tensor, error) {
	values := []float32{
		float32(size.Height), float32(size.Width),
		float32(crop[0]), float32(crop[1]),
		float32(aspect.Height), float32(aspect.Width),
	}

	emb := nn.SinusoidalEmbedding(ctx, values, e.cfg.ChannelFreqDim, 10000)
	emb = emb.Reshape(ctx, 1, metadataValues*e.cfg.ChannelFreqDim)

	h := e.ChannelLinear1.Forward(ctx, emb).SILU(ctx)
	return e.ChannelLinear2.Forward(ctx, h), nil
}

func newTextEncoder(w *weights, cfg TextEncoderConfig) *TextEncoder {
	return &TextEncoder{
		Text:           newTextModel(w, cfg),
		ChannelLinear1: w.linear("channel_embedding.linear_1"),
		ChannelLinear2: w.linear("channel_embedding.linear_2"),
		cfg:            cfg,
	}
}
