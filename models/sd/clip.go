package sd

import (
	"fmt"

	"github.com/lumenml/lumen/ml"
	"github.com/lumenml/lumen/ml/nn"
)

// TextModel is a CLIP-style causal text transformer. It maps a fixed
// length token sequence to per-token hidden states.
type TextModel struct {
	TokenEmbedding    *nn.Embedding
	PositionEmbedding ml.Tensor // [maxPositions, hidden]
	Layers            []*TextLayer
	FinalNorm         *nn.LayerNorm

	cfg TextEncoderConfig
}

// TextLayer is one pre-norm transformer block with QuickGELU MLP.
type TextLayer struct {
	Norm1     *nn.LayerNorm
	Attention *nn.Attention
	Norm2     *nn.LayerNorm
	FC1       *nn.Linear
	FC2       *nn.Linear
}

func (l *TextLayer) Forward(ctx ml.Context, t, mask ml.Tensor) ml.Tensor {
	t = t.Add(ctx, l.Attention.Forward(ctx, l.Norm1.Forward(ctx, t), nil, mask))

	h := l.FC1.Forward(ctx, l.Norm2.Forward(ctx, t)).QuickGELU(ctx)
	return t.Add(ctx, l.FC2.Forward(ctx, h))
}

// Forward returns the final-norm hidden states [1, len(tokens), hidden].
func (m *TextModel) Forward(ctx ml.Context, tokens []int32) ml.Tensor {
	seq := len(tokens)

	t := m.TokenEmbedding.Forward(ctx, ctx.FromInts(tokens, seq))
	t = t.Add(ctx, m.PositionEmbedding.Slice(ctx, 0, 0, seq))
	t = t.Reshape(ctx, 1, seq, m.cfg.HiddenSize)

	mask := nn.CausalMask(ctx, seq)
	for _, layer := range m.Layers {
		t = layer.Forward(ctx, t, mask)
	}

	return m.FinalNorm.Forward(ctx, t)
}

func newTextModel(w *weights, cfg TextEncoderConfig) *TextModel {
	m := &TextModel{
		TokenEmbedding:    &nn.Embedding{Weight: w.tensor("text_model.embeddings.token_embedding.weight")},
		PositionEmbedding: w.tensor("text_model.embeddings.position_embedding.weight"),
		FinalNorm:         w.layerNorm("text_model.final_layer_norm", cfg.LayerNormEps),
		cfg:               cfg,
	}

	for i := 0; i < cfg.NumLayers; i++ {
		prefix := fmt.Sprintf("text_model.encoder.layers.%d", i)
		m.Layers = append(m.Layers, &TextLayer{
			Norm1: w.layerNorm(prefix+".layer_norm1", cfg.LayerNormEps),
			Attention: &nn.Attention{
				Query:  w.linear(prefix + ".self_attn.q_proj"),
				Key:    w.linear(prefix + ".self_attn.k_proj"),
				Value:  w.linear(prefix + ".self_attn.v_proj"),
				Output: w.linear(prefix + ".self_attn.out_proj"),
				Heads:  cfg.NumHeads,
			},
			Norm2: w.layerNorm(prefix+".layer_norm2", cfg.LayerNormEps),
			FC1:   w.linear(prefix + ".mlp.fc1"),
			FC2:   w.linear(prefix + ".mlp.fc2"),
		})
	}

	return m
}
