package sd

import (
	"github.com/lumenml/lumen/ml"
	"github.com/lumenml/lumen/ml/nn"
)

// ResBlock is a convolutional residual block with an optional timestep
// projection. TimeProj is nil in the VAE, which has no time conditioning.
type ResBlock struct {
	Norm1    *nn.GroupNorm
	Conv1    *nn.Conv2D
	TimeProj *nn.Linear
	Norm2    *nn.GroupNorm
	Conv2    *nn.Conv2D

	// Shortcut matches channel counts on the skip path; nil when input
	// and output channels agree.
	Shortcut *nn.Conv2D
}

func (b *ResBlock) Forward(ctx ml.Context, t, temb ml.Tensor) ml.Tensor {
	h := b.Conv1.Forward(ctx, b.Norm1.Forward(ctx, t).SILU(ctx))

	if b.TimeProj != nil {
		e := b.TimeProj.Forward(ctx, temb.SILU(ctx))
		h = h.Add(ctx, e.Reshape(ctx, e.Dim(0), e.Dim(1), 1, 1))
	}

	h = b.Conv2.Forward(ctx, b.Norm2.Forward(ctx, h).SILU(ctx))

	if b.Shortcut != nil {
		t = b.Shortcut.Forward(ctx, t)
	}

	return t.Add(ctx, h)
}

// TransformerBlock interleaves self attention, cross attention over the
// text context and a GELU MLP on the flattened spatial grid.
type TransformerBlock struct {
	Norm    *nn.GroupNorm
	ProjIn  *nn.Conv2D
	Norm1   *nn.LayerNorm
	Attn1   *nn.Attention
	Norm2   *nn.LayerNorm
	Attn2   *nn.Attention
	Norm3   *nn.LayerNorm
	FF1     *nn.Linear
	FF2     *nn.Linear
	ProjOut *nn.Conv2D
}

func (b *TransformerBlock) Forward(ctx ml.Context, t, context ml.Tensor) ml.Tensor {
	batch, channels, height, width := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	residual := t

	x := b.ProjIn.Forward(ctx, b.Norm.Forward(ctx, t))
	x = x.Reshape(ctx, batch, channels, height*width).Permute(ctx, 0, 2, 1)

	x = x.Add(ctx, b.Attn1.Forward(ctx, b.Norm1.Forward(ctx, x), nil, nil))
	x = x.Add(ctx, b.Attn2.Forward(ctx, b.Norm2.Forward(ctx, x), context, nil))
	x = x.Add(ctx, b.FF2.Forward(ctx, b.FF1.Forward(ctx, b.Norm3.Forward(ctx, x)).GELU(ctx)))

	x = x.Permute(ctx, 0, 2, 1).Reshape(ctx, batch, channels, height, width)

	return b.ProjOut.Forward(ctx, x).Add(ctx, residual)
}

func newResBlock(w *weights, prefix string, groups int, withTime bool) *ResBlock {
	b := &ResBlock{
		Norm1:    w.groupNorm(prefix+".norm1", groups),
		Conv1:    w.conv(prefix+".conv1", 1, 1),
		Norm2:    w.groupNorm(prefix+".norm2", groups),
		Conv2:    w.conv(prefix+".conv2", 1, 1),
	}
	if withTime {
		b.TimeProj = w.linear(prefix + ".time_emb_proj")
	}
	if w.err == nil && w.file.HasTensor(prefix+".conv_shortcut.weight") {
		b.Shortcut = w.conv(prefix+".conv_shortcut", 1, 0)
	}

	return b
}

func newTransformerBlock(w *weights, prefix string, groups, heads int) *TransformerBlock {
	inner := prefix + ".transformer_blocks.0"

	return &TransformerBlock{
		Norm:   w.groupNorm(prefix+".norm", groups),
		ProjIn: w.conv(prefix+".proj_in", 1, 0),
		Norm1:  w.layerNorm(inner+".norm1", 1e-5),
		Attn1: &nn.Attention{
			Query:  w.linear(inner + ".attn1.to_q"),
			Key:    w.linear(inner + ".attn1.to_k"),
			Value:  w.linear(inner + ".attn1.to_v"),
			Output: w.linear(inner + ".attn1.to_out"),
			Heads:  heads,
		},
		Norm2: w.layerNorm(inner+".norm2", 1e-5),
		Attn2: &nn.Attention{
			Query:  w.linear(inner + ".attn2.to_q"),
			Key:    w.linear(inner + ".attn2.to_k"),
			Value:  w.linear(inner + ".attn2.to_v"),
			Output: w.linear(inner + ".attn2.to_out"),
			Heads:  heads,
		},
		Norm3:   w.layerNorm(inner+".norm3", 1e-5),
		FF1:     w.linear(inner + ".ff.net.0"),
		FF2:     w.linear(inner + ".ff.net.2"),
		ProjOut: w.conv(prefix+".proj_out", 1, 0),
	}
}
