package sd

import (
	"fmt"

	"github.com/lumenml/lumen/diffusion"
	"github.com/lumenml/lumen/ml"
	"github.com/lumenml/lumen/ml/nn"
)

// VAEDecoder is the latent decoder stage: a convolutional decoder that
// maps latents back to pixel space. Output values are in [0, 1]. It
// satisfies diffusion.Decoder.
type VAEDecoder struct {
	ConvIn *nn.Conv2D

	MidRes1      *ResBlock
	MidAttention *VAEAttention
	MidRes2      *ResBlock

	Up []*VAEUpLevel

	NormOut *nn.GroupNorm
	ConvOut *nn.Conv2D

	cfg DecoderConfig
}

// VAEUpLevel is one decoder level: residual blocks then an optional
// upsampling convolution.
type VAEUpLevel struct {
	Res      []*ResBlock
	Upsample *nn.Conv2D
}

// VAEAttention is the single-head self attention block in the decoder
// middle section.
type VAEAttention struct {
	Norm      *nn.GroupNorm
	Attention *nn.Attention
}

func (b *VAEAttention) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	batch, channels, height, width := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)

	x := b.Norm.Forward(ctx, t)
	x = x.Reshape(ctx, batch, channels, height*width).Permute(ctx, 0, 2, 1)
	x = b.Attention.Forward(ctx, x, nil, nil)
	x = x.Permute(ctx, 0, 2, 1).Reshape(ctx, batch, channels, height, width)

	return t.Add(ctx, x)
}

// Decode maps a latent [batch, latentChannels, h, w] to pixels
// [batch, 3, h*8, w*8] in [0, 1]. The latent is unscaled by the VAE
// scaling factor first.
func (d *VAEDecoder) Decode(ctx ml.Context, latent ml.Tensor) (ml.Tensor, error) {
	if len(latent.Shape()) != 4 || latent.Dim(1) != d.cfg.LatentChannels {
		return nil, fmt.Errorf("%w: decoder input %v, want [batch %d h w]",
			diffusion.ErrShapeMismatch, latent.Shape(), d.cfg.LatentChannels)
	}

	h := d.ConvIn.Forward(ctx, latent.Scale(ctx, 1/float64(d.cfg.ScalingFactor)))

	h = d.MidRes1.Forward(ctx, h, nil)
	h = d.MidAttention.Forward(ctx, h)
	h = d.MidRes2.Forward(ctx, h, nil)

	for _, level := range d.Up {
		for _, res := range level.Res {
			h = res.Forward(ctx, h, nil)
		}
		if level.Upsample != nil {
			h = level.Upsample.Forward(ctx, nn.Upsample2x(ctx, h))
		}
	}

	h = d.ConvOut.Forward(ctx, d.NormOut.Forward(ctx, h).SILU(ctx))

	// [-1, 1] model range to displayable [0, 1]
	return h.Scale(ctx, 0.5).AddScalar(ctx, 0.5).Clip(ctx, 0, 1), nil
}

func newVAEDecoder(w *weights, cfg DecoderConfig) *VAEDecoder {
	d := &VAEDecoder{
		ConvIn:  w.conv("decoder.conv_in", 1, 1),
		MidRes1: newResBlock(w, "decoder.mid_block.resnets.0", cfg.NormGroups, false),
		MidAttention: &VAEAttention{
			Norm: w.groupNorm("decoder.mid_block.attentions.0.group_norm", cfg.NormGroups),
			Attention: &nn.Attention{
				Query:  w.linear("decoder.mid_block.attentions.0.to_q"),
				Key:    w.linear("decoder.mid_block.attentions.0.to_k"),
				Value:  w.linear("decoder.mid_block.attentions.0.to_v"),
				Output: w.linear("decoder.mid_block.attentions.0.to_out"),
				Heads:  1,
			},
		},
		MidRes2: newResBlock(w, "decoder.mid_block.resnets.1", cfg.NormGroups, false),
		NormOut: w.groupNorm("decoder.conv_norm_out", cfg.NormGroups),
		ConvOut: w.conv("decoder.conv_out", 1, 1),
		cfg:     cfg,
	}

	// up_blocks.0 operates at the deepest channel count
	levels := len(cfg.BlockChannels)
	for i := 0; i < levels; i++ {
		prefix := fmt.Sprintf("decoder.up_blocks.%d", i)
		level := &VAEUpLevel{}
		for j := 0; j < cfg.LayersPerBlock; j++ {
			level.Res = append(level.Res,
				newResBlock(w, fmt.Sprintf("%s.resnets.%d", prefix, j), cfg.NormGroups, false))
		}
		if i < levels-1 {
			level.Upsample = w.conv(prefix+".upsamplers.0.conv", 1, 1)
		}
		d.Up = append(d.Up, level)
	}

	return d
}
