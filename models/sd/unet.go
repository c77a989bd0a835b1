package sd

import (
	"fmt"

	"github.com/lumenml/lumen/diffusion"
	"github.com/lumenml/lumen/ml"
	"github.com/lumenml/lumen/ml/nn"
)

// UNet is the denoiser stage. Each resolution level pairs a residual
// block with a spatial transformer; levels are connected by strided
// convolutions on the way down and nearest-neighbor upsampling on the way
// up, with skip connections concatenated across matching levels. It
// satisfies diffusion.Denoiser.
type UNet struct {
	TimeLinear1 *nn.Linear
	TimeLinear2 *nn.Linear
	ChannelProj *nn.Linear

	ConvIn *nn.Conv2D
	Down   []*DownLevel

	MidRes1        *ResBlock
	MidTransformer *TransformerBlock
	MidRes2        *ResBlock

	Up []*UpLevel

	NormOut *nn.GroupNorm
	ConvOut *nn.Conv2D

	cfg DenoiserConfig
}

// DownLevel is one encoder level. Downsample is nil on the deepest level.
type DownLevel struct {
	Res         *ResBlock
	Transformer *TransformerBlock
	Downsample  *nn.Conv2D
}

// UpLevel is one decoder level. Upsample is nil on the shallowest level.
type UpLevel struct {
	Res         *ResBlock
	Transformer *TransformerBlock
	Upsample    *nn.Conv2D
}

// Forward predicts the noise component of latent at the given timestep.
// timestep is a length-1 tensor holding the schedule index; context and
// channelContext are the textual and resolution conditioning for one
// guidance branch.
func (m *UNet) Forward(ctx ml.Context, latent, timestep, context, channelContext ml.Tensor) (ml.Tensor, error) {
	if len(latent.Shape()) != 4 || latent.Dim(1) != m.cfg.InChannels {
		return nil, fmt.Errorf("%w: denoiser input %v, want [batch %d h w]",
			diffusion.ErrShapeMismatch, latent.Shape(), m.cfg.InChannels)
	}

	temb := nn.SinusoidalEmbedding(ctx, timestep.Floats(), m.cfg.ModelChannels, 10000)
	temb = m.TimeLinear2.Forward(ctx, m.TimeLinear1.Forward(ctx, temb).SILU(ctx))
	temb = temb.Add(ctx, m.ChannelProj.Forward(ctx, channelContext))

	h := m.ConvIn.Forward(ctx, latent)

	skips := make([]ml.Tensor, 0, len(m.Down))
	for _, level := range m.Down {
		h = level.Res.Forward(ctx, h, temb)
		h = level.Transformer.Forward(ctx, h, context)
		skips = append(skips, h)

		if level.Downsample != nil {
			h = level.Downsample.Forward(ctx, h)
		}
	}

	h = m.MidRes1.Forward(ctx, h, temb)
	h = m.MidTransformer.Forward(ctx, h, context)
	h = m.MidRes2.Forward(ctx, h, temb)

	for i, level := range m.Up {
		if level.Upsample != nil {
			h = level.Upsample.Forward(ctx, nn.Upsample2x(ctx, h))
		}

		skip := skips[len(skips)-1-i]
		h = h.Concat(ctx, skip, 1)
		h = level.Res.Forward(ctx, h, temb)
		h = level.Transformer.Forward(ctx, h, context)
	}

	return m.ConvOut.Forward(ctx, m.NormOut.Forward(ctx, h).SILU(ctx)), nil
}

func newUNet(w *weights, cfg DenoiserConfig) *UNet {
	m := &UNet{
		TimeLinear1: w.linear("time_embedding.linear_1"),
		TimeLinear2: w.linear("time_embedding.linear_2"),
		ChannelProj: w.linear("channel_embedding.proj"),
		ConvIn:      w.conv("conv_in", 1, 1),
		NormOut:     w.groupNorm("conv_norm_out", cfg.NormGroups),
		ConvOut:     w.conv("conv_out", 1, 1),
		cfg:         cfg,
	}

	levels := len(cfg.ChannelMult)
	for i := 0; i < levels; i++ {
		prefix := fmt.Sprintf("down_blocks.%d", i)
		level := &DownLevel{
			Res:         newResBlock(w, prefix+".resnets.0", cfg.NormGroups, true),
			Transformer: newTransformerBlock(w, prefix+".attentions.0", cfg.NormGroups, cfg.NumHeads),
		}
		if i < levels-1 {
			level.Downsample = w.conv(prefix+".downsamplers.0.conv", 2, 1)
		}
		m.Down = append(m.Down, level)
	}

	m.MidRes1 = newResBlock(w, "mid_block.resnets.0", cfg.NormGroups, true)
	m.MidTransformer = newTransformerBlock(w, "mid_block.attentions.0", cfg.NormGroups, cfg.NumHeads)
	m.MidRes2 = newResBlock(w, "mid_block.resnets.1", cfg.NormGroups, true)

	for i := 0; i < levels; i++ {
		prefix := fmt.Sprintf("up_blocks.%d", i)
		level := &UpLevel{
			Res:         newResBlock(w, prefix+".resnets.0", cfg.NormGroups, true),
			Transformer: newTransformerBlock(w, prefix+".attentions.0", cfg.NormGroups, cfg.NumHeads),
		}
		if i > 0 {
			level.Upsample = w.conv(prefix+".upsamplers.0.conv", 1, 1)
		}
		m.Up = append(m.Up, level)
	}

	return m
}
