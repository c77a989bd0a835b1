package diffusion

import "github.com/lumenml/lumen/ml"

// Conditioning carries the tensors that steer a single generation request:
// textual context for the conditional and unconditional guidance branches,
// the resolution/crop channel embeddings for both branches, and the
// resolution bucket the request targets. It is built once by the embedder
// stage and consumed read-only by the sampler.
type Conditioning struct {
	Context                     ml.Tensor // [batch, seq, hidden]
	UnconditionalContext        ml.Tensor // [batch, seq, hidden]
	ChannelContext              ml.Tensor // [batch, hidden]
	UnconditionalChannelContext ml.Tensor // [batch, hidden]

	Resolution Resolution
}

// Batch returns the shared batch dimension of the conditioning tensors.
func (c *Conditioning) Batch() int {
	return c.Context.Dim(0)
}

// Convert bridges all four tensors into ctx at the given precision,
// preserving shapes. Used at the stage boundary before sampling.
func (c *Conditioning) Convert(ctx ml.Context, dtype ml.DType) *Conditioning {
	return &Conditioning{
		Context:                     ml.Convert(ctx, c.Context, dtype),
		UnconditionalContext:        ml.Convert(ctx, c.UnconditionalContext, dtype),
		ChannelContext:              ml.Convert(ctx, c.ChannelContext, dtype),
		UnconditionalChannelContext: ml.Convert(ctx, c.UnconditionalChannelContext, dtype),
		Resolution:                  c.Resolution,
	}
}
