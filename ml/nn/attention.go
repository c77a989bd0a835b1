package nn

import (
	"math"

	"github.com/lumenml/lumen/ml"
)

// Attention is multi-head attention over [batch, seq, dim] inputs. When
// cross is non-nil, keys and values are projected from it instead of the
// query input.
type Attention struct {
	Query  *Linear
	Key    *Linear
	Value  *Linear
	Output *Linear
	Heads  int
}

func (m *Attention) Forward(ctx ml.Context, t, cross, mask ml.Tensor) ml.Tensor {
	kv := t
	if cross != nil {
		kv = cross
	}

	batch, seq, dim := t.Dim(0), t.Dim(1), t.Dim(2)
	kvSeq := kv.Dim(1)
	headDim := dim / m.Heads

	q := split(ctx, m.Query.Forward(ctx, t), batch, seq, m.Heads, headDim)
	k := split(ctx, m.Key.Forward(ctx, kv), batch, kvSeq, m.Heads, headDim)
	v := split(ctx, m.Value.Forward(ctx, kv), batch, kvSeq, m.Heads, headDim)

	scores := q.Matmul(ctx, k.Permute(ctx, 0, 1, 3, 2))
	scores = scores.Scale(ctx, 1/math.Sqrt(float64(headDim)))
	if mask != nil {
		scores = scores.Add(ctx, mask)
	}
	scores = scores.Softmax(ctx)

	out := scores.Matmul(ctx, v)
	out = out.Permute(ctx, 0, 2, 1, 3).Reshape(ctx, batch, seq, dim)

	return m.Output.Forward(ctx, out)
}

// split reshapes [batch, seq, dim] to [batch, heads, seq, headDim].
func split(ctx ml.Context, t ml.Tensor, batch, seq, heads, headDim int) ml.Tensor {
	return t.Reshape(ctx, batch, seq, heads, headDim).Permute(ctx, 0, 2, 1, 3)
}

// CausalMask returns a [seq, seq] additive mask with -inf above the
// diagonal, broadcastable over batch and head axes.
func CausalMask(ctx ml.Context, seq int) ml.Tensor {
	mask := make([]float32, seq*seq)
	for i := 0; i < seq; i++ {
		for j := i + 1; j < seq; j++ {
			mask[i*seq+j] = float32(math.Inf(-1))
		}
	}

	return ctx.FromFloats(mask, seq, seq)
}
