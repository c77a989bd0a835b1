package nn

import (
	"math"

	"github.com/lumenml/lumen/ml"
)

// Embedding is a lookup table with weight [vocab, dim].
type Embedding struct {
	Weight ml.Tensor
}

// Forward gathers rows for a 1-D I32 id tensor, returning [len(ids), dim].
func (m *Embedding) Forward(ctx ml.Context, ids ml.Tensor) ml.Tensor {
	return m.Weight.TakeAxes(ctx, ids, 0)
}

// SinusoidalEmbedding embeds scalar values into dim-dimensional vectors of
// interleaved cosines and sines at geometrically spaced frequencies, the
// standard transformer/diffusion timestep encoding. Returns [len(values), dim].
func SinusoidalEmbedding(ctx ml.Context, values []float32, dim int, maxPeriod float64) ml.Tensor {
	half := dim / 2
	out := make([]float32, len(values)*dim)

	for i, v := range values {
		for j := 0; j < half; j++ {
			freq := math.Exp(-math.Log(maxPeriod) * float64(j) / float64(half))
			arg := float64(v) * freq
			out[i*dim+j] = float32(math.Cos(arg))
			out[i*dim+half+j] = float32(math.Sin(arg))
		}
	}

	return ctx.FromFloats(out, len(values), dim)
}
