package nn

import "github.com/lumenml/lumen/ml"

// Conv2D applies a 2-D convolution over an NCHW input. Weight layout is
// [out_channels, in_channels, kh, kw].
type Conv2D struct {
	Weight  ml.Tensor
	Bias    ml.Tensor
	Stride  int
	Padding int
}

func (m *Conv2D) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	out := t.Conv2D(ctx, m.Weight, m.Stride, m.Padding)
	if m.Bias != nil {
		out = out.Add(ctx, m.Bias.Reshape(ctx, 1, m.Bias.Dim(0), 1, 1))
	}

	return out
}

// Upsample2x doubles both spatial axes of an NCHW tensor by nearest
// neighbor, gathering each row and column twice.
func Upsample2x(ctx ml.Context, t ml.Tensor) ml.Tensor {
	for _, axis := range []int{2, 3} {
		n := t.Dim(axis)
		ids := make([]int32, 0, 2*n)
		for i := int32(0); i < int32(n); i++ {
			ids = append(ids, i, i)
		}
		t = t.TakeAxes(ctx, ctx.FromInts(ids, len(ids)), axis)
	}

	return t
}
