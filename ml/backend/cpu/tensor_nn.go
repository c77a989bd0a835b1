package cpu

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/lumenml/lumen/ml"
)

func (t *Tensor) Softmax(ctx ml.Context) ml.Tensor {
	c := ctx.(*Context)
	out := newTensor(c.b, ml.DTypeF32, t.shape)

	src := t.Floats()
	last := t.shape[len(t.shape)-1]
	rows := len(src) / last

	for r := 0; r < rows; r++ {
		row := src[r*last : (r+1)*last]
		dst := out.f32[r*last : (r+1)*last]

		maxv := row[0]
		for _, v := range row[1:] {
			if v > maxv {
				maxv = v
			}
		}

		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxv))
			dst[i] = float32(e)
			sum += e
		}

		inv := float32(1 / sum)
		for i := range dst {
			dst[i] *= inv
		}
	}

	return out
}

func (t *Tensor) LayerNorm(ctx ml.Context, weight, bias ml.Tensor, eps float32) ml.Tensor {
	c := ctx.(*Context)
	out := newTensor(c.b, ml.DTypeF32, t.shape)

	src := t.Floats()
	last := t.shape[len(t.shape)-1]
	rows := len(src) / last

	w := weight.Floats()
	var bv []float32
	if bias != nil {
		bv = bias.Floats()
	}

	for r := 0; r < rows; r++ {
		row := src[r*last : (r+1)*last]
		dst := out.f32[r*last : (r+1)*last]

		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(last)

		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(last)

		inv := 1 / math.Sqrt(variance+float64(eps))
		for i, v := range row {
			norm := float32((float64(v) - mean) * inv)
			norm *= w[i]
			if bv != nil {
				norm += bv[i]
			}
			dst[i] = norm
		}
	}

	return out
}

// GroupNorm normalizes an NCHW tensor over channel groups, then applies a
// per-channel affine transform.
func (t *Tensor) GroupNorm(ctx ml.Context, weight, bias ml.Tensor, groups int, eps float32) ml.Tensor {
	if len(t.shape) != 4 {
		panic(fmt.Sprintf("cpu: group norm expects NCHW, got %v", t.shape))
	}

	c := ctx.(*Context)
	out := newTensor(c.b, ml.DTypeF32, t.shape)

	batch, channels := t.shape[0], t.shape[1]
	spatial := t.shape[2] * t.shape[3]
	if channels%groups != 0 {
		panic(fmt.Sprintf("cpu: %d channels not divisible by %d groups", channels, groups))
	}
	perGroup := channels / groups

	src := t.Floats()
	w := weight.Floats()
	bv := bias.Floats()

	for n := 0; n < batch; n++ {
		for g := 0; g < groups; g++ {
			lo := (n*channels + g*perGroup) * spatial
			hi := lo + perGroup*spatial

			var mean float64
			for _, v := range src[lo:hi] {
				mean += float64(v)
			}
			mean /= float64(hi - lo)

			var variance float64
			for _, v := range src[lo:hi] {
				d := float64(v) - mean
				variance += d * d
			}
			variance /= float64(hi - lo)

			inv := 1 / math.Sqrt(variance+float64(eps))
			for ch := 0; ch < perGroup; ch++ {
				channel := g*perGroup + ch
				base := (n*channels + channel) * spatial
				for i := 0; i < spatial; i++ {
					norm := float32((float64(src[base+i]) - mean) * inv)
					out.f32[base+i] = norm*w[channel] + bv[channel]
				}
			}
		}
	}

	return out
}

func (t *Tensor) GELU(ctx ml.Context) ml.Tensor {
	return t.unaryOp(ctx, func(x float32) float32 {
		return float32(0.5 * float64(x) * (1 + math.Erf(float64(x)/math.Sqrt2)))
	})
}

func (t *Tensor) QuickGELU(ctx ml.Context) ml.Tensor {
	return t.unaryOp(ctx, func(x float32) float32 {
		return x * sigmoid(1.702*x)
	})
}

func (t *Tensor) SILU(ctx ml.Context) ml.Tensor {
	return t.unaryOp(ctx, func(x float32) float32 {
		return x * sigmoid(x)
	})
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Conv2D applies weight [OC, IC, KH, KW] to an NCHW input with equal stride
// and zero padding on both spatial axes.
func (t *Tensor) Conv2D(ctx ml.Context, weight ml.Tensor, stride, padding int) ml.Tensor {
	c := ctx.(*Context)
	w := weight.(*Tensor)

	if len(t.shape) != 4 || len(w.shape) != 4 {
		panic(fmt.Sprintf("cpu: conv2d expects NCHW x OIHW, got %v x %v", t.shape, w.shape))
	}

	batch, inC, inH, inW := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	outC, kc, kh, kw := w.shape[0], w.shape[1], w.shape[2], w.shape[3]
	if kc != inC {
		panic(fmt.Sprintf("cpu: conv2d channel mismatch %v x %v", t.shape, w.shape))
	}

	outH := (inH+2*padding-kh)/stride + 1
	outW := (inW+2*padding-kw)/stride + 1
	out := newTensor(c.b, ml.DTypeF32, []int{batch, outC, outH, outW})

	src := t.Floats()
	wv := w.Floats()

	var g errgroup.Group
	g.SetLimit(c.b.threads)

	for n := 0; n < batch; n++ {
		for oc := 0; oc < outC; oc++ {
			n, oc := n, oc
			g.Go(func() error {
				dst := out.f32[(n*outC+oc)*outH*outW:]
				for oy := 0; oy < outH; oy++ {
					for ox := 0; ox < outW; ox++ {
						var sum float32
						for ic := 0; ic < inC; ic++ {
							plane := src[(n*inC+ic)*inH*inW:]
							kern := wv[((oc*inC+ic)*kh)*kw:]
							for ky := 0; ky < kh; ky++ {
								iy := oy*stride + ky - padding
								if iy < 0 || iy >= inH {
									continue
								}
								for kx := 0; kx < kw; kx++ {
									ix := ox*stride + kx - padding
									if ix < 0 || ix >= inW {
										continue
									}
									sum += plane[iy*inW+ix] * kern[ky*kw+kx]
								}
							}
						}
						dst[oy*outW+ox] = sum
					}
				}
				return nil
			})
		}
	}

	g.Wait() //nolint:errcheck

	return out
}
