package cpu

import (
	"fmt"

	"github.com/lumenml/lumen/ml"
)

// broadcastShape resolves the result shape of a binary op under numpy-style
// broadcasting: shapes are right-aligned, a dimension of 1 stretches.
func broadcastShape(a, b []int) []int {
	rank := max(len(a), len(b))
	out := make([]int, rank)

	for i := 0; i < rank; i++ {
		da, db := 1, 1
		if i >= rank-len(a) {
			da = a[i-(rank-len(a))]
		}
		if i >= rank-len(b) {
			db = b[i-(rank-len(b))]
		}

		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			panic(fmt.Sprintf("cpu: cannot broadcast %v with %v", a, b))
		}
	}

	return out
}

// broadcastStrides returns per-axis element strides of src viewed as shape,
// with zero strides on stretched axes.
func broadcastStrides(src, shape []int) []int {
	rank := len(shape)
	strides := make([]int, rank)

	stride := 1
	for i := rank - 1; i >= 0; i-- {
		d := 1
		if i >= rank-len(src) {
			d = src[i-(rank-len(src))]
		}

		if d == 1 {
			strides[i] = 0
		} else {
			strides[i] = stride
		}
		stride *= d
	}

	return strides
}

func binaryOp(ctx ml.Context, a *Tensor, t2 ml.Tensor, f func(x, y float32) float32) ml.Tensor {
	c := ctx.(*Context)
	b := t2.(*Tensor)

	av, bv := a.Floats(), b.Floats()

	if shapeEqual(a.shape, b.shape) {
		out := newTensor(c.b, ml.DTypeF32, a.shape)
		for i := range out.f32 {
			out.f32[i] = f(av[i], bv[i])
		}
		return out
	}

	shape := broadcastShape(a.shape, b.shape)
	out := newTensor(c.b, ml.DTypeF32, shape)

	rank := len(shape)
	as := broadcastStrides(a.shape, shape)
	bs := broadcastStrides(b.shape, shape)

	idx := make([]int, rank)
	ai, bi := 0, 0
	for i := range out.f32 {
		out.f32[i] = f(av[ai], bv[bi])

		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			ai += as[d]
			bi += bs[d]
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
			ai -= as[d] * shape[d]
			bi -= bs[d] * shape[d]
		}
	}

	return out
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return binaryOp(ctx, t, t2, func(x, y float32) float32 { return x + y })
}

func (t *Tensor) Sub(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return binaryOp(ctx, t, t2, func(x, y float32) float32 { return x - y })
}

func (t *Tensor) Mul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return binaryOp(ctx, t, t2, func(x, y float32) float32 { return x * y })
}

func (t *Tensor) unaryOp(ctx ml.Context, f func(x float32) float32) ml.Tensor {
	c := ctx.(*Context)
	out := newTensor(c.b, ml.DTypeF32, t.shape)
	for i, v := range t.Floats() {
		out.f32[i] = f(v)
	}

	return out
}

func (t *Tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	return t.unaryOp(ctx, func(x float32) float32 { return x * float32(s) })
}

func (t *Tensor) AddScalar(ctx ml.Context, s float64) ml.Tensor {
	return t.unaryOp(ctx, func(x float32) float32 { return x + float32(s) })
}

func (t *Tensor) Clip(ctx ml.Context, lo, hi float32) ml.Tensor {
	return t.unaryOp(ctx, func(x float32) float32 {
		return min(max(x, lo), hi)
	})
}
