package cpu

import (
	"fmt"

	"github.com/lumenml/lumen/ml"
)

func (t *Tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	if numElements(shape) != numElements(t.shape) {
		panic(fmt.Sprintf("cpu: cannot reshape %v to %v", t.shape, shape))
	}

	// Tensors are immutable, so the reshaped view shares storage.
	out := &Tensor{b: t.b, dtype: t.dtype, shape: append([]int(nil), shape...)}
	out.f32, out.i32, out.u16 = t.f32, t.i32, t.u16
	return out
}

// Permute reorders axes, materializing a contiguous copy.
func (t *Tensor) Permute(ctx ml.Context, order ...int) ml.Tensor {
	c := ctx.(*Context)
	rank := len(t.shape)
	if len(order) != rank {
		panic(fmt.Sprintf("cpu: permute order %v for shape %v", order, t.shape))
	}

	shape := make([]int, rank)
	for i, o := range order {
		shape[i] = t.shape[o]
	}

	srcStrides := contiguousStrides(t.shape)
	out := newTensor(c.b, ml.DTypeF32, shape)
	src := t.Floats()

	idx := make([]int, rank)
	for i := range out.f32 {
		si := 0
		for d := 0; d < rank; d++ {
			si += idx[d] * srcStrides[order[d]]
		}
		out.f32[i] = src[si]

		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}

	return out
}

// Contiguous is a no-op: this backend always materializes row-major tensors.
func (t *Tensor) Contiguous(ctx ml.Context) ml.Tensor {
	return t
}

func (t *Tensor) Concat(ctx ml.Context, t2 ml.Tensor, dim int) ml.Tensor {
	c := ctx.(*Context)
	b := t2.(*Tensor)

	if len(t.shape) != len(b.shape) {
		panic(fmt.Sprintf("cpu: concat rank mismatch %v x %v", t.shape, b.shape))
	}
	for d := range t.shape {
		if d != dim && t.shape[d] != b.shape[d] {
			panic(fmt.Sprintf("cpu: concat shape mismatch %v x %v on dim %d", t.shape, b.shape, dim))
		}
	}

	shape := append([]int(nil), t.shape...)
	shape[dim] += b.shape[dim]
	out := newTensor(c.b, ml.DTypeF32, shape)

	av, bv := t.Floats(), b.Floats()

	outer := numElements(t.shape[:dim])
	aInner := numElements(t.shape[dim:])
	bInner := numElements(b.shape[dim:])

	for o := 0; o < outer; o++ {
		copy(out.f32[o*(aInner+bInner):], av[o*aInner:(o+1)*aInner])
		copy(out.f32[o*(aInner+bInner)+aInner:], bv[o*bInner:(o+1)*bInner])
	}

	return out
}

func (t *Tensor) Slice(ctx ml.Context, dim, start, stop int) ml.Tensor {
	c := ctx.(*Context)

	if dim < 0 || dim >= len(t.shape) || start < 0 || stop > t.shape[dim] || start >= stop {
		panic(fmt.Sprintf("cpu: slice [%d:%d] of dim %d in shape %v", start, stop, dim, t.shape))
	}

	shape := append([]int(nil), t.shape...)
	shape[dim] = stop - start
	out := newTensor(c.b, ml.DTypeF32, shape)

	src := t.Floats()
	outer := numElements(t.shape[:dim])
	inner := numElements(t.shape[dim+1:])
	srcStride := t.shape[dim] * inner
	dstStride := (stop - start) * inner

	for o := 0; o < outer; o++ {
		copy(out.f32[o*dstStride:(o+1)*dstStride], src[o*srcStride+start*inner:o*srcStride+stop*inner])
	}

	return out
}

// TakeAxes gathers slices along axis using a 1-D I32 index tensor.
func (t *Tensor) TakeAxes(ctx ml.Context, indices ml.Tensor, axis int) ml.Tensor {
	c := ctx.(*Context)

	ids := indices.Ints()
	shape := append([]int(nil), t.shape...)
	shape[axis] = len(ids)
	out := newTensor(c.b, ml.DTypeF32, shape)

	src := t.Floats()
	outer := numElements(t.shape[:axis])
	inner := numElements(t.shape[axis+1:])
	srcStride := t.shape[axis] * inner
	dstStride := len(ids) * inner

	for o := 0; o < outer; o++ {
		for i, id := range ids {
			if id < 0 || int(id) >= t.shape[axis] {
				panic(fmt.Sprintf("cpu: take index %d out of range for dim %d of %v", id, axis, t.shape))
			}
			copy(out.f32[o*dstStride+i*inner:o*dstStride+(i+1)*inner],
				src[o*srcStride+int(id)*inner:o*srcStride+(int(id)+1)*inner])
		}
	}

	return out
}

func contiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}
