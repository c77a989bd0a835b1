package cpu

import (
	"encoding/binary"
	"fmt"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/lumenml/lumen/ml"
)

// Tensor is a dense row-major array. F32 and I32 tensors store their values
// directly; F16 and BF16 tensors keep a packed uint16 payload and widen on
// access. Tensors are immutable after construction.
type Tensor struct {
	b     *Backend
	dtype ml.DType
	shape []int

	f32 []float32
	i32 []int32
	u16 []uint16
}

func newTensor(b *Backend, dtype ml.DType, shape []int) *Tensor {
	n := numElements(shape)
	t := &Tensor{b: b, dtype: dtype, shape: append([]int(nil), shape...)}

	switch dtype {
	case ml.DTypeF32:
		t.f32 = make([]float32, n)
	case ml.DTypeI32:
		t.i32 = make([]int32, n)
	case ml.DTypeF16, ml.DTypeBF16:
		t.u16 = make([]uint16, n)
	default:
		panic(fmt.Sprintf("cpu: unsupported dtype %v", dtype))
	}

	return t
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("cpu: invalid dimension in shape %v", shape))
		}
		n *= d
	}

	return n
}

func (t *Tensor) Dim(n int) int { return t.shape[n] }

func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

func (t *Tensor) DType() ml.DType { return t.dtype }

// Floats returns the tensor values widened to float32 in row-major order.
// For F32 tensors the returned slice is the backing storage; callers must
// not mutate it.
func (t *Tensor) Floats() []float32 {
	switch t.dtype {
	case ml.DTypeF32:
		return t.f32
	case ml.DTypeI32:
		out := make([]float32, len(t.i32))
		for i, v := range t.i32 {
			out[i] = float32(v)
		}
		return out
	case ml.DTypeF16:
		out := make([]float32, len(t.u16))
		for i, v := range t.u16 {
			out[i] = float16.Frombits(v).Float32()
		}
		return out
	case ml.DTypeBF16:
		buf := make([]byte, 2*len(t.u16))
		for i, v := range t.u16 {
			binary.LittleEndian.PutUint16(buf[2*i:], v)
		}
		return bfloat16.DecodeFloat32(buf)
	}

	panic("cpu: unreachable dtype")
}

func (t *Tensor) Ints() []int32 {
	if t.dtype == ml.DTypeI32 {
		return t.i32
	}

	f := t.Floats()
	out := make([]int32, len(f))
	for i, v := range f {
		out[i] = int32(v)
	}

	return out
}

func (t *Tensor) Cast(ctx ml.Context, dtype ml.DType) ml.Tensor {
	c := ctx.(*Context)
	if dtype == t.dtype {
		out := newTensor(c.b, dtype, t.shape)
		copy(out.f32, t.f32)
		copy(out.i32, t.i32)
		copy(out.u16, t.u16)
		return out
	}

	out := newTensor(c.b, dtype, t.shape)
	src := t.Floats()

	switch dtype {
	case ml.DTypeF32:
		copy(out.f32, src)
	case ml.DTypeI32:
		for i, v := range src {
			out.i32[i] = int32(v)
		}
	case ml.DTypeF16:
		for i, v := range src {
			out.u16[i] = float16.Fromfloat32(v).Bits()
		}
	case ml.DTypeBF16:
		buf := bfloat16.EncodeFloat32(src)
		for i := range out.u16 {
			out.u16[i] = binary.LittleEndian.Uint16(buf[2*i:])
		}
	}

	return out
}
