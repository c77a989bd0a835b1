package cpu

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lumenml/lumen/ml"
)

// Context creates tensors bound to a backend. It carries no hidden state;
// Close exists for symmetry with device-backed backends where a context owns
// device allocations.
type Context struct {
	b *Backend
}

func (c *Context) Empty(dtype ml.DType, shape ...int) ml.Tensor {
	return c.Zeros(dtype, shape...)
}

func (c *Context) Zeros(dtype ml.DType, shape ...int) ml.Tensor {
	t := newTensor(c.b, dtype, shape)
	return t
}

func (c *Context) FromFloats(s []float32, shape ...int) ml.Tensor {
	if len(s) != numElements(shape) {
		panic(fmt.Sprintf("cpu: %d values for shape %v", len(s), shape))
	}

	t := newTensor(c.b, ml.DTypeF32, shape)
	copy(t.f32, s)
	return t
}

func (c *Context) FromInts(s []int32, shape ...int) ml.Tensor {
	if len(s) != numElements(shape) {
		panic(fmt.Sprintf("cpu: %d values for shape %v", len(s), shape))
	}

	t := newTensor(c.b, ml.DTypeI32, shape)
	copy(t.i32, s)
	return t
}

func (c *Context) Arange(start, stop, step float32, dtype ml.DType) ml.Tensor {
	if step <= 0 {
		panic("cpu: arange step must be positive")
	}

	var values []float32
	for v := start; v < stop; v += step {
		values = append(values, v)
	}

	if dtype == ml.DTypeI32 {
		ints := make([]int32, len(values))
		for i, v := range values {
			ints[i] = int32(v)
		}
		return c.FromInts(ints, len(ints))
	}

	return c.FromFloats(values, len(values))
}

func (c *Context) RandNormal(seed int64, shape ...int) ml.Tensor {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: 1,
		Src:   rand.NewSource(uint64(seed)),
	}

	t := newTensor(c.b, ml.DTypeF32, shape)
	for i := range t.f32 {
		t.f32[i] = float32(dist.Rand())
	}

	return t
}

func (c *Context) Close() {}
