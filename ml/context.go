package ml

// Context represents an execution context for tensor operations. Contexts
// own the tensors created through them; Close releases everything at once,
// which is how the pipeline bounds per-stage memory.
type Context interface {
	Empty(dtype DType, shape ...int) Tensor
	Zeros(dtype DType, shape ...int) Tensor
	FromFloats(s []float32, shape ...int) Tensor
	FromInts(s []int32, shape ...int) Tensor

	// Arange creates a 1D tensor with values in [start, stop) increased by step.
	Arange(start, stop, step float32, dtype DType) Tensor

	// RandNormal creates a tensor of independent standard-normal draws.
	// The same seed always produces the same tensor.
	RandNormal(seed int64, shape ...int) Tensor

	Close()
}

// Tensor represents a multi-dimensional array. All operations are eager and
// side-effect free: they return new tensors owned by ctx.
type Tensor interface {
	Dim(n int) int
	Shape() []int
	DType() DType

	// Floats returns the element values widened to float32, in row-major
	// order. Ints returns them narrowed to int32.
	Floats() []float32
	Ints() []int32

	Add(ctx Context, t2 Tensor) Tensor
	Sub(ctx Context, t2 Tensor) Tensor
	Mul(ctx Context, t2 Tensor) Tensor
	Scale(ctx Context, s float64) Tensor
	AddScalar(ctx Context, s float64) Tensor
	Clip(ctx Context, lo, hi float32) Tensor

	// Matmul multiplies the trailing two axes, broadcasting leading axes.
	Matmul(ctx Context, t2 Tensor) Tensor

	// Softmax is computed over the trailing axis.
	Softmax(ctx Context) Tensor
	LayerNorm(ctx Context, weight, bias Tensor, eps float32) Tensor
	GroupNorm(ctx Context, weight, bias Tensor, groups int, eps float32) Tensor

	GELU(ctx Context) Tensor
	QuickGELU(ctx Context) Tensor
	SILU(ctx Context) Tensor

	// Conv2D applies weight [OC, IC, KH, KW] to an NCHW input with the
	// same stride and zero padding on both spatial axes.
	Conv2D(ctx Context, weight Tensor, stride, padding int) Tensor

	Reshape(ctx Context, shape ...int) Tensor
	Permute(ctx Context, order ...int) Tensor
	Contiguous(ctx Context) Tensor
	Concat(ctx Context, t2 Tensor, dim int) Tensor
	Slice(ctx Context, dim, start, stop int) Tensor

	// TakeAxes gathers elements along axis using an I32 index tensor.
	TakeAxes(ctx Context, indices Tensor, axis int) Tensor

	Cast(ctx Context, dtype DType) Tensor
}
