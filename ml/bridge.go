package ml

// Convert copies a tensor into dst, passing every element through the target
// numeric representation. Shape and element order are preserved exactly;
// value changes are bounded by the target format's rounding rules. It is the
// hand-off used at pipeline stage boundaries, where conditioning and latents
// move between the full-precision and half-precision stages.
func Convert(dst Context, t Tensor, dtype DType) Tensor {
	if dtype == DTypeI32 {
		return dst.FromInts(t.Ints(), t.Shape()...)
	}

	f32 := dst.FromFloats(t.Floats(), t.Shape()...)
	if dtype == DTypeF32 {
		return f32
	}

	return f32.Cast(dst, dtype)
}
