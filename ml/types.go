package ml

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeI32
)

func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeBF16:
		return "BF16"
	case DTypeI32:
		return "I32"
	default:
		return "?"
	}
}

// Size returns the size of one element in bytes.
func (t DType) Size() int {
	switch t {
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 4
	}
}
