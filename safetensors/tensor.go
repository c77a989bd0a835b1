package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType is the storage type of a tensor in a safetensors file.
type DType string

const (
	F32  DType = "F32"
	F16  DType = "F16"
	BF16 DType = "BF16"
	F64  DType = "F64"
	I32  DType = "I32"
	I64  DType = "I64"
)

func parseDType(s string) (DType, error) {
	switch DType(s) {
	case F32, F16, BF16, F64, I32, I64:
		return DType(s), nil
	default:
		return "", fmt.Errorf("unsupported dtype %q", s)
	}
}

func (d DType) size() int {
	switch d {
	case F16, BF16:
		return 2
	case F32, I32:
		return 4
	case F64, I64:
		return 8
	default:
		return 0
	}
}

// Tensor is a named tensor backed by raw little-endian bytes.
type Tensor struct {
	Name  string
	DType DType
	Shape []int
	data  []byte
}

// NumElements returns the element count implied by the shape.
func (t *Tensor) NumElements() int {
	n := 1
	for _, dim := range t.Shape {
		n *= dim
	}

	return n
}

// Floats decodes the tensor data to float32 regardless of storage type.
func (t *Tensor) Floats() ([]float32, error) {
	n := t.NumElements()
	out := make([]float32, n)

	switch t.DType {
	case F32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
		}
	case F16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.data[i*2:])).Float32()
		}
	case BF16:
		copy(out, bfloat16.DecodeFloat32(t.data))
	case F64:
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(t.data[i*8:])))
		}
	default:
		return nil, fmt.Errorf("tensor %q: cannot decode dtype %s as floats", t.Name, t.DType)
	}

	return out, nil
}

// Ints decodes an integer tensor to int32.
func (t *Tensor) Ints() ([]int32, error) {
	n := t.NumElements()
	out := make([]int32, n)

	switch t.DType {
	case I32:
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(t.data[i*4:]))
		}
	case I64:
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint64(t.data[i*8:]))
		}
	default:
		return nil, fmt.Errorf("tensor %q: cannot decode dtype %s as ints", t.Name, t.DType)
	}

	return out, nil
}

// FromFloats builds a tensor by encoding values into the given storage type.
func FromFloats(name string, dtype DType, shape []int, values []float32) (*Tensor, error) {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	if n != len(values) {
		return nil, fmt.Errorf("tensor %q: %d values do not fill shape %v", name, len(values), shape)
	}

	var data []byte
	switch dtype {
	case F32:
		data = make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
	case F16:
		data = make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
		}
	case BF16:
		data = bfloat16.EncodeFloat32(values)
	default:
		return nil, fmt.Errorf("tensor %q: cannot encode dtype %s", name, dtype)
	}

	return &Tensor{Name: name, DType: dtype, Shape: shape, data: data}, nil
}
