package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
)

// Write serializes tensors to w in name order. The header is padded with
// spaces to an 8 byte boundary so data offsets stay aligned.
func Write(w io.Writer, tensors []*Tensor) error {
	sorted := slices.Clone(tensors)
	slices.SortFunc(sorted, func(a, b *Tensor) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})

	header := make(map[string]tensorMeta, len(sorted))
	var off int64
	for _, t := range sorted {
		if _, ok := header[t.Name]; ok {
			return fmt.Errorf("duplicate tensor name %q", t.Name)
		}

		size := int64(t.NumElements() * t.DType.size())
		header[t.Name] = tensorMeta{
			DType:   string(t.DType),
			Shape:   t.Shape,
			Offsets: [2]int64{off, off + size},
		}
		off += size
	}

	blob, err := json.Marshal(header)
	if err != nil {
		return err
	}
	for len(blob)%8 != 0 {
		blob = append(blob, ' ')
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(blob))); err != nil {
		return err
	}
	if _, err := w.Write(blob); err != nil {
		return err
	}

	for _, t := range sorted {
		if _, err := w.Write(t.data); err != nil {
			return err
		}
	}

	return nil
}

// WriteFile writes tensors to a new file at path.
func WriteFile(path string, tensors []*Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Write(f, tensors); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
