// Package safetensors reads and writes checkpoint files in the safetensors
// format: an 8 byte little-endian header length, a JSON header mapping
// tensor names to dtype, shape and byte offsets, then the raw tensor data.
// Files are memory mapped so opening a multi-gigabyte checkpoint is cheap
// and tensors are paged in as they are materialized.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/edsrzf/mmap-go"
)

type tensorMeta struct {
	DType   string  `json:"dtype"`
	Shape   []int   `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// File is an open, memory-mapped safetensors checkpoint.
type File struct {
	path    string
	f       *os.File
	mm      mmap.MMap
	entries map[string]tensorMeta
	dataOff int64
}

// Open maps the checkpoint at path and parses its header.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	if len(mm) < 8 {
		mm.Unmap()
		f.Close()
		return nil, fmt.Errorf("%s: truncated safetensors header", path)
	}

	headerLen := int64(binary.LittleEndian.Uint64(mm[:8]))
	if headerLen < 2 || 8+headerLen > int64(len(mm)) {
		mm.Unmap()
		f.Close()
		return nil, fmt.Errorf("%s: invalid safetensors header length %d", path, headerLen)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(mm[8:8+headerLen], &raw); err != nil {
		mm.Unmap()
		f.Close()
		return nil, fmt.Errorf("%s: parse safetensors header: %w", path, err)
	}

	entries := make(map[string]tensorMeta, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}

		var meta tensorMeta
		if err := json.Unmarshal(msg, &meta); err != nil {
			mm.Unmap()
			f.Close()
			return nil, fmt.Errorf("%s: tensor %q: %w", path, name, err)
		}
		entries[name] = meta
	}

	return &File{
		path:    path,
		f:       f,
		mm:      mm,
		entries: entries,
		dataOff: 8 + headerLen,
	}, nil
}

func (f *File) Close() error {
	if err := f.mm.Unmap(); err != nil {
		f.f.Close()
		return err
	}

	return f.f.Close()
}

// Tensors returns the tensor names in the file, sorted.
func (f *File) Tensors() []string {
	names := make([]string, 0, len(f.entries))
	for name := range f.entries {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// HasTensor reports whether name is present in the file.
func (f *File) HasTensor(name string) bool {
	_, ok := f.entries[name]
	return ok
}

// GetTensor returns the named tensor. The returned tensor's data still
// aliases the mapped file and is only valid until Close.
func (f *File) GetTensor(name string) (*Tensor, error) {
	meta, ok := f.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: tensor %q not found", f.path, name)
	}

	start := f.dataOff + meta.Offsets[0]
	end := f.dataOff + meta.Offsets[1]
	if start < f.dataOff || end > int64(len(f.mm)) || end < start {
		return nil, fmt.Errorf("%s: tensor %q: data offsets out of range", f.path, name)
	}

	dtype, err := parseDType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("%s: tensor %q: %w", f.path, name, err)
	}

	n := 1
	for _, dim := range meta.Shape {
		n *= dim
	}
	if int64(n)*int64(dtype.size()) != end-start {
		return nil, fmt.Errorf("%s: tensor %q: data size %d does not match shape %v",
			f.path, name, end-start, meta.Shape)
	}

	return &Tensor{
		Name:  name,
		DType: dtype,
		Shape: slices.Clone(meta.Shape),
		data:  f.mm[start:end],
	}, nil
}
