package convert

import (
	"errors"
	"path/filepath"
)

// tensorData is one checkpoint tensor decoded to float32, independent of
// the source file format.
type tensorData struct {
	name   string
	shape  []int
	values []float32
}

func (t *tensorData) elements() int {
	n := 1
	for _, dim := range t.shape {
		n *= dim
	}

	return n
}

// parseTensors reads all tensors of one pipeline component. Both
// safetensors and pickled torch checkpoints are supported.
func parseTensors(dir string) ([]*tensorData, error) {
	patterns := map[string]func(...string) ([]*tensorData, error){
		"model.safetensors":                   parseSafetensors,
		"model-*-of-*.safetensors":            parseSafetensors,
		"diffusion_pytorch_model.safetensors": parseSafetensors,
		"pytorch_model.bin":                   parseTorch,
		"pytorch_model-*-of-*.bin":            parseTorch,
		"diffusion_pytorch_model.bin":         parseTorch,
	}

	for pattern, parseFn := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}

		if len(matches) > 0 {
			return parseFn(matches...)
		}
	}

	return nil, errors.New("unknown tensor format")
}
