package convert

import (
	"github.com/lumenml/lumen/safetensors"
)

func parseSafetensors(ps ...string) ([]*tensorData, error) {
	var ts []*tensorData
	for _, p := range ps {
		f, err := safetensors.Open(p)
		if err != nil {
			return nil, err
		}

		for _, name := range f.Tensors() {
			t, err := f.GetTensor(name)
			if err != nil {
				f.Close()
				return nil, err
			}

			values, err := t.Floats()
			if err != nil {
				f.Close()
				return nil, err
			}

			ts = append(ts, &tensorData{name: name, shape: t.Shape, values: values})
		}

		if err := f.Close(); err != nil {
			return nil, err
		}
	}

	return ts, nil
}
