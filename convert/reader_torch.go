package convert

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

func parseTorch(ps ...string) ([]*tensorData, error) {
	var ts []*tensorData
	for _, p := range ps {
		pt, err := pytorch.Load(p)
		if err != nil {
			return nil, err
		}

		dict, ok := pt.(*types.Dict)
		if !ok {
			return nil, fmt.Errorf("unexpected pickle root %T in %s", pt, p)
		}

		for _, k := range dict.Keys() {
			v := dict.MustGet(k)
			t, ok := v.(*pytorch.Tensor)
			if !ok {
				continue
			}

			var shape []int
			for _, dim := range t.Size {
				shape = append(shape, dim)
			}

			var values []float32
			switch s := t.Source.(type) {
			case *pytorch.FloatStorage:
				values = s.Data
			case *pytorch.HalfStorage:
				values = s.Data
			case *pytorch.BFloat16Storage:
				values = s.Data
			default:
				return nil, fmt.Errorf("unknown storage type %T for %s", s, k)
			}

			ts = append(ts, &tensorData{name: k.(string), shape: shape, values: values})
		}
	}

	return ts, nil
}
