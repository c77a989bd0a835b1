// Package nn provides the layer primitives the sub-models are assembled
// from. Layers hold their weights as ml.Tensor fields and expose a Forward
// method; construction happens in the model loaders.
package nn

import "github.com/lumenml/lumen/ml"

// Linear applies y = x W^T + b. Weight keeps the checkpoint layout
// [out_features, in_features].
type Linear struct {
	Weight ml.Tensor
	Bias   ml.Tensor
}

func (m *Linear) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	out := t.Matmul(ctx, m.Weight.Permute(ctx, 1, 0))
	if m.Bias != nil {
		out = out.Add(ctx, m.Bias)
	}

	return out
}
