package nn

import "github.com/lumenml/lumen/ml"

type LayerNorm struct {
	Weight ml.Tensor
	Bias   ml.Tensor
	Eps    float32
}

func (m *LayerNorm) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return t.LayerNorm(ctx, m.Weight, m.Bias, m.Eps)
}

type GroupNorm struct {
	Weight ml.Tensor
	Bias   ml.Tensor
	Groups int
	Eps    float32
}

func (m *GroupNorm) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return t.GroupNorm(ctx, m.Weight, m.Bias, m.Groups, m.Eps)
}
