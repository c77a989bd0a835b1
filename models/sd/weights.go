package sd

import (
	"fmt"

	"github.com/lumenml/lumen/diffusion"
	"github.com/lumenml/lumen/ml"
	"github.com/lumenml/lumen/ml/nn"
	"github.com/lumenml/lumen/safetensors"
)

// weights materializes checkpoint tensors into a compute context. The
// first failure sticks; callers build the whole module then check err
// once.
type weights struct {
	ctx  ml.Context
	file *safetensors.File
	err  error
}

func (w *weights) tensor(name string) ml.Tensor {
	if w.err != nil {
		return nil
	}

	t, err := w.file.GetTensor(name)
	if err != nil {
		w.err = err
		return nil
	}

	values, err := t.Floats()
	if err != nil {
		w.err = err
		return nil
	}

	return w.ctx.FromFloats(values, t.Shape...)
}

// optional returns nil without error when the tensor is absent.
func (w *weights) optional(name string) ml.Tensor {
	if w.err != nil || !w.file.HasTensor(name) {
		return nil
	}

	return w.tensor(name)
}

func (w *weights) linear(prefix string) *nn.Linear {
	return &nn.Linear{
		Weight: w.tensor(prefix + ".weight"),
		Bias:   w.optional(prefix + ".bias"),
	}
}

func (w *weights) conv(prefix string, stride, padding int) *nn.Conv2D {
	return &nn.Conv2D{
		Weight:  w.tensor(prefix + ".weight"),
		Bias:    w.optional(prefix + ".bias"),
		Stride:  stride,
		Padding: padding,
	}
}

func (w *weights) layerNorm(prefix string, eps float32) *nn.LayerNorm {
	return &nn.LayerNorm{
		Weight: w.tensor(prefix + ".weight"),
		Bias:   w.optional(prefix + ".bias"),
		Eps:    eps,
	}
}

func (w *weights) groupNorm(prefix string, groups int) *nn.GroupNorm {
	return &nn.GroupNorm{
		Weight: w.tensor(prefix + ".weight"),
		Bias:   w.optional(prefix + ".bias"),
		Groups: groups,
		Eps:    1e-6,
	}
}

func (w *weights) check(stage string) error {
	if w.err != nil {
		return fmt.Errorf("%w: %s: %w", diffusion.ErrModelLoad, stage, w.err)
	}

	return nil
}
