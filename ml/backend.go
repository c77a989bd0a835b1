// Package ml defines the tensor and backend interfaces shared by the
// diffusion pipeline and the sub-model implementations. Tensor math is
// expressed against a small capability set (shape introspection, elementwise
// ops, matmul, convolution, casts) so the sampler never depends on a
// concrete execution backend.
package ml

import "fmt"

// Backend represents a tensor execution backend (e.g., the pure-Go CPU
// backend). Backends are registered by name at init time.
type Backend interface {
	// Name returns the registered backend name.
	Name() string

	// NewContext creates an execution context for tensor operations.
	NewContext() Context

	// Close frees all memory associated with this backend.
	Close()
}

// BackendParams controls how a backend executes tensor operations.
type BackendParams struct {
	// NumThreads sets the number of worker goroutines for parallel
	// kernels. Zero means one worker per logical CPU.
	NumThreads int
}

var backends = make(map[string]func(BackendParams) (Backend, error))

// RegisterBackend registers a backend factory function.
func RegisterBackend(name string, f func(BackendParams) (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("ml: backend already registered")
	}

	backends[name] = f
}

// NewBackend creates a new backend instance by name.
func NewBackend(name string, params BackendParams) (Backend, error) {
	if f, ok := backends[name]; ok {
		return f(params)
	}

	return nil, fmt.Errorf("ml: unsupported backend %q", name)
}
