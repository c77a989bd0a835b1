// Package cpu implements the ml interfaces with pure-Go kernels. Operations
// execute eagerly; elementwise math is done in float32 regardless of the
// storage dtype, so half-precision tensors pay a decode cost on use but
// halve resident memory, which is what the sampling stage wants.
package cpu

import (
	"runtime"

	"github.com/lumenml/lumen/ml"
)

// Backend executes tensor operations on the host CPU.
type Backend struct {
	threads int
}

func init() {
	ml.RegisterBackend("cpu", func(params ml.BackendParams) (ml.Backend, error) {
		threads := params.NumThreads
		if threads <= 0 {
			threads = runtime.GOMAXPROCS(0)
		}

		return &Backend{threads: threads}, nil
	})
}

func (b *Backend) Name() string { return "cpu" }

func (b *Backend) NewContext() ml.Context {
	return &Context{b: b}
}

// Close is a no-op: host memory is reclaimed when the last tensor created
// through a context becomes unreachable.
func (b *Backend) Close() {}
