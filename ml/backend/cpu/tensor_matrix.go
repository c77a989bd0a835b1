package cpu

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lumenml/lumen/ml"
)

// Matmul multiplies the trailing two axes of t and t2, broadcasting leading
// batch axes. [..., m, k] x [..., k, n] -> [..., m, n].
func (t *Tensor) Matmul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	c := ctx.(*Context)
	b := t2.(*Tensor)

	if len(t.shape) < 2 || len(b.shape) < 2 {
		panic(fmt.Sprintf("cpu: matmul requires rank >= 2, got %v x %v", t.shape, b.shape))
	}

	m, ka := t.shape[len(t.shape)-2], t.shape[len(t.shape)-1]
	kb, n := b.shape[len(b.shape)-2], b.shape[len(b.shape)-1]
	if ka != kb {
		panic(fmt.Sprintf("cpu: matmul inner dimensions %v x %v", t.shape, b.shape))
	}

	batchShape := broadcastShape(t.shape[:len(t.shape)-2], b.shape[:len(b.shape)-2])
	outShape := append(append([]int(nil), batchShape...), m, n)
	out := newTensor(c.b, ml.DTypeF32, outShape)

	av, bv := t.Floats(), b.Floats()

	batch := numElements(batchShape)
	as := broadcastStrides(t.shape[:len(t.shape)-2], batchShape)
	bs := broadcastStrides(b.shape[:len(b.shape)-2], batchShape)

	var g errgroup.Group
	g.SetLimit(c.b.threads)

	for bi := 0; bi < batch; bi++ {
		aoff, boff := 0, 0
		rem := bi
		for d := len(batchShape) - 1; d >= 0; d-- {
			i := rem % batchShape[d]
			rem /= batchShape[d]
			aoff += i * as[d] * m * ka
			boff += i * bs[d] * ka * n
		}

		dst := out.f32[bi*m*n : (bi+1)*m*n]
		lhs := av[aoff : aoff+m*ka]
		rhs := bv[boff : boff+ka*n]

		g.Go(func() error {
			matmulBlocked(dst, lhs, rhs, m, ka, n)
			return nil
		})
	}

	g.Wait() //nolint:errcheck

	return out
}

// matmulBlocked is a cache-blocked serial kernel; parallelism comes from the
// batch fan-out above.
func matmulBlocked(dst, a, b []float32, m, k, n int) {
	const blockSize = 32

	for i0 := 0; i0 < m; i0 += blockSize {
		i1 := min(i0+blockSize, m)
		for k0 := 0; k0 < k; k0 += blockSize {
			k1 := min(k0+blockSize, k)
			for j0 := 0; j0 < n; j0 += blockSize {
				j1 := min(j0+blockSize, n)

				for i := i0; i < i1; i++ {
					for kk := k0; kk < k1; kk++ {
						aik := a[i*k+kk]
						if aik == 0 {
							continue
						}
						row := b[kk*n : kk*n+n]
						drow := dst[i*n : i*n+n]
						for j := j0; j < j1; j++ {
							drow[j] += aik * row[j]
						}
					}
				}
			}
		}
	}
}
