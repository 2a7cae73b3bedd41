// ABOUTME: Seeded dimensionality reduction for segment embeddings
// ABOUTME: Gaussian random projection followed by a k-nearest-neighbour smoothing pass
package cluster

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/harper/chatlake/internal/vecmath"
)

// smoothing is the weight a point keeps against its neighbourhood mean
const smoothing = 0.5

// Project reduces vectors to dims dimensions. Each point is mapped through a
// Gaussian random basis drawn from seed, then pulled toward the mean of its
// k nearest neighbours in the original (cosine) space so that local
// neighbourhoods survive the reduction. The output depends only on the
// inputs: rows are computed independently, so scheduling cannot change a bit.
func Project(ctx context.Context, vectors [][]float64, dims, neighbors int, seed uint64) ([][]float64, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	if dims <= 0 {
		return nil, fmt.Errorf("projection dims must be positive, got %d", dims)
	}
	in := len(vectors[0])
	for i, v := range vectors {
		if len(v) != in || in == 0 {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), in)
		}
	}

	basis := gaussianBasis(in, dims, seed)
	unit := make([][]float64, n)
	projected := make([][]float64, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range vectors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			unit[i] = vecmath.Normalize(vectors[i])
			projected[i] = multiply(vectors[i], basis, dims)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	k := min(neighbors, n-1)
	if k <= 0 {
		return projected, nil
	}

	smoothed := make([][]float64, n)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range projected {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			nbrs := nearest(unit, i, k)
			out := make([]float64, dims)
			for _, j := range nbrs {
				for d := range out {
					out[d] += projected[j][d]
				}
			}
			for d := range out {
				out[d] = smoothing*projected[i][d] + (1-smoothing)*out[d]/float64(len(nbrs))
			}
			smoothed[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return smoothed, nil
}

// gaussianBasis draws an in x dims matrix of N(0, 1/dims) entries in row order.
func gaussianBasis(in, dims int, seed uint64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	scale := 1 / math.Sqrt(float64(dims))
	basis := make([][]float64, in)
	for r := range basis {
		row := make([]float64, dims)
		for c := range row {
			row[c] = rng.NormFloat64() * scale
		}
		basis[r] = row
	}
	return basis
}

func multiply(v []float64, basis [][]float64, dims int) []float64 {
	out := make([]float64, dims)
	for r, x := range v {
		if x == 0 {
			continue
		}
		row := basis[r]
		for c := range out {
			out[c] += x * row[c]
		}
	}
	return out
}

// nearest returns the k most cosine-similar points to i (excluding i),
// breaking ties on the lower index.
func nearest(unit [][]float64, i, k int) []int {
	type cand struct {
		idx int
		sim float64
	}
	cands := make([]cand, 0, len(unit)-1)
	for j := range unit {
		if j == i {
			continue
		}
		var dot float64
		for d := range unit[i] {
			dot += unit[i][d] * unit[j][d]
		}
		cands = append(cands, cand{idx: j, sim: dot})
	}
	slices.SortFunc(cands, func(a, b cand) int {
		switch {
		case a.sim > b.sim:
			return -1
		case a.sim < b.sim:
			return 1
		}
		return a.idx - b.idx
	})
	out := make([]int, k)
	for x := range out {
		out[x] = cands[x].idx
	}
	return out
}
