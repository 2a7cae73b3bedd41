// ABOUTME: Hierarchical density clustering over projected points
// ABOUTME: Mutual-reachability MST, condensed tree, excess-of-mass selection; sparse points stay noise
package cluster

import (
	"context"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/harper/chatlake/internal/vecmath"
)

// Noise is the label of a point that meets no cluster's density criterion
const Noise = -1

// minHeight keeps lambda = 1/distance finite for coincident points
const minHeight = 1e-10

type mstEdge struct {
	a, b int
	w    float64
}

// condensedEdge records child (a point below n, or a cluster id at or above n)
// leaving parent at lambda
type condensedEdge struct {
	parent int
	child  int
	lambda float64
	size   int
}

// Density labels each point with a cluster number starting at 0, or Noise.
// Clusters smaller than minClusterSize are never reported and a point is
// never attached to a cluster it does not densely belong to. minSamples sets
// the neighbourhood used for core distances. Labels are numbered in order of
// each cluster's lowest point index, so equal input gives equal output.
func Density(ctx context.Context, points [][]float64, minClusterSize, minSamples int) ([]int, error) {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if minClusterSize < 2 {
		minClusterSize = 2
	}
	if n < minClusterSize || n < 2 {
		return labels, nil
	}

	core, err := coreDistances(ctx, points, min(max(minSamples, 1), n-1))
	if err != nil {
		return nil, err
	}
	edges, err := reachabilityTree(ctx, points, core)
	if err != nil {
		return nil, err
	}
	tree, numClusters := condense(n, edges, minClusterSize)
	selected, clusterParent := selectClusters(n, tree, numClusters)

	pointParent := make([]int, n)
	for _, e := range tree {
		if e.child < n {
			pointParent[e.child] = e.parent
		}
	}

	next := 0
	assigned := make(map[int]int)
	for p := range points {
		c := pointParent[p] - n
		for c > 0 && !selected[c] {
			c = clusterParent[c]
		}
		if c <= 0 {
			continue
		}
		label, ok := assigned[c]
		if !ok {
			label = next
			assigned[c] = label
			next++
		}
		labels[p] = label
	}
	return labels, nil
}

// Members groups point indices by label, in label order. Noise is omitted.
func Members(labels []int) [][]int {
	count := 0
	for _, l := range labels {
		count = max(count, l+1)
	}
	groups := make([][]int, count)
	for i, l := range labels {
		if l != Noise {
			groups[l] = append(groups[l], i)
		}
	}
	return groups
}

// coreDistances returns each point's distance to its k-th nearest neighbour.
func coreDistances(ctx context.Context, points [][]float64, k int) ([]float64, error) {
	core := make([]float64, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range points {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dists := make([]float64, 0, len(points)-1)
			for j := range points {
				if j != i {
					dists = append(dists, vecmath.Euclidean(points[i], points[j]))
				}
			}
			slices.Sort(dists)
			core[i] = dists[k-1]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return core, nil
}

// reachabilityTree builds the minimum spanning tree of the mutual
// reachability graph with Prim's algorithm, sorted by weight. Distances are
// computed on the fly to keep memory linear in the number of points.
func reachabilityTree(ctx context.Context, points [][]float64, core []float64) ([]mstEdge, error) {
	n := len(points)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	cur := 0
	inTree[cur] = true
	for len(edges) < n-1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			d := max(vecmath.Euclidean(points[cur], points[j]), core[cur], core[j])
			if d < best[j] {
				best[j] = d
				from[j] = cur
			}
			if next == -1 || best[j] < best[next] {
				next = j
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, w: best[next]})
		cur = next
	}

	slices.SortStableFunc(edges, func(x, y mstEdge) int {
		switch {
		case x.w < y.w:
			return -1
		case x.w > y.w:
			return 1
		}
		return 0
	})
	return edges, nil
}

// condense turns the single-linkage hierarchy into the condensed tree, where
// a split only creates clusters when both sides hold minClusterSize points.
// Cluster ids start at n (the root) and every child id exceeds its parent's.
func condense(n int, edges []mstEdge, minClusterSize int) ([]condensedEdge, int) {
	total := 2*n - 1
	left := make([]int, n-1)
	right := make([]int, n-1)
	height := make([]float64, n-1)
	size := make([]int, total)
	uf := make([]int, total)
	for i := range uf {
		uf[i] = i
		if i < n {
			size[i] = 1
		}
	}
	find := func(x int) int {
		for uf[x] != x {
			uf[x] = uf[uf[x]]
			x = uf[x]
		}
		return x
	}
	for k, e := range edges {
		ra, rb := find(e.a), find(e.b)
		node := n + k
		left[k], right[k], height[k] = ra, rb, e.w
		size[node] = size[ra] + size[rb]
		uf[ra], uf[rb] = node, node
	}

	leaves := func(node int) []int {
		var out []int
		stack := []int{node}
		for len(stack) > 0 {
			x := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if x < n {
				out = append(out, x)
				continue
			}
			stack = append(stack, right[x-n], left[x-n])
		}
		return out
	}

	root := total - 1
	relabel := make([]int, total)
	relabel[root] = n
	nextLabel := n + 1

	var tree []condensedEdge
	fallOut := func(parent, node int, lambda float64) {
		for _, p := range leaves(node) {
			tree = append(tree, condensedEdge{parent: parent, child: p, lambda: lambda, size: 1})
		}
	}

	stack := []int{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		k := node - n
		l, r := left[k], right[k]
		lambda := 1 / max(height[k], minHeight)
		parent := relabel[node]
		ls, rs := size[l], size[r]

		switch {
		case ls >= minClusterSize && rs >= minClusterSize:
			for _, child := range []int{l, r} {
				relabel[child] = nextLabel
				tree = append(tree, condensedEdge{parent: parent, child: nextLabel, lambda: lambda, size: size[child]})
				nextLabel++
			}
			stack = append(stack, r, l)
		case ls < minClusterSize && rs < minClusterSize:
			fallOut(parent, l, lambda)
			fallOut(parent, r, lambda)
		case ls < minClusterSize:
			fallOut(parent, l, lambda)
			relabel[r] = parent
			stack = append(stack, r)
		default:
			fallOut(parent, r, lambda)
			relabel[l] = parent
			stack = append(stack, l)
		}
	}
	return tree, nextLabel - n
}

// selectClusters picks the flat clustering with the greatest total stability
// (excess of mass). The root is never selected. Both returned slices are
// indexed by cluster id minus n; clusterParent of the root is -1.
func selectClusters(n int, tree []condensedEdge, numClusters int) ([]bool, []int) {
	birth := make([]float64, numClusters)
	clusterParent := make([]int, numClusters)
	clusterParent[0] = -1
	children := make([][]int, numClusters)
	for _, e := range tree {
		if e.child >= n {
			c := e.child - n
			birth[c] = e.lambda
			clusterParent[c] = e.parent - n
			children[e.parent-n] = append(children[e.parent-n], c)
		}
	}

	stability := make([]float64, numClusters)
	for _, e := range tree {
		p := e.parent - n
		stability[p] += (e.lambda - birth[p]) * float64(e.size)
	}

	selected := make([]bool, numClusters)
	value := make([]float64, numClusters)
	var deselect func(c int)
	deselect = func(c int) {
		for _, ch := range children[c] {
			selected[ch] = false
			deselect(ch)
		}
	}
	for c := numClusters - 1; c >= 1; c-- {
		var childSum float64
		for _, ch := range children[c] {
			childSum += value[ch]
		}
		if len(children[c]) > 0 && childSum > stability[c] {
			value[c] = childSum
			continue
		}
		selected[c] = true
		value[c] = stability[c]
		deselect(c)
	}
	return selected, clusterParent
}
