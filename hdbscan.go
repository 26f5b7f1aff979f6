package siseon

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Noise is the label of points that belong to no cluster.
const Noise = -1

// DensityClusterer assigns one label per row; Noise marks unclustered rows.
type DensityClusterer interface {
	FitPredict(x *mat.Dense) ([]int, error)
}

// NewClusterer returns the configured density clusterer.
func NewClusterer(cfg ClusteringConfig) DensityClusterer {
	if cfg.Algorithm == "dbscan" {
		return DBSCAN{MinPts: cfg.MinSamples, Eps: cfg.DBSCANEps}
	}
	return HDBSCAN{MinClusterSize: cfg.MinClusterSize, MinSamples: cfg.MinSamples}
}

// HDBSCAN is hierarchical density clustering with excess-of-mass selection.
// The root of the hierarchy is never selected, so a dataset with one dense
// region and nothing else comes back as noise.
type HDBSCAN struct {
	MinClusterSize int
	MinSamples     int
}

// minLambdaDistance bounds lambda for coincident points.
const minLambdaDistance = 1e-12

type mstEdge struct {
	a, b   int
	weight float64
}

// linkage is one merge of the single-linkage tree. Nodes below n are points.
type linkage struct {
	left, right int
	distance    float64
	size        int
}

// condensedRow records a cluster splitting off (point=false) or a point
// falling out (point=true) of parent at lambda = 1/distance.
type condensedRow struct {
	parent int
	child  int
	point  bool
	lambda float64
	size   int
}

func (h HDBSCAN) FitPredict(x *mat.Dense) ([]int, error) {
	if x == nil {
		return nil, fmt.Errorf("hdbscan: nil input")
	}
	if h.MinClusterSize < 2 || h.MinSamples < 1 {
		return nil, fmt.Errorf("hdbscan: invalid parameters minClusterSize=%d minSamples=%d", h.MinClusterSize, h.MinSamples)
	}
	points := rowsOf(x)
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n < h.MinClusterSize || n < 2 {
		return labels, nil
	}

	core := coreDistances(points, h.MinSamples)
	edges := mutualReachabilityMST(points, core)
	tree := singleLinkage(n, edges)
	rows, numClusters := condenseTree(n, tree, h.MinClusterSize)
	selected := selectClustersEOM(rows, numClusters)

	// Walk each point from the cluster it fell out of up to a selected ancestor.
	clusterParent := make([]int, numClusters)
	clusterParent[0] = -1
	for _, r := range rows {
		if !r.point {
			clusterParent[r.child] = r.parent
		}
	}
	final := make(map[int]int)
	var chosen []int
	for c := range numClusters {
		if selected[c] {
			chosen = append(chosen, c)
		}
	}
	for i, c := range chosen {
		final[c] = i
	}
	for _, r := range rows {
		if !r.point {
			continue
		}
		for c := r.parent; c >= 0; c = clusterParent[c] {
			if selected[c] {
				labels[r.child] = final[c]
				break
			}
		}
	}
	return labels, nil
}

// coreDistances returns, for each point, the distance to its k-th nearest
// neighbour counting the point itself.
func coreDistances(points [][]float64, minSamples int) []float64 {
	n := len(points)
	k := min(minSamples, n) - 1
	core := make([]float64, n)
	dists := make([]float64, n)
	for i := range n {
		for j := range n {
			dists[j] = floats.Distance(points[i], points[j], 2)
		}
		sort.Float64s(dists)
		core[i] = dists[k]
	}
	return core
}

// mutualReachabilityMST builds a minimum spanning tree with Prim's algorithm
// over max(core[a], core[b], d(a,b)).
func mutualReachabilityMST(points [][]float64, core []float64) []mstEdge {
	n := len(points)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	current := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next, nextWeight := -1, math.Inf(1)
		for j := range n {
			if inTree[j] {
				continue
			}
			w := math.Max(floats.Distance(points[current], points[j], 2), math.Max(core[current], core[j]))
			if w < best[j] {
				best[j] = w
				from[j] = current
			}
			if best[j] < nextWeight {
				next, nextWeight = j, best[j]
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, weight: nextWeight})
		current = next
	}
	return edges
}

// singleLinkage merges MST edges in weight order. Merge i creates node n+i.
func singleLinkage(n int, edges []mstEdge) []linkage {
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })

	parent := make([]int, 2*n-1)
	size := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
		if i < n {
			size[i] = 1
		}
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	tree := make([]linkage, 0, n-1)
	for i, e := range edges {
		a, b := find(e.a), find(e.b)
		node := n + i
		size[node] = size[a] + size[b]
		parent[a], parent[b] = node, node
		tree = append(tree, linkage{left: a, right: b, distance: e.weight, size: size[node]})
	}
	return tree
}

// condenseTree walks the hierarchy from the root and keeps only splits where
// both sides have at least minClusterSize points. Cluster 0 is the root.
func condenseTree(n int, tree []linkage, minClusterSize int) ([]condensedRow, int) {
	root := 2*n - 2
	nodeSize := func(node int) int {
		if node < n {
			return 1
		}
		return tree[node-n].size
	}
	leaves := func(node int) []int {
		var out []int
		stack := []int{node}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top < n {
				out = append(out, top)
				continue
			}
			l := tree[top-n]
			stack = append(stack, l.right, l.left)
		}
		return out
	}

	relabel := map[int]int{root: 0}
	nextLabel := 1
	var rows []condensedRow

	queue := []int{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node < n {
			continue
		}
		label, ok := relabel[node]
		if !ok {
			continue
		}

		l := tree[node-n]
		lambda := 1 / math.Max(l.distance, minLambdaDistance)
		left, right := l.left, l.right
		leftBig := nodeSize(left) >= minClusterSize
		rightBig := nodeSize(right) >= minClusterSize

		fallOut := func(child int) {
			for _, p := range leaves(child) {
				rows = append(rows, condensedRow{parent: label, child: p, point: true, lambda: lambda, size: 1})
			}
		}

		switch {
		case leftBig && rightBig:
			for _, child := range []int{left, right} {
				relabel[child] = nextLabel
				rows = append(rows, condensedRow{parent: label, child: nextLabel, lambda: lambda, size: nodeSize(child)})
				nextLabel++
				queue = append(queue, child)
			}
		case !leftBig && !rightBig:
			fallOut(left)
			fallOut(right)
		case leftBig:
			relabel[left] = label
			queue = append(queue, left)
			fallOut(right)
		default:
			relabel[right] = label
			queue = append(queue, right)
			fallOut(left)
		}
	}
	return rows, nextLabel
}

// selectClustersEOM picks the clusters maximizing total stability, visiting
// children before parents. The root is never selected.
func selectClustersEOM(rows []condensedRow, numClusters int) []bool {
	birth := make([]float64, numClusters)
	children := make([][]int, numClusters)
	for _, r := range rows {
		if !r.point {
			birth[r.child] = r.lambda
			children[r.parent] = append(children[r.parent], r.child)
		}
	}
	stability := make([]float64, numClusters)
	for _, r := range rows {
		stability[r.parent] += (r.lambda - birth[r.parent]) * float64(r.size)
	}

	selected := make([]bool, numClusters)
	for c := numClusters - 1; c >= 1; c-- {
		childSum := 0.0
		for _, ch := range children[c] {
			childSum += stability[ch]
		}
		if len(children[c]) > 0 && childSum > stability[c] {
			stability[c] = childSum
			continue
		}
		selected[c] = true
		stack := append([]int(nil), children[c]...)
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			selected[top] = false
			stack = append(stack, children[top]...)
		}
	}
	return selected
}
