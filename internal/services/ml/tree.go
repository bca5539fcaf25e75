package ml

import (
	"cmp"
	"slices"
)

const leaf = -1

// Node is one node of a flattened regression tree. Leaves have Feature -1.
type Node struct {
	Feature   int     `msgpack:"f"`
	Threshold float64 `msgpack:"t"`
	Left      int     `msgpack:"l"`
	Right     int     `msgpack:"r"`
	Value     float64 `msgpack:"v"`
}

// Tree is a CART regression tree. Samples with x[Feature] <= Threshold go
// left.
type Tree struct {
	Nodes []Node `msgpack:"nodes"`
}

// Predict walks the tree from the root.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature == leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth is the longest root-to-leaf path, in edges.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature == leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
}

type treeBuilder struct {
	X      [][]float64
	y      []float64
	params treeParams
	nodes  []Node

	// scratch buffers reused across nodes
	order  []int
	prefix []float64
	sq     []float64
}

// fitTree grows a tree on the samples listed in idx. idx may repeat samples
// (bootstrap) and is reordered in place.
func fitTree(X [][]float64, y []float64, idx []int, p treeParams) Tree {
	b := &treeBuilder{
		X:      X,
		y:      y,
		params: p,
		order:  make([]int, len(idx)),
		prefix: make([]float64, len(idx)+1),
		sq:     make([]float64, len(idx)+1),
	}
	b.grow(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leaf, Value: b.mean(idx)})

	if depth >= b.params.maxDepth || len(idx) < b.params.minSamplesSplit || len(idx) < 2*b.params.minSamplesLeaf {
		return self
	}
	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return self
	}

	// partition idx around the threshold
	lo, hi := 0, len(idx)-1
	for lo <= hi {
		if b.X[idx[lo]][feature] <= threshold {
			lo++
		} else {
			idx[lo], idx[hi] = idx[hi], idx[lo]
			hi--
		}
	}

	left := b.grow(idx[:lo], depth+1)
	right := b.grow(idx[lo:], depth+1)
	b.nodes[self] = Node{Feature: feature, Threshold: threshold, Left: left, Right: right, Value: b.nodes[self].Value}
	return self
}

func (b *treeBuilder) mean(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var s float64
	for _, i := range idx {
		s += b.y[i]
	}
	return s / float64(len(idx))
}

// bestSplit scans every feature for the threshold minimising the summed
// squared error of the two children.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	n := len(idx)
	minLeaf := max(b.params.minSamplesLeaf, 1)

	var total, totalSq float64
	for _, i := range idx {
		total += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}
	parent := totalSq - total*total/float64(n)
	if parent <= 1e-12 {
		return 0, 0, false
	}

	bestFeature, bestThreshold, bestErr := -1, 0.0, parent
	order := b.order[:n]
	for f := range b.X[idx[0]] {
		copy(order, idx)
		slices.SortFunc(order, func(a, c int) int {
			if r := cmp.Compare(b.X[a][f], b.X[c][f]); r != 0 {
				return r
			}
			return cmp.Compare(a, c)
		})
		for k, i := range order {
			b.prefix[k+1] = b.prefix[k] + b.y[i]
			b.sq[k+1] = b.sq[k] + b.y[i]*b.y[i]
		}
		for k := minLeaf; k <= n-minLeaf; k++ {
			lv, rv := b.X[order[k-1]][f], b.X[order[k]][f]
			if lv == rv {
				continue
			}
			ls, lq := b.prefix[k], b.sq[k]
			rs, rq := total-ls, totalSq-lq
			sse := (lq - ls*ls/float64(k)) + (rq - rs*rs/float64(n-k))
			if sse < bestErr {
				bestFeature, bestErr = f, sse
				bestThreshold = lv + (rv-lv)/2
				if bestThreshold == rv {
					bestThreshold = lv
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}
