package models

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// KindForest identifies ForestClassifier blobs.
const KindForest = "forest"

// ForestOptions configures a ForestClassifier. Zero values select defaults.
type ForestOptions struct {
	// Trees is the number of bagged trees (default 100).
	Trees int

	// MaxDepth bounds the depth of every tree (default 12).
	MaxDepth int

	// MinSamplesSplit is the smallest node that may still be split (default 2).
	MinSamplesSplit int

	// MaxFeatures is the number of features tried per split (default
	// floor(sqrt(NumFeatures))). More are inspected when none of the drawn
	// features can split the node.
	MaxFeatures int

	// Seed drives bootstrap sampling and feature selection. Zero picks a
	// random seed.
	Seed uint64
}

func (o ForestOptions) withDefaults() ForestOptions {
	if o.Trees <= 0 {
		o.Trees = 100
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 12
	}
	if o.MinSamplesSplit < 2 {
		o.MinSamplesSplit = 2
	}
	if o.MaxFeatures <= 0 || o.MaxFeatures > NumFeatures {
		o.MaxFeatures = max(1, int(math.Sqrt(NumFeatures)))
	}
	if o.Seed == 0 {
		o.Seed = rand.Uint64()
	}
	return o
}

// ForestClassifier is a random forest of CART trees split on gini impurity.
//
// Algorithm:
//  1. For each tree draw a bootstrap sample (n draws with replacement).
//  2. Grow the tree greedily: at each node try MaxFeatures random features,
//     every midpoint between adjacent distinct values as threshold, and keep
//     the split with the lowest weighted gini impurity.
//  3. Stop at pure nodes, MaxDepth, or nodes smaller than MinSamplesSplit.
//     Leaves store the class distribution of their samples.
//  4. Predict by averaging leaf distributions over all trees and returning
//     the arg-max class.
type ForestClassifier struct {
	opts       ForestOptions
	numClasses int
	trees      []decisionTree
}

type decisionTree struct {
	nodes []treeNode
}

// treeNode is a split when feature >= 0 and a leaf otherwise.
type treeNode struct {
	feature   int
	threshold float64
	left      int
	right     int
	probs     []float64
}

// NewForestClassifier returns an untrained forest.
func NewForestClassifier(opts ForestOptions) *ForestClassifier {
	return &ForestClassifier{opts: opts.withDefaults()}
}

// Kind returns the classifier identifier.
func (f *ForestClassifier) Kind() string {
	return KindForest
}

// Fit grows Trees trees on bootstrap samples. Previous state is discarded.
func (f *ForestClassifier) Fit(ctx context.Context, samples []Sample, labels []int) error {
	numClasses, err := validateTrainingSet(samples, labels)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(f.opts.Seed, f.opts.Seed^0x9e3779b97f4a7c15))
	trees := make([]decisionTree, 0, f.opts.Trees)

	for t := 0; t < f.opts.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx := make([]int, len(samples))
		for i := range idx {
			idx[i] = rng.IntN(len(samples))
		}

		g := &treeGrower{
			samples:    samples,
			labels:     labels,
			numClasses: numClasses,
			opts:       f.opts,
			rng:        rng,
		}
		g.grow(idx, 0)
		trees = append(trees, decisionTree{nodes: g.nodes})
	}

	f.numClasses = numClasses
	f.trees = trees
	return nil
}

// Predict averages the trees' leaf distributions.
func (f *ForestClassifier) Predict(sample Sample) (int, error) {
	if len(f.trees) == 0 {
		return 0, ErrNotFitted
	}

	votes := make([]float64, f.numClasses)
	for _, tree := range f.trees {
		for c, p := range tree.leaf(sample).probs {
			votes[c] += p
		}
	}
	return argmax(votes), nil
}

func (t decisionTree) leaf(sample Sample) treeNode {
	n := t.nodes[0]
	for n.feature >= 0 {
		if sample[n.feature] <= n.threshold {
			n = t.nodes[n.left]
		} else {
			n = t.nodes[n.right]
		}
	}
	return n
}

type treeGrower struct {
	samples    []Sample
	labels     []int
	numClasses int
	opts       ForestOptions
	rng        *rand.Rand
	nodes      []treeNode
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
}

// grow appends the subtree for idx and returns its root index.
func (g *treeGrower) grow(idx []int, depth int) int {
	counts := make([]float64, g.numClasses)
	for _, i := range idx {
		counts[g.labels[i]]++
	}

	pos := len(g.nodes)
	g.nodes = append(g.nodes, treeNode{feature: -1})

	if depth >= g.opts.MaxDepth || len(idx) < g.opts.MinSamplesSplit || isPure(counts) {
		g.nodes[pos].probs = normalize(counts)
		return pos
	}

	best, ok := g.bestSplit(idx, counts)
	if !ok {
		g.nodes[pos].probs = normalize(counts)
		return pos
	}

	var leftIdx, rightIdx []int
	for _, i := range idx {
		if g.samples[i][best.feature] <= best.threshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}

	left := g.grow(leftIdx, depth+1)
	right := g.grow(rightIdx, depth+1)
	g.nodes[pos] = treeNode{
		feature:   best.feature,
		threshold: best.threshold,
		left:      left,
		right:     right,
	}
	return pos
}

func (g *treeGrower) bestSplit(idx []int, total []float64) (split, bool) {
	best := split{impurity: math.Inf(1)}
	found := false
	tried := 0

	for _, feature := range g.rng.Perm(NumFeatures) {
		if tried >= g.opts.MaxFeatures && found {
			break
		}
		s, ok := g.splitOn(feature, idx, total)
		if !ok {
			continue
		}
		tried++
		if s.impurity < best.impurity {
			best = s
			found = true
		}
	}
	return best, found
}

// splitOn sweeps the sorted values of one feature and returns the threshold
// with the lowest weighted gini impurity.
func (g *treeGrower) splitOn(feature int, idx []int, total []float64) (split, bool) {
	sorted := make([]int, len(idx))
	copy(sorted, idx)
	sort.SliceStable(sorted, func(a, b int) bool {
		return g.samples[sorted[a]][feature] < g.samples[sorted[b]][feature]
	})

	left := make([]float64, g.numClasses)
	right := make([]float64, g.numClasses)
	copy(right, total)

	n := float64(len(sorted))
	best := split{feature: feature, impurity: math.Inf(1)}
	found := false

	for i := 0; i < len(sorted)-1; i++ {
		c := g.labels[sorted[i]]
		left[c]++
		right[c]--

		v := g.samples[sorted[i]][feature]
		next := g.samples[sorted[i+1]][feature]
		if v == next {
			continue
		}

		nl := float64(i + 1)
		nr := n - nl
		impurity := (nl*gini(left, nl) + nr*gini(right, nr)) / n
		if impurity < best.impurity {
			best.impurity = impurity
			best.threshold = (v + next) / 2
			found = true
		}
	}
	return best, found
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := c / n
		sum += p * p
	}
	return 1 - sum
}

func isPure(counts []float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func normalize(counts []float64) []float64 {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	probs := make([]float64, len(counts))
	if total == 0 {
		return probs
	}
	for i, c := range counts {
		probs[i] = c / total
	}
	return probs
}

// Payload fields.
const (
	forestFieldNumClasses protowire.Number = 1
	forestFieldTree       protowire.Number = 2
	forestFieldMaxDepth   protowire.Number = 3

	treeFieldNode protowire.Number = 1

	nodeFieldFeature   protowire.Number = 1
	nodeFieldThreshold protowire.Number = 2
	nodeFieldLeft      protowire.Number = 3
	nodeFieldRight     protowire.Number = 4
	nodeFieldProbs     protowire.Number = 5
)

// MarshalBinary encodes every tree as a flat node list.
func (f *ForestClassifier) MarshalBinary() ([]byte, error) {
	if len(f.trees) == 0 {
		return nil, ErrNotFitted
	}

	b := appendIntField(nil, forestFieldNumClasses, f.numClasses)
	b = appendIntField(b, forestFieldMaxDepth, f.opts.MaxDepth)
	for _, tree := range f.trees {
		var tb []byte
		for _, n := range tree.nodes {
			nb := appendIntField(nil, nodeFieldFeature, n.feature)
			if n.feature >= 0 {
				nb = appendDoubleField(nb, nodeFieldThreshold, n.threshold)
				nb = appendIntField(nb, nodeFieldLeft, n.left)
				nb = appendIntField(nb, nodeFieldRight, n.right)
			} else {
				nb = appendPackedDoubles(nb, nodeFieldProbs, n.probs)
			}
			tb = appendBytesField(tb, treeFieldNode, nb)
		}
		b = appendBytesField(b, forestFieldTree, tb)
	}
	return b, nil
}

// UnmarshalBinary restores a forest written by MarshalBinary.
func (f *ForestClassifier) UnmarshalBinary(data []byte) error {
	f.numClasses = 0
	f.trees = nil
	var rawTrees [][]byte

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case forestFieldNumClasses:
			f.numClasses, n, err = consumeInt(typ, b)
		case forestFieldMaxDepth:
			f.opts.MaxDepth, n, err = consumeInt(typ, b)
		case forestFieldTree:
			var raw []byte
			raw, n, err = consumeBytes(typ, b)
			rawTrees = append(rawTrees, raw)
		}
		return n, err
	})
	if err != nil {
		return fmt.Errorf("forest classifier: %w", err)
	}
	if f.numClasses <= 0 {
		return fmt.Errorf("forest classifier: invalid class count %d", f.numClasses)
	}
	if len(rawTrees) == 0 {
		return fmt.Errorf("forest classifier: no trees")
	}

	trees := make([]decisionTree, 0, len(rawTrees))
	for i, raw := range rawTrees {
		tree, err := f.decodeTree(raw)
		if err != nil {
			return fmt.Errorf("forest classifier: tree %d: %w", i, err)
		}
		trees = append(trees, tree)
	}
	f.trees = trees
	f.opts.Trees = len(trees)
	return nil
}

func (f *ForestClassifier) decodeTree(raw []byte) (decisionTree, error) {
	var tree decisionTree

	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != treeFieldNode {
			return 0, nil
		}
		nodeBytes, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}

		node := treeNode{feature: -1}
		err = walkFields(nodeBytes, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			var m int
			var err error
			switch num {
			case nodeFieldFeature:
				node.feature, m, err = consumeInt(typ, b)
			case nodeFieldThreshold:
				node.threshold, m, err = consumeDouble(typ, b)
			case nodeFieldLeft:
				node.left, m, err = consumeInt(typ, b)
			case nodeFieldRight:
				node.right, m, err = consumeInt(typ, b)
			case nodeFieldProbs:
				node.probs, m, err = consumePackedDoubles(typ, b)
			}
			return m, err
		})
		if err != nil {
			return 0, err
		}
		tree.nodes = append(tree.nodes, node)
		return n, nil
	})
	if err != nil {
		return decisionTree{}, err
	}

	if len(tree.nodes) == 0 {
		return decisionTree{}, fmt.Errorf("empty tree")
	}
	for i, n := range tree.nodes {
		if n.feature >= NumFeatures {
			return decisionTree{}, fmt.Errorf("node %d: feature %d out of range", i, n.feature)
		}
		if n.feature >= 0 {
			// Children always follow their parent in grow order.
			if n.left <= i || n.left >= len(tree.nodes) || n.right <= i || n.right >= len(tree.nodes) {
				return decisionTree{}, fmt.Errorf("node %d: child index out of range", i)
			}
			continue
		}
		if len(n.probs) != f.numClasses {
			return decisionTree{}, fmt.Errorf("node %d: %d probabilities, want %d", i, len(n.probs), f.numClasses)
		}
	}
	return tree, nil
}
