package training

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/lucid-vigil/honeyshift/pkg/classifier"
)

// ForestParams controls random forest training.
type ForestParams struct {
	NEstimators     int
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	Seed            int64
}

// TrainForest fits a forest of CART trees on X and labels y, where every
// label must appear in classes. Each tree is grown on a bootstrap sample and
// considers ceil(sqrt(n_features)) random features per split.
func TrainForest(names []string, X [][]float64, y []int, classes []int, p ForestParams) (*classifier.Forest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("cannot train on zero rows")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%d rows but %d labels", len(X), len(y))
	}
	if p.NEstimators <= 0 {
		return nil, fmt.Errorf("n_estimators must be positive")
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}

	classIndex := make(map[int]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}
	yi := make([]int, len(y))
	for i, label := range y {
		idx, ok := classIndex[label]
		if !ok {
			return nil, fmt.Errorf("label %d at row %d is not one of %v", label, i, classes)
		}
		yi[i] = idx
	}

	b := &treeBuilder{
		X:           X,
		y:           yi,
		nClasses:    len(classes),
		nFeatures:   len(names),
		maxFeatures: int(math.Ceil(math.Sqrt(float64(len(names))))),
		maxDepth:    p.MaxDepth,
		minSplit:    p.MinSamplesSplit,
		rng:         rand.New(rand.NewSource(p.Seed)),
	}

	forest := &classifier.Forest{
		Kind:         classifier.KindRandomForest,
		FeatureNames: append([]string(nil), names...),
		Classes:      append([]int(nil), classes...),
		Trees:        make([]classifier.Tree, 0, p.NEstimators),
	}
	for t := 0; t < p.NEstimators; t++ {
		sample := make([]int, len(X))
		for i := range sample {
			sample[i] = b.rng.Intn(len(X))
		}
		forest.Trees = append(forest.Trees, b.build(sample))
	}
	return forest, nil
}

type treeBuilder struct {
	X           [][]float64
	y           []int
	nClasses    int
	nFeatures   int
	maxFeatures int
	maxDepth    int
	minSplit    int
	rng         *rand.Rand
}

func (b *treeBuilder) build(idx []int) classifier.Tree {
	t := classifier.Tree{}
	b.grow(&t, idx, 0)
	return t
}

// grow appends the subtree for idx to t and returns its root index. Children
// are always appended after their parent.
func (b *treeBuilder) grow(t *classifier.Tree, idx []int, depth int) int {
	counts := b.counts(idx)
	node := len(t.Nodes)
	t.Nodes = append(t.Nodes, classifier.Node{Feature: -1, Value: counts})

	if (b.maxDepth > 0 && depth >= b.maxDepth) || len(idx) < b.minSplit || isPure(counts) {
		return node
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return node
	}

	t.Nodes[node] = classifier.Node{Feature: feature, Threshold: threshold}
	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.Nodes[node].Left = l
	t.Nodes[node].Right = r
	return node
}

// bestSplit draws features in random order and returns the lowest weighted
// gini split among the first maxFeatures of them. Like scikit-learn, it keeps
// drawing past maxFeatures while no valid split has been found.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	order := b.rng.Perm(b.nFeatures)

	bestFeature, bestThreshold := -1, 0.0
	bestScore := math.Inf(1)
	for tried, f := range order {
		if tried >= b.maxFeatures && bestFeature >= 0 {
			break
		}
		if threshold, score, ok := b.splitOn(idx, f); ok && score < bestScore {
			bestFeature, bestThreshold, bestScore = f, threshold, score
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// splitOn finds the best threshold on feature f: the midpoint between two
// adjacent distinct values minimizing weighted gini impurity.
func (b *treeBuilder) splitOn(idx []int, f int) (float64, float64, bool) {
	sorted := append([]int(nil), idx...)
	sort.Slice(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })

	total := b.counts(sorted)
	left := make([]float64, b.nClasses)
	right := append([]float64(nil), total...)
	n := float64(len(sorted))

	bestThreshold, bestScore, found := 0.0, math.Inf(1), false
	for i := 0; i < len(sorted)-1; i++ {
		c := b.y[sorted[i]]
		left[c]++
		right[c]--

		v, next := b.X[sorted[i]][f], b.X[sorted[i+1]][f]
		if v == next {
			continue
		}
		nl := float64(i + 1)
		score := nl/n*gini(left, nl) + (n-nl)/n*gini(right, n-nl)
		if score < bestScore {
			bestThreshold = v + (next-v)/2
			if bestThreshold == next {
				bestThreshold = v
			}
			bestScore = score
			found = true
		}
	}
	return bestThreshold, bestScore, found
}

func (b *treeBuilder) counts(idx []int) []float64 {
	c := make([]float64, b.nClasses)
	for _, i := range idx {
		c[b.y[i]]++
	}
	return c
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func isPure(counts []float64) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}
