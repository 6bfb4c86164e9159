package classifier

import (
	"fmt"
)

// KindRandomForest tags a serialized Forest.
const KindRandomForest = "random_forest"

// Node is one node of a flattened binary decision tree. A negative Feature
// marks a leaf, whose Value holds the class distribution. Internal nodes send
// a row left when row[Feature] <= Threshold.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
}

// IsLeaf reports whether n terminates a path.
func (n Node) IsLeaf() bool {
	return n.Feature < 0
}

// Tree is a decision tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// proba returns the normalized class distribution of the leaf row lands in.
func (t *Tree) proba(row []float64) []float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return normalize(n.Value)
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is an ensemble of decision trees voting by averaged class probability.
type Forest struct {
	Kind         string   `json:"kind"`
	FeatureNames []string `json:"feature_names"`
	Classes      []int    `json:"classes"`
	Trees        []Tree   `json:"trees"`
}

// Validate checks that every tree is well formed: indices in range, leaves
// sized to the class list, and no node reachable twice.
func (f *Forest) Validate() error {
	if f.Kind != KindRandomForest {
		return fmt.Errorf("unexpected model kind %q", f.Kind)
	}
	if len(f.Classes) == 0 {
		return fmt.Errorf("model has no classes")
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("model has no trees")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.IsLeaf() {
				if len(n.Value) != len(f.Classes) {
					return fmt.Errorf("tree %d leaf %d has %d values for %d classes", ti, ni, len(n.Value), len(f.Classes))
				}
				continue
			}
			if n.Feature >= len(f.FeatureNames) {
				return fmt.Errorf("tree %d node %d splits on feature %d of %d", ti, ni, n.Feature, len(f.FeatureNames))
			}
			// Children always follow their parent, which rules out cycles.
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children %d/%d", ti, ni, n.Left, n.Right)
			}
		}
	}
	return nil
}

// PredictProba returns, per row, the mean class distribution across trees.
func (f *Forest) PredictProba(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != len(f.FeatureNames) {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), len(f.FeatureNames))
		}
		acc := make([]float64, len(f.Classes))
		for ti := range f.Trees {
			for c, p := range f.Trees[ti].proba(row) {
				acc[c] += p
			}
		}
		for c := range acc {
			acc[c] /= float64(len(f.Trees))
		}
		out[i] = acc
	}
	return out, nil
}

// Predict returns the most probable class per row. Ties go to the earlier class.
func (f *Forest) Predict(X [][]float64) ([]int, error) {
	probas, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(probas))
	for i, p := range probas {
		best := 0
		for c := 1; c < len(p); c++ {
			if p[c] > p[best] {
				best = c
			}
		}
		labels[i] = f.Classes[best]
	}
	return labels, nil
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	out := make([]float64, len(v))
	if sum == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
