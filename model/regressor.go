package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Node is one decision node of a regression tree. Leaf is set on leaves;
// interior nodes route on Feature < Threshold. Missing routes samples
// whose feature is absent or NaN; zero means "follow Left", since node 0
// is always the root and can never be a child.
type Node struct {
	Feature   string   `json:"feature,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
	Left      int      `json:"left,omitempty"`
	Right     int      `json:"right,omitempty"`
	Missing   int      `json:"missing,omitempty"`
	Leaf      *float64 `json:"leaf,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Regressor is a gradient-boosted tree ensemble exported to JSON at
// training time. The prediction is BaseScore plus the sum of one leaf per
// tree.
type Regressor struct {
	FeatureNames []string `json:"feature_names"`
	BaseScore    float64  `json:"base_score"`
	Trees        []Tree   `json:"trees"`
}

// LoadRegressor reads and validates a model artifact.
func LoadRegressor(path string) (*Regressor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}
	var r Regressor
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parsing model artifact %s: %w", path, err)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}
	return &r, nil
}

func (r *Regressor) validate() error {
	if len(r.FeatureNames) == 0 {
		return fmt.Errorf("no feature names")
	}
	if len(r.Trees) == 0 {
		return fmt.Errorf("no trees")
	}
	for ti, tree := range r.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range tree.Nodes {
			if n.Leaf != nil {
				continue
			}
			for _, child := range []int{n.Left, n.Right, n.Missing} {
				// Children always come after their parent, which also
				// rules out cycles. Missing 0 is the Left default.
				if child != 0 && (child <= ni || child >= len(tree.Nodes)) {
					return fmt.Errorf("tree %d node %d: child index %d out of range", ti, ni, child)
				}
			}
			if n.Left == 0 || n.Right == 0 {
				return fmt.Errorf("tree %d node %d: interior node without children", ti, ni)
			}
		}
	}
	return nil
}

// Features returns the model's input columns in training order.
func (r *Regressor) Features() []string {
	return r.FeatureNames
}

// Predict evaluates the ensemble on a feature map. Absent or NaN features
// follow each node's missing branch.
func (r *Regressor) Predict(features map[string]float64) float64 {
	sum := r.BaseScore
	for _, tree := range r.Trees {
		sum += tree.eval(features)
	}
	return sum
}

func (t *Tree) eval(features map[string]float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf != nil {
			return *n.Leaf
		}
		v, ok := features[n.Feature]
		switch {
		case !ok || math.IsNaN(v):
			if n.Missing != 0 {
				i = n.Missing
			} else {
				i = n.Left
			}
		case v < n.Threshold:
			i = n.Left
		default:
			i = n.Right
		}
	}
}
