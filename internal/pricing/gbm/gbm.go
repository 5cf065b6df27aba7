// Package gbm evaluates a gradient-boosted regression tree ensemble exported
// as flat node arrays (feature, threshold, children, value per node).
package gbm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

//go:embed default_model.json
var defaultModel []byte

const leaf = -1

type Tree struct {
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Value         []float64 `json:"value"`
}

type Model struct {
	InitialPrediction float64 `json:"initial_prediction"`
	LearningRate      float64 `json:"learning_rate"`
	NFeatures         int     `json:"n_features"`
	Trees             []Tree  `json:"trees"`
}

var ErrFeatureCount = errors.New("gbm: feature vector has wrong length")

// Default returns the built-in placeholder model.
func Default() *Model {
	m, err := Parse(defaultModel)
	if err != nil {
		panic(err)
	}
	return m
}

func Load(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %q: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Model, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var m Model
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks array lengths and child indices so Predict cannot loop or
// index out of range.
func (m *Model) Validate() error {
	if m.NFeatures <= 0 {
		return errors.New("gbm: n_features must be > 0")
	}
	if m.LearningRate <= 0 {
		return errors.New("gbm: learning_rate must be > 0")
	}
	for ti, t := range m.Trees {
		n := len(t.Value)
		if n == 0 || len(t.Feature) != n || len(t.Threshold) != n ||
			len(t.ChildrenLeft) != n || len(t.ChildrenRight) != n {
			return fmt.Errorf("gbm: tree %d has inconsistent node arrays", ti)
		}
		for i := range n {
			l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
			if l == leaf {
				continue
			}
			if l <= i || r <= i || l >= n || r >= n {
				return fmt.Errorf("gbm: tree %d node %d has bad children (%d,%d)", ti, i, l, r)
			}
			if f := t.Feature[i]; f < 0 || f >= m.NFeatures {
				return fmt.Errorf("gbm: tree %d node %d splits on feature %d", ti, i, f)
			}
		}
	}
	return nil
}

func (t *Tree) eval(x []float64) float64 {
	node := 0
	for t.ChildrenLeft[node] != leaf {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return t.Value[node]
}

// Predict returns initial + lr * sum(tree leaves), rounded to a whole unit.
func (m *Model) Predict(ctx context.Context, x []float64) (float64, error) {
	if len(x) != m.NFeatures {
		return 0, fmt.Errorf("%w: got %d want %d", ErrFeatureCount, len(x), m.NFeatures)
	}
	sum := 0.0
	for i := range m.Trees {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		sum += m.Trees[i].eval(x)
	}
	return math.Round(m.InitialPrediction + m.LearningRate*sum), nil
}
