package classifier

import (
	"encoding/json"
	"fmt"
	"math"

	"facilitywatch/internal/features"
)

// KindIsolationForest is the only artifact kind currently understood
const KindIsolationForest = "isolation_forest"

const eulerGamma = 0.5772156649015329

// Artifact is the JSON export of a trained scikit-learn IsolationForest.
// Tree arrays mirror sklearn's tree_ attributes.
type Artifact struct {
	Kind         string     `json:"kind"`
	Subsystem    string     `json:"subsystem,omitempty"`
	NFeatures    int        `json:"n_features"`
	FeatureNames []string   `json:"feature_names,omitempty"`
	MaxSamples   int        `json:"max_samples"`
	Offset       float64    `json:"offset"`
	Trees        []TreeSpec `json:"trees"`
}

// TreeSpec is one isolation tree. Leaves have children_left == -1.
// Features is sklearn's estimators_features_ entry for the tree, present only
// when the forest was fitted with max_features below n_features; node feature
// indices then point into it rather than into the full vector.
type TreeSpec struct {
	Features      []int     `json:"features,omitempty"`
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	NNodeSamples  []int     `json:"n_node_samples"`
}

type node struct {
	left, right int
	feature     int
	threshold   float64
	// leafPath is the average path length correction for a leaf
	leafPath float64
}

type tree []node

// IsolationForest is a loaded, read-only isolation forest
type IsolationForest struct {
	nFeatures    int
	featureNames []string
	maxSamples   int
	offset       float64
	trees        []tree
	norm         float64
}

// Decode parses and validates an isolation forest artifact
func Decode(data []byte) (*IsolationForest, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return New(a)
}

// New builds an IsolationForest from an already parsed artifact
func New(a Artifact) (*IsolationForest, error) {
	if a.Kind != KindIsolationForest {
		return nil, fmt.Errorf("unsupported artifact kind %q", a.Kind)
	}
	if a.NFeatures != features.VectorLen {
		return nil, fmt.Errorf("artifact expects %d features, pipeline produces %d", a.NFeatures, features.VectorLen)
	}
	if len(a.FeatureNames) != 0 && len(a.FeatureNames) != a.NFeatures {
		return nil, fmt.Errorf("artifact lists %d feature names for %d features", len(a.FeatureNames), a.NFeatures)
	}
	if a.MaxSamples < 2 {
		return nil, fmt.Errorf("max_samples must be at least 2, got %d", a.MaxSamples)
	}
	if len(a.Trees) == 0 {
		return nil, fmt.Errorf("artifact has no trees")
	}

	f := &IsolationForest{
		nFeatures:    a.NFeatures,
		featureNames: a.FeatureNames,
		maxSamples:   a.MaxSamples,
		offset:       a.Offset,
		trees:        make([]tree, 0, len(a.Trees)),
	}
	for i, ts := range a.Trees {
		t, err := buildTree(ts, a.NFeatures)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		f.trees = append(f.trees, t)
	}
	f.norm = float64(len(f.trees)) * averagePathLength(a.MaxSamples)

	return f, nil
}

func buildTree(ts TreeSpec, nFeatures int) (tree, error) {
	n := len(ts.ChildrenLeft)
	if n == 0 {
		return nil, fmt.Errorf("empty tree")
	}
	if len(ts.ChildrenRight) != n || len(ts.Feature) != n ||
		len(ts.Threshold) != n || len(ts.NNodeSamples) != n {
		return nil, fmt.Errorf("node arrays have mismatched lengths")
	}

	// local feature index -> position in the full vector
	columns := ts.Features
	if len(columns) == 0 {
		columns = make([]int, nFeatures)
		for i := range columns {
			columns[i] = i
		}
	}
	for _, col := range columns {
		if col < 0 || col >= nFeatures {
			return nil, fmt.Errorf("feature subset references unknown feature %d", col)
		}
	}

	t := make(tree, n)
	for i := 0; i < n; i++ {
		l, r := ts.ChildrenLeft[i], ts.ChildrenRight[i]
		if l == -1 {
			t[i] = node{left: -1, right: -1, leafPath: averagePathLength(ts.NNodeSamples[i])}
			continue
		}
		// children always come after their parent in sklearn's layout, which
		// also rules out cycles
		if l <= i || l >= n || r <= i || r >= n {
			return nil, fmt.Errorf("node %d has children out of range (%d, %d)", i, l, r)
		}
		if ts.Feature[i] < 0 || ts.Feature[i] >= len(columns) {
			return nil, fmt.Errorf("node %d splits on unknown feature %d", i, ts.Feature[i])
		}
		t[i] = node{left: l, right: r, feature: columns[ts.Feature[i]], threshold: ts.Threshold[i]}
	}
	return t, nil
}

// pathLength is the depth of the leaf reached by x plus the leaf correction
func (t tree) pathLength(x []float64) float64 {
	depth := 0.0
	i := 0
	for t[i].left != -1 {
		nd := t[i]
		// sklearn scores trees on float32 input
		if float64(float32(x[nd.feature])) <= nd.threshold {
			i = nd.left
		} else {
			i = nd.right
		}
		depth++
	}
	return depth + t[i].leafPath
}

// Score matches sklearn's score_samples: the opposite of the anomaly score,
// lower means more abnormal
func (f *IsolationForest) Score(vec features.FeatureVector) (float64, error) {
	if len(vec) != f.nFeatures {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ErrInference, f.nFeatures, len(vec))
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: feature %d is not a finite number", ErrInference, i)
		}
	}

	total := 0.0
	for _, t := range f.trees {
		total += t.pathLength(vec)
	}
	return -math.Pow(2, -total/f.norm), nil
}

// Label returns -1 when the sample falls below the fitted offset, else 1
func (f *IsolationForest) Label(vec features.FeatureVector) (float64, error) {
	score, err := f.Score(vec)
	if err != nil {
		return 0, err
	}
	if score-f.offset < 0 {
		return -1, nil
	}
	return 1, nil
}

// Trees returns the number of trees in the forest
func (f *IsolationForest) Trees() int { return len(f.trees) }

// MaxSamples returns the subsample size the forest was fitted with
func (f *IsolationForest) MaxSamples() int { return f.maxSamples }

// FeatureNames returns the training-time feature order, if recorded
func (f *IsolationForest) FeatureNames() []string { return f.featureNames }

// averagePathLength is c(n), the mean path length of an unsuccessful BST search
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
