package classifier

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"sync"
	"testing"

	"facilitywatch/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stumpArtifact is a single split on usage: <= 100 lands in a leaf holding
// 200 training samples (deep, normal), > 100 in a leaf holding one (isolated).
func stumpArtifact() Artifact {
	return Artifact{
		Kind:         KindIsolationForest,
		NFeatures:    3,
		FeatureNames: []string{"usage", "hour", "weekday"},
		MaxSamples:   256,
		Offset:       -0.6,
		Trees: []TreeSpec{{
			ChildrenLeft:  []int{1, -1, -1},
			ChildrenRight: []int{2, -1, -1},
			Feature:       []int{0, -2, -2},
			Threshold:     []float64{100, -2, -2},
			NNodeSamples:  []int{256, 200, 1},
		}},
	}
}

func TestAveragePathLength(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2*(math.Log(2)+eulerGamma) - 2*2.0/3.0},
		{256, 2*(math.Log(255)+eulerGamma) - 2*255.0/256.0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, averagePathLength(tt.n), 1e-12, "c(%d)", tt.n)
	}
}

func TestIsolationForest_Score(t *testing.T) {
	f, err := New(stumpArtifact())
	require.NoError(t, err)

	c256 := averagePathLength(256)

	score, err := f.Score(features.FeatureVector{50, 13, 0})
	require.NoError(t, err)
	assert.InDelta(t, -math.Pow(2, -(1+averagePathLength(200))/c256), score, 1e-12)

	score, err = f.Score(features.FeatureVector{500, 13, 0})
	require.NoError(t, err)
	assert.InDelta(t, -math.Pow(2, -1/c256), score, 1e-12)
}

func TestIsolationForest_Label(t *testing.T) {
	f, err := New(stumpArtifact())
	require.NoError(t, err)

	tests := []struct {
		name string
		vec  features.FeatureVector
		want float64
	}{
		{"typical usage", features.FeatureVector{50, 13, 0}, 1},
		{"threshold is inclusive", features.FeatureVector{100, 2, 6}, 1},
		{"isolated usage", features.FeatureVector{500, 13, 0}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Label(tt.vec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsolationForest_Float32Comparison(t *testing.T) {
	a := stumpArtifact()
	// 100.000001 rounds to 100 in float32, so sklearn sends it left
	a.Trees[0].Threshold[0] = 100
	f, err := New(a)
	require.NoError(t, err)

	got, err := f.Label(features.FeatureVector{100.000001, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestIsolationForest_InferenceErrors(t *testing.T) {
	f, err := New(stumpArtifact())
	require.NoError(t, err)

	tests := []struct {
		name string
		vec  features.FeatureVector
	}{
		{"too short", features.FeatureVector{1, 2}},
		{"too long", features.FeatureVector{1, 2, 3, 4}},
		{"nan", features.FeatureVector{math.NaN(), 2, 3}},
		{"inf", features.FeatureVector{math.Inf(1), 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Label(tt.vec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInference))
		})
	}
}

func TestIsolationForest_Deterministic(t *testing.T) {
	f, err := New(stumpArtifact())
	require.NoError(t, err)

	vec := features.FeatureVector{500, 3, 4}
	first, err := f.Label(vec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.Label(vec)
			assert.NoError(t, err)
			assert.Equal(t, first, got)
		}()
	}
	wg.Wait()
}

func TestDecode(t *testing.T) {
	data, err := json.Marshal(stumpArtifact())
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Trees())
	assert.Equal(t, 256, f.MaxSamples())
	assert.Equal(t, []string{"usage", "hour", "weekday"}, f.FeatureNames())
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Artifact)
		errMsg string
	}{
		{"wrong kind", func(a *Artifact) { a.Kind = "one_class_svm" }, "unsupported artifact kind"},
		{"wrong feature count", func(a *Artifact) { a.NFeatures = 4 }, "expects 4 features"},
		{"feature names mismatch", func(a *Artifact) { a.FeatureNames = []string{"usage"} }, "feature names"},
		{"max samples too small", func(a *Artifact) { a.MaxSamples = 1 }, "max_samples"},
		{"no trees", func(a *Artifact) { a.Trees = nil }, "no trees"},
		{"mismatched arrays", func(a *Artifact) { a.Trees[0].Threshold = []float64{1} }, "mismatched lengths"},
		{"child out of range", func(a *Artifact) { a.Trees[0].ChildrenRight[0] = 9 }, "out of range"},
		{"child loops back", func(a *Artifact) { a.Trees[0].ChildrenLeft[0] = 0 }, "out of range"},
		{"unknown feature", func(a *Artifact) { a.Trees[0].Feature[0] = 3 }, "unknown feature"},
		{"subset column out of range", func(a *Artifact) { a.Trees[0].Features = []int{0, 3} }, "feature subset"},
		{"split outside subset", func(a *Artifact) {
			a.Trees[0].Features = []int{2}
			a.Trees[0].Feature[0] = 1
		}, "unknown feature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := stumpArtifact()
			tt.mutate(&a)
			data, err := json.Marshal(a)
			require.NoError(t, err)

			_, err = Decode(data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDecode_NotJSON(t *testing.T) {
	_, err := Decode([]byte("\x80\x04\x95 pickle"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode artifact")
}

func TestIsolationForest_FeatureSubset(t *testing.T) {
	a := stumpArtifact()
	// the tree was fitted on weekday only, so its feature 0 is weekday
	a.Trees[0].Features = []int{2}
	f, err := New(a)
	require.NoError(t, err)

	got, err := f.Label(features.FeatureVector{500, 13, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	got, err = f.Label(features.FeatureVector{50, 13, 101})
	require.NoError(t, err)
	assert.Equal(t, -1.0, got)
}

type goldenCase struct {
	Vector []float64 `json:"vector"`
	Score  float64   `json:"score"`
	Label  float64   `json:"label"`
}

// forest_golden.json mixes full-width and feature-subsampled trees; the
// cases hold score_samples and predict outputs for it
func TestIsolationForest_Golden(t *testing.T) {
	data, err := os.ReadFile("testdata/forest_golden.json")
	require.NoError(t, err)
	f, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, 3, f.Trees())

	raw, err := os.ReadFile("testdata/forest_golden_cases.json")
	require.NoError(t, err)
	var cases []goldenCase
	require.NoError(t, json.Unmarshal(raw, &cases))
	require.NotEmpty(t, cases)

	anomalies := 0
	for _, tc := range cases {
		score, err := f.Score(tc.Vector)
		require.NoError(t, err)
		assert.InDelta(t, tc.Score, score, 1e-12, "score %v", tc.Vector)

		label, err := f.Label(tc.Vector)
		require.NoError(t, err)
		assert.Equal(t, tc.Label, label, "label %v", tc.Vector)
		if label == -1 {
			anomalies++
		}
	}
	assert.Greater(t, anomalies, 0)
	assert.Less(t, anomalies, len(cases))
}
