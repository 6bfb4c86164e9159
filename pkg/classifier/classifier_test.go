package classifier

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/lucid-vigil/honeyshift/pkg/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stumpForest labels a row suspicious when its scaled command count exceeds threshold.
func stumpForest(threshold float64) *Forest {
	return &Forest{
		Kind:         KindRandomForest,
		FeatureNames: features.Names,
		Classes:      []int{0, 1},
		Trees: []Tree{{Nodes: []Node{
			{Feature: 0, Threshold: threshold, Left: 1, Right: 2},
			{Feature: -1, Value: []float64{5, 0}},
			{Feature: -1, Value: []float64{0, 5}},
		}}},
	}
}

func identityScaler() *StandardScaler {
	return &StandardScaler{
		Kind:         KindStandardScaler,
		FeatureNames: features.Names,
		Mean:         []float64{0, 0},
		Scale:        []float64{1, 1},
	}
}

func TestStandardScaler_FitTransform(t *testing.T) {
	X := [][]float64{{1, 10}, {3, 10}, {5, 10}}
	s, err := FitStandardScaler(features.Names, X)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.InDeltaSlice(t, []float64{3, 10}, s.Mean, 1e-9)
	assert.InDelta(t, 1.632993, s.Scale[0], 1e-6)
	assert.Equal(t, 1.0, s.Scale[1], "zero variance column gets unit scale")

	out, err := s.Transform([][]float64{{3, 12}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 2}, out[0], 1e-9)

	_, err = s.Transform([][]float64{{1}})
	assert.Error(t, err)

	_, err = FitStandardScaler(features.Names, nil)
	assert.Error(t, err)

	_, err = FitStandardScaler(features.Names, [][]float64{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestForest_Predict(t *testing.T) {
	f := stumpForest(20)
	require.NoError(t, f.Validate())

	labels, err := f.Predict([][]float64{{25, 1}, {20, 1}, {3, 100}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 0}, labels)

	// A second tree that always votes 0 with higher confidence flips the result.
	f.Trees = append(f.Trees, Tree{Nodes: []Node{{Feature: -1, Value: []float64{1, 0}}}}, Tree{Nodes: []Node{{Feature: -1, Value: []float64{3, 1}}}})
	probas, err := f.PredictProba([][]float64{{25, 1}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{(0 + 1 + 0.75) / 3, (1 + 0 + 0.25) / 3}, probas[0], 1e-9)

	labels, err = f.Predict([][]float64{{25, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, labels)

	_, err = f.Predict([][]float64{{1, 2, 3}})
	assert.Error(t, err)
}

func TestForest_Validate(t *testing.T) {
	bad := stumpForest(1)
	bad.Trees[0].Nodes[0].Left = 0
	assert.Error(t, bad.Validate(), "self loop")

	bad = stumpForest(1)
	bad.Trees[0].Nodes[1].Value = []float64{1}
	assert.Error(t, bad.Validate(), "leaf/class size mismatch")

	bad = stumpForest(1)
	bad.Trees[0].Nodes[0].Feature = 5
	assert.Error(t, bad.Validate(), "feature out of range")

	bad = stumpForest(1)
	bad.Kind = "svm"
	assert.Error(t, bad.Validate())

	bad = stumpForest(1)
	bad.Trees = nil
	assert.Error(t, bad.Validate())
}

func TestClassifier_Classify(t *testing.T) {
	c := New(identityScaler(), stumpForest(20))

	set := features.Set{
		"A": {Session: "A", CommandCount: 25, DurationSeconds: 30},
		"B": {Session: "B", CommandCount: 5, DurationSeconds: 600},
		"C": {Session: "C", CommandCount: 21, DurationSeconds: 0},
	}
	scored, err := c.Classify(set)
	require.NoError(t, err)
	require.Len(t, scored, 3)

	assert.Equal(t, "A", scored[0].Session)
	assert.True(t, scored[0].Suspicious)
	assert.False(t, scored[1].Suspicious)
	assert.True(t, scored[2].Suspicious)
	assert.Equal(t, []string{"A", "C"}, Suspicious(scored))

	scored, err = c.Classify(features.Set{})
	require.NoError(t, err)
	assert.Empty(t, scored)
	assert.Empty(t, Suspicious(scored))
}

// A model trained on [command_count, session_duration] must see that order:
// a long, command-free session must not look like a busy one.
func TestClassifier_FeatureOrderMatters(t *testing.T) {
	c := New(identityScaler(), stumpForest(20))
	scored, err := c.Classify(features.Set{"idle": {Session: "idle", CommandCount: 0, DurationSeconds: 3600}})
	require.NoError(t, err)
	assert.False(t, scored[0].Suspicious)
}

func writeArtifacts(t *testing.T, model, scaler interface{}) (string, string) {
	t.Helper()
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "rf_model.json")
	scalerPath := filepath.Join(dir, "scaler.json")
	for path, v := range map[string]interface{}{modelPath: model, scalerPath: scaler} {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0644))
	}
	return modelPath, scalerPath
}

func TestLoadArtifacts(t *testing.T) {
	modelPath, scalerPath := writeArtifacts(t, stumpForest(20), identityScaler())

	a, err := LoadArtifacts(modelPath, scalerPath)
	require.NoError(t, err)
	assert.Len(t, a.Model.Trees, 1)

	labels, err := FromArtifacts(a).PredictRows([][]float64{{30, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, labels)
}

func TestLoadArtifacts_Failures(t *testing.T) {
	t.Run("missing model", func(t *testing.T) {
		_, scalerPath := writeArtifacts(t, stumpForest(20), identityScaler())
		_, err := LoadArtifacts(filepath.Join(t.TempDir(), "absent.json"), scalerPath)
		assert.True(t, errors.IsKind(err, errors.KindResourceMissing))
	})

	t.Run("missing scaler", func(t *testing.T) {
		modelPath, _ := writeArtifacts(t, stumpForest(20), identityScaler())
		_, err := LoadArtifacts(modelPath, filepath.Join(t.TempDir(), "absent.json"))
		assert.True(t, errors.IsKind(err, errors.KindResourceMissing))
	})

	t.Run("corrupt model", func(t *testing.T) {
		modelPath, scalerPath := writeArtifacts(t, stumpForest(20), identityScaler())
		require.NoError(t, os.WriteFile(modelPath, []byte("\x80\x04pickle"), 0644))
		_, err := LoadArtifacts(modelPath, scalerPath)
		assert.True(t, errors.IsKind(err, errors.KindArtifact))
	})

	t.Run("swapped feature order", func(t *testing.T) {
		scaler := identityScaler()
		scaler.FeatureNames = []string{features.SessionDuration, features.CommandCount}
		modelPath, scalerPath := writeArtifacts(t, stumpForest(20), scaler)
		_, err := LoadArtifacts(modelPath, scalerPath)
		assert.True(t, errors.IsKind(err, errors.KindArtifact))
	})

	t.Run("model feature order", func(t *testing.T) {
		model := stumpForest(20)
		model.FeatureNames = []string{"input_length", features.SessionDuration}
		modelPath, scalerPath := writeArtifacts(t, model, identityScaler())
		_, err := LoadArtifacts(modelPath, scalerPath)
		assert.True(t, errors.IsKind(err, errors.KindArtifact))
	})
}

func TestArtifacts_Save(t *testing.T) {
	dir := t.TempDir()
	a := &Artifacts{Scaler: identityScaler(), Model: stumpForest(4)}
	modelPath := filepath.Join(dir, "models", "rf_model.json")
	scalerPath := filepath.Join(dir, "models", "scaler.json")
	require.NoError(t, a.Save(modelPath, scalerPath))

	loaded, err := LoadArtifacts(modelPath, scalerPath)
	require.NoError(t, err)
	assert.Equal(t, a.Model.Trees, loaded.Model.Trees)
	assert.Equal(t, a.Scaler.Mean, loaded.Scaler.Mean)
}
