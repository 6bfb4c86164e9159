package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/lucid-vigil/honeyshift/pkg/features"
)

const componentName = "classifier"

// Artifacts are the fitted scaler and model, loaded once and shared read-only.
type Artifacts struct {
	Scaler *StandardScaler
	Model  *Forest
}

// LoadArtifacts reads and validates both artifacts. Both must exist, decode,
// and declare the feature order in features.Names.
func LoadArtifacts(modelPath, scalerPath string) (*Artifacts, error) {
	scaler := &StandardScaler{}
	if err := readJSON(scalerPath, scaler); err != nil {
		return nil, err
	}
	if err := scaler.Validate(); err != nil {
		return nil, errors.NewArtifactError(componentName, scalerPath, err)
	}

	model := &Forest{}
	if err := readJSON(modelPath, model); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, errors.NewArtifactError(componentName, modelPath, err)
	}

	if !slices.Equal(scaler.FeatureNames, features.Names) {
		return nil, errors.NewArtifactError(componentName, scalerPath,
			fmt.Errorf("feature order %v does not match %v", scaler.FeatureNames, features.Names))
	}
	if !slices.Equal(model.FeatureNames, features.Names) {
		return nil, errors.NewArtifactError(componentName, modelPath,
			fmt.Errorf("feature order %v does not match %v", model.FeatureNames, features.Names))
	}

	return &Artifacts{Scaler: scaler, Model: model}, nil
}

// Save writes both artifacts, creating parent directories as needed.
func (a *Artifacts) Save(modelPath, scalerPath string) error {
	if err := writeJSON(scalerPath, a.Scaler); err != nil {
		return err
	}
	return writeJSON(modelPath, a.Model)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.NewResourceMissingError(componentName, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewArtifactError(componentName, path, err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create artifact dir for %s: %w", path, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
