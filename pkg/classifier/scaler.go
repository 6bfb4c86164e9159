package classifier

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// KindStandardScaler tags a serialized StandardScaler.
const KindStandardScaler = "standard_scaler"

// StandardScaler centers each feature on its training mean and divides by its
// training standard deviation.
type StandardScaler struct {
	Kind         string    `json:"kind"`
	FeatureNames []string  `json:"feature_names"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
}

// FitStandardScaler computes per-column mean and population standard deviation.
// Columns with zero (or numerically undefined) variance get a scale of 1.
func FitStandardScaler(names []string, X [][]float64) (*StandardScaler, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on zero rows")
	}
	n := len(names)
	columns := make([][]float64, n)
	for j := range columns {
		columns[j] = make([]float64, len(X))
	}
	for i, row := range X {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), n)
		}
		for j, v := range row {
			columns[j][i] = v
		}
	}

	mean := make([]float64, n)
	scale := make([]float64, n)
	for j, col := range columns {
		mean[j], scale[j] = stat.PopMeanStdDev(col, nil)
		if !(scale[j] > 0) {
			scale[j] = 1
		}
	}

	return &StandardScaler{
		Kind:         KindStandardScaler,
		FeatureNames: append([]string(nil), names...),
		Mean:         mean,
		Scale:        scale,
	}, nil
}

// Validate checks the scaler's internal consistency.
func (s *StandardScaler) Validate() error {
	if s.Kind != KindStandardScaler {
		return fmt.Errorf("unexpected scaler kind %q", s.Kind)
	}
	if len(s.FeatureNames) == 0 {
		return fmt.Errorf("scaler has no features")
	}
	if len(s.Mean) != len(s.FeatureNames) || len(s.Scale) != len(s.FeatureNames) {
		return fmt.Errorf("scaler has %d features but %d means and %d scales",
			len(s.FeatureNames), len(s.Mean), len(s.Scale))
	}
	return nil
}

// Transform returns a scaled copy of X.
func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row %d has %d features, scaler expects %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			sc := s.Scale[j]
			if sc == 0 {
				sc = 1
			}
			scaled[j] = (v - s.Mean[j]) / sc
		}
		out[i] = scaled
	}
	return out, nil
}
