// Package classifier scores session features with a fitted scaler and model.
package classifier

import (
	"fmt"

	"github.com/lucid-vigil/honeyshift/pkg/features"
)

// SuspiciousClass is the model label meaning "suspicious".
const SuspiciousClass = 1

// Transformer rescales raw feature rows.
type Transformer interface {
	Transform(X [][]float64) ([][]float64, error)
}

// Predictor maps scaled feature rows to class labels.
type Predictor interface {
	Predict(X [][]float64) ([]int, error)
}

// ScoredSession is a session's features plus its label.
type ScoredSession struct {
	features.SessionFeatures
	Suspicious bool `json:"suspicious"`
}

// Classifier applies the scaler and then the model. It holds no mutable state
// and is safe to reuse across runs.
type Classifier struct {
	scaler Transformer
	model  Predictor
}

// New creates a Classifier.
func New(scaler Transformer, model Predictor) *Classifier {
	return &Classifier{scaler: scaler, model: model}
}

// FromArtifacts creates a Classifier over loaded artifacts.
func FromArtifacts(a *Artifacts) *Classifier {
	return New(a.Scaler, a.Model)
}

// Classify labels every session in set. Results are ordered by session id.
func (c *Classifier) Classify(set features.Set) ([]ScoredSession, error) {
	rows, X := set.Matrix()
	if len(rows) == 0 {
		return nil, nil
	}

	labels, err := c.PredictRows(X)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredSession, len(rows))
	for i, sf := range rows {
		scored[i] = ScoredSession{SessionFeatures: sf, Suspicious: labels[i] == SuspiciousClass}
	}
	return scored, nil
}

// PredictRows scales raw rows in features.Names order and returns one label per row.
func (c *Classifier) PredictRows(X [][]float64) ([]int, error) {
	scaled, err := c.scaler.Transform(X)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}
	labels, err := c.model.Predict(scaled)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(labels) != len(X) {
		return nil, fmt.Errorf("model returned %d labels for %d rows", len(labels), len(X))
	}
	return labels, nil
}

// Suspicious returns the ids of the sessions labeled suspicious.
func Suspicious(scored []ScoredSession) []string {
	var ids []string
	for _, s := range scored {
		if s.Suspicious {
			ids = append(ids, s.Session)
		}
	}
	return ids
}
