// Package training fits the scaler and random forest used by the adaptive loop.
package training

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/lucid-vigil/honeyshift/pkg/classifier"
	"github.com/lucid-vigil/honeyshift/pkg/cowrie"
	"github.com/lucid-vigil/honeyshift/pkg/export"
	"github.com/lucid-vigil/honeyshift/pkg/features"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Options configures a training run.
type Options struct {
	CSVPath        string
	ModelPath      string
	ScalerPath     string
	LabelThreshold int
	TestSize       float64
	Forest         ForestParams
}

// Result summarizes a training run.
type Result struct {
	Sessions  int
	TrainSize int
	TestSize  int
	Report    Report
	Artifacts *classifier.Artifacts
}

// Dataset is a labeled feature matrix in features.Names order.
type Dataset struct {
	Sessions []features.SessionFeatures
	X        [][]float64
	Y        []int
}

// BuildDataset extracts per-session features from entries and labels sessions
// with more than labelThreshold commands as suspicious. Entries without a
// source address are dropped along with those lacking a session identity.
func BuildDataset(entries []cowrie.Entry, labelThreshold int) Dataset {
	x := features.NewExtractor()
	for _, e := range entries {
		if e.SrcIP == "" {
			continue
		}
		x.Add(e)
	}

	rows, X := x.Result().Matrix()
	y := make([]int, len(rows))
	for i, sf := range rows {
		if sf.CommandCount > labelThreshold {
			y[i] = classifier.SuspiciousClass
		}
	}
	return Dataset{Sessions: rows, X: X, Y: y}
}

// Run trains on the CSV export and writes both artifacts.
func Run(opts Options, logger zerolog.Logger) (*Result, error) {
	entries, skipped, err := export.ReadEntries(opts.CSVPath)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("entries", len(entries)).Int("skipped", skipped).Msg("Loaded training data.")

	ds := BuildDataset(entries, opts.LabelThreshold)
	if len(ds.X) < 2 {
		return nil, fmt.Errorf("need at least 2 sessions to train, got %d", len(ds.X))
	}

	scaler, err := classifier.FitStandardScaler(features.Names, ds.X)
	if err != nil {
		return nil, err
	}
	scaled, err := scaler.Transform(ds.X)
	if err != nil {
		return nil, err
	}

	trainIdx, testIdx := Split(len(scaled), opts.TestSize, opts.Forest.Seed)
	Xtrain, ytrain := subset(scaled, ds.Y, trainIdx)
	Xtest, ytest := subset(scaled, ds.Y, testIdx)

	model, err := TrainForest(features.Names, Xtrain, ytrain, []int{0, classifier.SuspiciousClass}, opts.Forest)
	if err != nil {
		return nil, err
	}

	pred, err := model.Predict(Xtest)
	if err != nil {
		return nil, err
	}
	report := Evaluate(ytest, pred, model.Classes)

	artifacts := &classifier.Artifacts{Scaler: scaler, Model: model}
	if err := artifacts.Save(opts.ModelPath, opts.ScalerPath); err != nil {
		return nil, err
	}

	logger.Info().
		Int("sessions", len(ds.X)).
		Int("train", len(trainIdx)).
		Int("test", len(testIdx)).
		Float64("accuracy", report.Accuracy).
		Str("model", opts.ModelPath).
		Str("scaler", opts.ScalerPath).
		Msg("Model trained and saved.")

	return &Result{
		Sessions:  len(ds.X),
		TrainSize: len(trainIdx),
		TestSize:  len(testIdx),
		Report:    report,
		Artifacts: artifacts,
	}, nil
}

// Split shuffles 0..n-1 with seed and returns train and test indices. The
// test share is rounded up; at least one row always remains for training.
func Split(n int, testSize float64, seed int64) ([]int, []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}
	return perm[nTest:], perm[:nTest]
}

func subset(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = X[j]
		ys[i] = y[j]
	}
	return xs, ys
}

// ClassMetrics are the per-class evaluation scores.
type ClassMetrics struct {
	Class     int
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is the evaluation of a model on held-out data.
type Report struct {
	Accuracy float64
	Classes  []ClassMetrics
}

// Evaluate compares predictions to the truth. Precision and recall are
// weighted means of class indicators: precision weights the truth indicator
// by the prediction indicator, recall the other way round.
func Evaluate(truth, pred []int, classes []int) Report {
	r := Report{}
	if len(truth) == 0 {
		return r
	}
	correct := make([]float64, len(truth))
	for i := range truth {
		correct[i] = indicator(truth[i] == pred[i])
	}
	r.Accuracy = stat.Mean(correct, nil)

	isTrue := make([]float64, len(truth))
	isPred := make([]float64, len(truth))
	for _, c := range classes {
		for i := range truth {
			isTrue[i] = indicator(truth[i] == c)
			isPred[i] = indicator(pred[i] == c)
		}
		m := ClassMetrics{Class: c, Support: int(floats.Sum(isTrue))}
		if floats.Sum(isPred) > 0 {
			m.Precision = stat.Mean(isTrue, isPred)
		}
		if m.Support > 0 {
			m.Recall = stat.Mean(isPred, isTrue)
		}
		if m.Precision > 0 && m.Recall > 0 {
			m.F1 = stat.HarmonicMean([]float64{m.Precision, m.Recall}, nil)
		}
		r.Classes = append(r.Classes, m)
	}
	return r
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// String renders the report as a plain-text table.
func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model Accuracy: %.2f\n", r.Accuracy)
	fmt.Fprintf(&sb, "%10s %10s %10s %10s %10s\n", "class", "precision", "recall", "f1-score", "support")
	for _, m := range r.Classes {
		fmt.Fprintf(&sb, "%10d %10.2f %10.2f %10.2f %10d\n", m.Class, m.Precision, m.Recall, m.F1, m.Support)
	}
	return sb.String()
}
