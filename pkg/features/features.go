// Package features turns session log entries into the classifier's input vectors.
package features

import (
	"sort"
	"time"

	"github.com/lucid-vigil/honeyshift/pkg/cowrie"
)

// Feature names in the order the scaler and classifier were fitted on.
// Presenting features in any other order silently corrupts predictions.
const (
	CommandCount    = "command_count"
	SessionDuration = "session_duration"
)

// Names is the fixed feature order of every Vector.
var Names = []string{CommandCount, SessionDuration}

// SessionFeatures is the per-session aggregate fed to the classifier.
type SessionFeatures struct {
	Session         string  `json:"session"`
	CommandCount    int     `json:"command_count"`
	DurationSeconds float64 `json:"session_duration"`
}

// Vector returns the features in Names order.
func (sf SessionFeatures) Vector() []float64 {
	return []float64{float64(sf.CommandCount), sf.DurationSeconds}
}

// Set maps session id to its features.
type Set map[string]SessionFeatures

// Sorted returns the sessions ordered by id, giving a deterministic row order
// independent of map iteration.
func (s Set) Sorted() []SessionFeatures {
	out := make([]SessionFeatures, 0, len(s))
	for _, sf := range s {
		out = append(out, sf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// Matrix returns the feature rows of Sorted, in the same order.
func (s Set) Matrix() ([]SessionFeatures, [][]float64) {
	rows := s.Sorted()
	X := make([][]float64, len(rows))
	for i, sf := range rows {
		X[i] = sf.Vector()
	}
	return rows, X
}

type sessionAgg struct {
	commands int
	first    time.Time
	last     time.Time
}

// Extractor accumulates entries one at a time so a log never has to be held
// in memory. The zero value is not usable; call NewExtractor.
type Extractor struct {
	sessions map[string]*sessionAgg
	dropped  int
}

// NewExtractor returns an empty Extractor.
func NewExtractor() *Extractor {
	return &Extractor{sessions: make(map[string]*sessionAgg)}
}

// Add folds one entry into its session. Entries without an event id or a
// session id are dropped and counted.
func (x *Extractor) Add(e cowrie.Entry) {
	if !e.HasIdentity() {
		x.dropped++
		return
	}

	agg, ok := x.sessions[e.Session]
	if !ok {
		agg = &sessionAgg{first: e.Timestamp, last: e.Timestamp}
		x.sessions[e.Session] = agg
	}
	if e.IsCommandInput() {
		agg.commands++
	}
	if e.Timestamp.Before(agg.first) {
		agg.first = e.Timestamp
	}
	if e.Timestamp.After(agg.last) {
		agg.last = e.Timestamp
	}
}

// Dropped returns how many entries lacked identifying fields.
func (x *Extractor) Dropped() int {
	return x.dropped
}

// Result returns the features of every session seen so far. Sessions with no
// command input are included with a zero count. An empty Set means there is
// nothing to score.
func (x *Extractor) Result() Set {
	out := make(Set, len(x.sessions))
	for id, agg := range x.sessions {
		out[id] = SessionFeatures{
			Session:         id,
			CommandCount:    agg.commands,
			DurationSeconds: agg.last.Sub(agg.first).Seconds(),
		}
	}
	return out
}

// Extract is a convenience wrapper over Extractor for an in-memory slice.
func Extract(entries []cowrie.Entry) Set {
	x := NewExtractor()
	for _, e := range entries {
		x.Add(e)
	}
	return x.Result()
}
