package actions

import (
	"context"
)

// Data keys passed to every action of an adaptation chain.
const (
	DataRunID      = "run_id"
	DataSuspicious = "suspicious_sessions"
)

// Action defines the interface for any adaptation the loop can take.
// Each action must have a name and an execution method.
type Action interface {
	// Name returns the unique name of the action.
	Name() string
	// Execute performs the action. It is passed a context for cancellation and a
	// map of data describing the run that triggered it (run id, suspicious sessions).
	Execute(ctx context.Context, data map[string]interface{}) error
}
