// pkg/errors/monitor_errors.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Kind enumerates the failure classes a run can produce.
type Kind string

const (
	KindResourceMissing Kind = "resource_missing"
	KindParseSkip       Kind = "parse_skip"
	KindExternalCommand Kind = "external_command"
	KindArtifact        Kind = "artifact"
	KindConfiguration   Kind = "configuration"
	KindRewrite         Kind = "rewrite"
	KindVerification    Kind = "verification"
)

// MonitorError represents a structured error from a pipeline component
type MonitorError struct {
	Component   string                 `json:"component"`
	Kind        Kind                   `json:"kind"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Error implements the error interface
func (me *MonitorError) Error() string {
	if me.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", me.Component, me.Kind, me.Message, me.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", me.Component, me.Kind, me.Message)
}

// Unwrap returns the underlying cause
func (me *MonitorError) Unwrap() error {
	return me.Cause
}

// IsKind reports whether err, or anything it wraps, is a MonitorError of the given kind.
func IsKind(err error, kind Kind) bool {
	var me *MonitorError
	if !stderrors.As(err, &me) {
		return false
	}
	return me.Kind == kind
}

// As is a shorthand for extracting a MonitorError from an error chain.
func As(err error) (*MonitorError, bool) {
	var me *MonitorError
	ok := stderrors.As(err, &me)
	return me, ok
}

// ErrorHandler manages component errors
type ErrorHandler struct {
	logger    zerolog.Logger
	collector ErrorCollector
}

// ErrorCollector defines how errors are collected and reported
type ErrorCollector interface {
	CollectError(ctx context.Context, err *MonitorError) error
	GetErrorStats() ErrorStats
}

type ErrorStats struct {
	TotalErrors       int              `json:"total_errors"`
	ErrorsByKind      map[Kind]int     `json:"errors_by_kind"`
	ErrorsByComponent map[string]int   `json:"errors_by_component"`
	ErrorsBySeverity  map[Severity]int `json:"errors_by_severity"`
	LastError         *MonitorError    `json:"last_error,omitempty"`
}

// NewErrorHandler creates a new error handler. collector may be nil.
func NewErrorHandler(logger zerolog.Logger, collector ErrorCollector) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		collector: collector,
	}
}

// HandleError logs err at the level implied by its severity and hands it to the collector.
func (eh *ErrorHandler) HandleError(ctx context.Context, err *MonitorError) error {
	logEvent := eh.getLogEvent(err.Severity).
		Str("component", err.Component).
		Str("kind", string(err.Kind)).
		Bool("recoverable", err.Recoverable)

	if err.Details != nil {
		logEvent = logEvent.Interface("details", err.Details)
	}

	if err.Cause != nil {
		logEvent = logEvent.AnErr("cause", err.Cause)
	}

	logEvent.Msg(err.Message)

	if eh.collector != nil {
		return eh.collector.CollectError(ctx, err)
	}

	return nil
}

// getLogEvent returns the appropriate zerolog event for severity.
// Critical errors are logged at error level; terminating is left to cmd/.
func (eh *ErrorHandler) getLogEvent(severity Severity) *zerolog.Event {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return eh.logger.Error()
	case SeverityMedium:
		return eh.logger.Warn()
	case SeverityLow:
		return eh.logger.Info()
	case SeverityInfo:
		return eh.logger.Debug()
	default:
		return eh.logger.Info()
	}
}

// Helper functions for creating common error types

func NewConfigError(component string, cause error, details map[string]interface{}) *MonitorError {
	return &MonitorError{
		Component:   component,
		Kind:        KindConfiguration,
		Message:     "Configuration error occurred",
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewResourceMissingError reports a required file that is absent or unreadable.
// It is fatal for the current invocation.
func NewResourceMissingError(component string, resource string, cause error) *MonitorError {
	return &MonitorError{
		Component: component,
		Kind:      KindResourceMissing,
		Message:   fmt.Sprintf("Resource unavailable: %s", resource),
		Details: map[string]interface{}{
			"resource": resource,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewParseSkipError reports a log line that was skipped.
func NewParseSkipError(component string, line int, reason string, cause error) *MonitorError {
	return &MonitorError{
		Component: component,
		Kind:      KindParseSkip,
		Message:   fmt.Sprintf("Skipping line %d: %s", line, reason),
		Details: map[string]interface{}{
			"line":   line,
			"reason": reason,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewExternalCommandError reports a control command that exited unsuccessfully.
func NewExternalCommandError(component string, command string, output string, cause error) *MonitorError {
	return &MonitorError{
		Component: component,
		Kind:      KindExternalCommand,
		Message:   fmt.Sprintf("Command failed: %s", command),
		Details: map[string]interface{}{
			"command": command,
			"output":  output,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: false,
		Cause:       cause,
	}
}

func NewArtifactError(component string, artifact string, cause error) *MonitorError {
	return &MonitorError{
		Component: component,
		Kind:      KindArtifact,
		Message:   fmt.Sprintf("Invalid artifact: %s", artifact),
		Details: map[string]interface{}{
			"artifact": artifact,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityCritical,
		Recoverable: false,
		Cause:       cause,
	}
}

func NewRewriteError(component string, path string, cause error) *MonitorError {
	return &MonitorError{
		Component: component,
		Kind:      KindRewrite,
		Message:   fmt.Sprintf("Failed to rewrite %s", path),
		Details: map[string]interface{}{
			"path": path,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: false,
		Cause:       cause,
	}
}

func NewVerificationError(component string, check string, cause error) *MonitorError {
	return &MonitorError{
		Component: component,
		Kind:      KindVerification,
		Message:   fmt.Sprintf("Verification failed: %s", check),
		Details: map[string]interface{}{
			"check": check,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}
