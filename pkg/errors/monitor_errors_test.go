package errors

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCollector struct {
	mock.Mock
}

func (m *MockCollector) CollectError(ctx context.Context, err *MonitorError) error {
	args := m.Called(ctx, err)
	return args.Error(0)
}

func (m *MockCollector) GetErrorStats() ErrorStats {
	args := m.Called()
	return args.Get(0).(ErrorStats)
}

func TestMonitorError_ErrorAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("exit status 1")
	err := NewExternalCommandError("restart_honeypot", "bin/cowrie stop", "not running", cause)

	assert.Equal(t, "[restart_honeypot] external_command: Command failed: bin/cowrie stop: exit status 1", err.Error())
	assert.Same(t, cause, stderrors.Unwrap(err))
	assert.Equal(t, "not running", err.Details["output"])

	bare := &MonitorError{Component: "c", Kind: KindRewrite, Message: "m"}
	assert.Equal(t, "[c] rewrite: m", bare.Error())
}

func TestIsKindAndAs(t *testing.T) {
	err := NewResourceMissingError("cowrie_reader", "/var/log/cowrie.json", fmt.Errorf("no such file"))
	wrapped := fmt.Errorf("run: %w", err)

	assert.True(t, IsKind(wrapped, KindResourceMissing))
	assert.False(t, IsKind(wrapped, KindArtifact))
	assert.False(t, IsKind(fmt.Errorf("plain"), KindResourceMissing))
	assert.False(t, IsKind(nil, KindResourceMissing))

	me, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "/var/log/cowrie.json", me.Details["resource"])

	_, ok = As(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name        string
		err         *MonitorError
		kind        Kind
		severity    Severity
		recoverable bool
	}{
		{"config", NewConfigError("config", nil, map[string]interface{}{"key": "window"}), KindConfiguration, SeverityHigh, false},
		{"resource", NewResourceMissingError("c", "f", nil), KindResourceMissing, SeverityHigh, false},
		{"parse skip", NewParseSkipError("c", 3, "invalid json", nil), KindParseSkip, SeverityMedium, true},
		{"command", NewExternalCommandError("c", "cmd", "", nil), KindExternalCommand, SeverityHigh, false},
		{"artifact", NewArtifactError("c", "model.json", nil), KindArtifact, SeverityCritical, false},
		{"rewrite", NewRewriteError("c", "cowrie.cfg", nil), KindRewrite, SeverityHigh, false},
		{"verification", NewVerificationError("c", "listen", nil), KindVerification, SeverityMedium, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.severity, tt.err.Severity)
			assert.Equal(t, tt.recoverable, tt.err.Recoverable)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}

	skip := NewParseSkipError("c", 7, "invalid timestamp", nil)
	assert.Equal(t, 7, skip.Details["line"])
	assert.Equal(t, "Skipping line 7: invalid timestamp", skip.Message)
}

func TestErrorHandler_LogsBySeverity(t *testing.T) {
	var buf bytes.Buffer
	handler := NewErrorHandler(zerolog.New(&buf), nil)

	err := NewRewriteError("rewrite_listen_port", "etc/cowrie.cfg", fmt.Errorf("permission denied"))
	require.NoError(t, handler.HandleError(context.Background(), err))

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"component":"rewrite_listen_port"`)
	assert.Contains(t, out, `"kind":"rewrite"`)
	assert.Contains(t, out, `"cause":"permission denied"`)
	assert.Contains(t, out, "Failed to rewrite etc/cowrie.cfg")

	buf.Reset()
	require.NoError(t, handler.HandleError(context.Background(), NewParseSkipError("cowrie_reader", 1, "invalid json", nil)))
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestErrorHandler_ForwardsToCollector(t *testing.T) {
	collector := new(MockCollector)
	handler := NewErrorHandler(zerolog.Nop(), collector)
	err := NewArtifactError("classifier", "rf_model.json", nil)

	collector.On("CollectError", mock.Anything, err).Return(fmt.Errorf("sink down"))

	assert.EqualError(t, handler.HandleError(context.Background(), err), "sink down")
	collector.AssertExpectations(t)
}
