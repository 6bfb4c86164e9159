package restart_service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	called := m.Called(ctx, dir, name, args)
	out, _ := called.Get(0).([]byte)
	return out, called.Error(1)
}

func TestRestartAction_StopThenStart(t *testing.T) {
	runner := new(MockRunner)
	var order []string
	runner.On("Run", mock.Anything, "/opt/cowrie", "bin/cowrie", []string{"stop"}).
		Run(func(mock.Arguments) { order = append(order, "stop") }).
		Return([]byte("Stopping cowrie..."), nil).Once()
	runner.On("Run", mock.Anything, "/opt/cowrie", "bin/cowrie", []string{"start"}).
		Run(func(mock.Arguments) { order = append(order, "start") }).
		Return([]byte("Starting cowrie..."), nil).Once()

	action := New("/opt/cowrie", "bin/cowrie", []string{"stop"}, []string{"start"}, runner)
	assert.Equal(t, ActionName, action.Name())
	require.NoError(t, action.Execute(context.Background(), nil))

	assert.Equal(t, []string{"stop", "start"}, order)
	runner.AssertExpectations(t)
}

func TestRestartAction_StopFailureSkipsStart(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, ".", "bin/cowrie", []string{"stop"}).
		Return([]byte("cowrie is not running\n"), fmt.Errorf("exit status 1")).Once()

	err := New(".", "bin/cowrie", []string{"stop"}, []string{"start"}, runner).Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindExternalCommand))

	me, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "bin/cowrie stop", me.Details["command"])
	assert.Equal(t, "cowrie is not running", me.Details["output"])
	assert.EqualError(t, me.Cause, "exit status 1")

	runner.AssertNotCalled(t, "Run", mock.Anything, ".", "bin/cowrie", []string{"start"})
	runner.AssertExpectations(t)
}

func TestRestartAction_StartFailure(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, ".", "bin/cowrie", []string{"stop"}).Return([]byte(nil), nil).Once()
	runner.On("Run", mock.Anything, ".", "bin/cowrie", []string{"start"}).Return([]byte("twistd failed"), fmt.Errorf("exit status 2")).Once()

	err := New(".", "bin/cowrie", []string{"stop"}, []string{"start"}, runner).Execute(context.Background(), nil)
	assert.True(t, errors.IsKind(err, errors.KindExternalCommand))
	runner.AssertExpectations(t)
}

func TestExecRunner_RunsInDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "control.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$1\" >> calls.log\n[ \"$1\" != fail ]\n"), 0755))

	action := New(dir, "./control.sh", []string{"stop"}, []string{"start"}, nil)
	require.NoError(t, action.Execute(context.Background(), nil))

	calls, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	require.NoError(t, err)
	assert.Equal(t, "stop\nstart\n", string(calls))

	_, err = ExecRunner{}.Run(context.Background(), dir, "./control.sh", "fail")
	assert.Error(t, err)
}
