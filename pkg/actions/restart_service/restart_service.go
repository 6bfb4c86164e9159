package restart_service

import (
	"context"
	"os/exec"
	"strings"

	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ActionName is the name the action registers under.
const ActionName = "restart_honeypot"

// CommandRunner runs an external command in dir and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. It applies no timeout of its own;
// only ctx cancellation interrupts a command.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RestartAction implements the actions.Action interface. It stops and then
// starts the honeypot through its control script.
type RestartAction struct {
	Dir       string
	Command   string
	StopArgs  []string
	StartArgs []string
	Runner    CommandRunner
}

// New creates a RestartAction that runs command from dir. A nil runner uses ExecRunner.
func New(dir, command string, stopArgs, startArgs []string, runner CommandRunner) *RestartAction {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &RestartAction{
		Dir:       dir,
		Command:   command,
		StopArgs:  stopArgs,
		StartArgs: startArgs,
		Runner:    runner,
	}
}

// Name returns the unique name of the action.
func (ra *RestartAction) Name() string {
	return ActionName
}

// Execute runs stop then start. If stop fails, start is not attempted. Neither
// step is retried, and a failure leaves any earlier config change in place.
func (ra *RestartAction) Execute(ctx context.Context, data map[string]interface{}) error {
	if err := ra.run(ctx, ra.StopArgs); err != nil {
		return err
	}
	if err := ra.run(ctx, ra.StartArgs); err != nil {
		return err
	}
	log.Info().Str("action", ActionName).Str("dir", ra.Dir).Msg("Honeypot restarted.")
	return nil
}

func (ra *RestartAction) run(ctx context.Context, args []string) error {
	commandLine := strings.TrimSpace(ra.Command + " " + strings.Join(args, " "))
	log.Info().Str("action", ActionName).Str("command", commandLine).Str("dir", ra.Dir).Msg("Running control command...")

	out, err := ra.Runner.Run(ctx, ra.Dir, ra.Command, args...)
	if err != nil {
		return errors.NewExternalCommandError(ActionName, commandLine, strings.TrimSpace(string(out)), err)
	}
	return nil
}
