package actions

import (
	"github.com/lucid-vigil/honeyshift/pkg/actions/restart_service"
	"github.com/lucid-vigil/honeyshift/pkg/actions/rewrite_port"
	"github.com/lucid-vigil/honeyshift/pkg/actions/verify_listen"
	"github.com/lucid-vigil/honeyshift/pkg/config"
)

// NewAdaptationDispatcher creates a dispatcher with the built-in adaptation
// actions bound to cfg. Execution is enabled when adaptation.enabled is set.
// runner may be nil to run control commands with os/exec.
func NewAdaptationDispatcher(cfg *config.Config, runner restart_service.CommandRunner) (*ActionDispatcher, error) {
	dispatcher := NewActionDispatcher(cfg.Adaptation.Enabled)

	a := cfg.Adaptation
	dispatcher.RegisterAction(rewrite_port.New(cfg.Paths.HoneypotConfig, a.Key, a.Value))
	dispatcher.RegisterAction(restart_service.New(cfg.Paths.HoneypotDir, a.ControlCommand, a.StopArgs, a.StartArgs, runner))

	if a.VerifyListen {
		verify, err := verify_listen.New(a.Value, a.VerifyTimeout)
		if err != nil {
			return nil, err
		}
		dispatcher.RegisterAction(verify)
	}

	return dispatcher, nil
}

// AdaptationChain returns the ordered action names the adaptive monitor runs:
// the monitor's configured actions, followed by verify_listen when enabled.
func AdaptationChain(cfg *config.Config, monitorName string) []string {
	var chain []string
	if mc := cfg.GetMonitorConfig(monitorName); mc != nil && len(mc.Actions) > 0 {
		chain = append(chain, mc.Actions...)
	} else {
		chain = []string{rewrite_port.ActionName, restart_service.ActionName}
	}

	if cfg.Adaptation.VerifyListen {
		for _, name := range chain {
			if name == verify_listen.ActionName {
				return chain
			}
		}
		chain = append(chain, verify_listen.ActionName)
	}
	return chain
}
