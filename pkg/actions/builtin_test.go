package actions

import (
	"testing"
	"time"

	"github.com/lucid-vigil/honeyshift/pkg/config"
	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adaptationConfig() *config.Config {
	return &config.Config{
		Paths: config.PathsConfig{HoneypotConfig: "etc/cowrie.cfg", HoneypotDir: "."},
		Adaptation: config.AdaptationConfig{
			Enabled:        true,
			Key:            "listen_port",
			Value:          "2022",
			ControlCommand: "bin/cowrie",
			StopArgs:       []string{"stop"},
			StartArgs:      []string{"start"},
			VerifyTimeout:  time.Second,
		},
		Monitors: []config.MonitorConfig{{Name: config.DefaultMonitorName, Enabled: true}},
	}
}

func TestNewAdaptationDispatcher(t *testing.T) {
	cfg := adaptationConfig()
	ad, err := NewAdaptationDispatcher(cfg, nil)
	require.NoError(t, err)
	assert.True(t, ad.IsEnabled())
	assert.Equal(t, []string{"restart_honeypot", "rewrite_listen_port"}, ad.Names())

	cfg.Adaptation.VerifyListen = true
	cfg.Adaptation.Enabled = false
	ad, err = NewAdaptationDispatcher(cfg, nil)
	require.NoError(t, err)
	assert.False(t, ad.IsEnabled())
	assert.True(t, ad.Has("verify_listen"))

	cfg.Adaptation.Value = "not-a-port"
	_, err = NewAdaptationDispatcher(cfg, nil)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestAdaptationChain(t *testing.T) {
	cfg := adaptationConfig()
	assert.Equal(t, []string{"rewrite_listen_port", "restart_honeypot"}, AdaptationChain(cfg, config.DefaultMonitorName))

	cfg.Monitors[0].Actions = []string{"rewrite_listen_port"}
	assert.Equal(t, []string{"rewrite_listen_port"}, AdaptationChain(cfg, config.DefaultMonitorName))

	cfg.Adaptation.VerifyListen = true
	assert.Equal(t, []string{"rewrite_listen_port", "verify_listen"}, AdaptationChain(cfg, config.DefaultMonitorName))

	cfg.Monitors[0].Actions = []string{"verify_listen"}
	assert.Equal(t, []string{"verify_listen"}, AdaptationChain(cfg, config.DefaultMonitorName))
}
