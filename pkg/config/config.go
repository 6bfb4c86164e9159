package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the application.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Window     time.Duration    `mapstructure:"window"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Adaptation AdaptationConfig `mapstructure:"adaptation"`
	Monitors   []MonitorConfig  `mapstructure:"monitors"`
	API        APIConfig        `mapstructure:"api"`
	Training   TrainingConfig   `mapstructure:"training"`
}

// PathsConfig locates every file the loop touches.
type PathsConfig struct {
	LogFile        string `mapstructure:"log_file"`
	HoneypotConfig string `mapstructure:"honeypot_config"`
	HoneypotDir    string `mapstructure:"honeypot_dir"`
	Model          string `mapstructure:"model"`
	Scaler         string `mapstructure:"scaler"`
	ExportCSV      string `mapstructure:"export_csv"`
}

// AdaptationConfig describes how the honeypot is reconfigured on detection.
type AdaptationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Key            string        `mapstructure:"key"`
	Value          string        `mapstructure:"value"`
	ControlCommand string        `mapstructure:"control_command"`
	StopArgs       []string      `mapstructure:"stop_args"`
	StartArgs      []string      `mapstructure:"start_args"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	VerifyListen   bool          `mapstructure:"verify_listen"`
	VerifyTimeout  time.Duration `mapstructure:"verify_timeout"`
}

// MonitorConfig defines the configuration for a single monitor.
// It includes the monitor's name, whether it's enabled, its run interval,
// and any actions it should trigger.
type MonitorConfig struct {
	Name     string   `mapstructure:"name"`
	Enabled  bool     `mapstructure:"enabled"`
	Interval string   `mapstructure:"interval"`
	Watch    bool     `mapstructure:"watch"`   // Also run when the log file is written
	Actions  []string `mapstructure:"actions"` // Actions to trigger for this monitor
}

// APIConfig controls the HTTP API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

// TrainingConfig holds the offline training parameters.
type TrainingConfig struct {
	LabelThreshold int     `mapstructure:"label_threshold"`
	TestSize       float64 `mapstructure:"test_size"`
	Seed           int64   `mapstructure:"seed"`
	NEstimators    int     `mapstructure:"n_estimators"`
	MaxDepth       int     `mapstructure:"max_depth"`
}

// DefaultMonitorName is the name the adaptive loop registers under.
const DefaultMonitorName = "adaptive_response"

// LoadConfig reads the configuration from a YAML file and environment variables.
// When path is empty, honeyshift.yaml is searched for in the current directory
// and /etc/honeyshift/. flags may be nil; when given, --log-level overrides the file.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("honeyshift") // honeyshift.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/honeyshift/")
	}

	setDefaults(v)

	v.SetEnvPrefix("HONEYSHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("log_level", f); err != nil {
				return nil, fmt.Errorf("failed to bind log-level flag: %w", err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("window", time.Hour)

	v.SetDefault("paths.log_file", "var/log/cowrie/cowrie.json")
	v.SetDefault("paths.honeypot_config", "etc/cowrie.cfg")
	v.SetDefault("paths.honeypot_dir", ".")
	v.SetDefault("paths.model", "models/rf_model.json")
	v.SetDefault("paths.scaler", "models/scaler.json")
	v.SetDefault("paths.export_csv", "attack_logs.csv")

	v.SetDefault("adaptation.enabled", true)
	v.SetDefault("adaptation.key", "listen_port")
	v.SetDefault("adaptation.value", "2022")
	v.SetDefault("adaptation.control_command", "bin/cowrie")
	v.SetDefault("adaptation.stop_args", []string{"stop"})
	v.SetDefault("adaptation.start_args", []string{"start"})
	v.SetDefault("adaptation.cooldown", time.Duration(0))
	v.SetDefault("adaptation.verify_listen", false)
	v.SetDefault("adaptation.verify_timeout", 30*time.Second)

	v.SetDefault("monitors", []map[string]interface{}{
		{
			"name":     DefaultMonitorName,
			"enabled":  true,
			"interval": "5m",
			"watch":    false,
			"actions":  []string{"rewrite_listen_port", "restart_honeypot"},
		},
	})

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", "5000")

	v.SetDefault("training.label_threshold", 20)
	v.SetDefault("training.test_size", 0.2)
	v.SetDefault("training.seed", 42)
	v.SetDefault("training.n_estimators", 100)
	v.SetDefault("training.max_depth", 10)
}

// Validate rejects settings the loop cannot run with.
func (c *Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.Adaptation.Key == "" {
		return fmt.Errorf("adaptation.key must not be empty")
	}
	if c.Adaptation.Cooldown < 0 {
		return fmt.Errorf("adaptation.cooldown must not be negative")
	}
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return fmt.Errorf("training.test_size must be in (0, 1), got %v", c.Training.TestSize)
	}
	return nil
}

// GetMonitorConfig returns the configuration for the named monitor, or nil.
func (c *Config) GetMonitorConfig(name string) *MonitorConfig {
	for i := range c.Monitors {
		if c.Monitors[i].Name == name {
			return &c.Monitors[i]
		}
	}
	return nil
}
