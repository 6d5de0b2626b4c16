package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "DASHD",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "DASHD",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (DASHD_*)
// 3. Project config (.dashd.yaml in current directory)
// 4. User config (~/.config/dashd/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".dashd")
		l.v.SetConfigType("yaml")

		// Project config takes precedence over user config
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "dashd"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Server defaults
	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8734)
	l.v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	l.v.SetDefault("server.request_timeout", "60s")

	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Agent defaults
	l.v.SetDefault("agent.path", "claude")
	l.v.SetDefault("agent.max_turns", 50)
	l.v.SetDefault("agent.timeouts.pm", "180s")
	l.v.SetDefault("agent.timeouts.rd", "600s")
	l.v.SetDefault("agent.timeouts.ui", "600s")
	l.v.SetDefault("agent.timeouts.test", "600s")
	l.v.SetDefault("agent.timeouts.sec", "300s")

	// Workflow defaults
	l.v.SetDefault("workflow.max_retries", 2)
	l.v.SetDefault("workflow.retry_base", "2s")
	l.v.SetDefault("workflow.pause_poll", "500ms")
	l.v.SetDefault("workflow.flush_interval", "50ms")
	l.v.SetDefault("workflow.project_path", ".")
	l.v.SetDefault("workflow.retention", "720h")
	l.v.SetDefault("workflow.event_buffer", 256)

	// State defaults
	l.v.SetDefault("state.path", ".dashd/state.db")

	// Prompts defaults
	l.v.SetDefault("prompts.dir", "prompts")
	l.v.SetDefault("prompts.watch", false)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
