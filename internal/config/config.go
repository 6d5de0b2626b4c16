package config

import (
	"fmt"
	"time"

	"github.com/Mowd/claude-dashboard/internal/core"
)

// Config is the root configuration for the dashboard daemon.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	State    StateConfig    `mapstructure:"state"`
	Prompts  PromptsConfig  `mapstructure:"prompts"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // auto, text, json
}

// AgentConfig configures the agent CLI subprocess.
type AgentConfig struct {
	Path     string `mapstructure:"path"`
	MaxTurns int    `mapstructure:"max_turns"`

	// Per-role inactivity timeouts; the hard ceiling is always 2x.
	Timeouts map[string]time.Duration `mapstructure:"timeouts"`
}

// WorkflowConfig configures engine behavior.
type WorkflowConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBase     time.Duration `mapstructure:"retry_base"`
	PausePoll     time.Duration `mapstructure:"pause_poll"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	ProjectPath   string        `mapstructure:"project_path"`
	Retention     time.Duration `mapstructure:"retention"`
	EventBuffer   int           `mapstructure:"event_buffer"`
}

// StateConfig configures persistence.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// PromptsConfig configures system prompt overrides.
type PromptsConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Workflow.MaxRetries < 0 {
		return core.ErrValidation(core.CodeInvalidConfig, "workflow.max_retries must be >= 0")
	}
	if c.Workflow.FlushInterval <= 0 {
		return core.ErrValidation(core.CodeInvalidConfig, "workflow.flush_interval must be > 0")
	}
	if c.Agent.Path == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "agent.path must not be empty")
	}
	return nil
}
