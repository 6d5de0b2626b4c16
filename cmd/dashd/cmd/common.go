package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/Mowd/claude-dashboard/internal/adapters/state"
	"github.com/Mowd/claude-dashboard/internal/config"
	"github.com/Mowd/claude-dashboard/internal/core"
	"github.com/Mowd/claude-dashboard/internal/events"
	"github.com/Mowd/claude-dashboard/internal/logging"
	"github.com/Mowd/claude-dashboard/internal/prompts"
	"github.com/Mowd/claude-dashboard/internal/workflow"
)

// app bundles the wired daemon components so serve and run share one
// assembly path.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *state.Store
	bus     *events.Bus
	library *prompts.Library
	engine  *workflow.Engine
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp assembles the store, event bus, prompt library, and engine
// from configuration.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	store, err := state.New(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	bus := events.New(cfg.Workflow.EventBuffer)
	library := prompts.NewLibrary(cfg.Prompts.Dir, logger)
	if cfg.Prompts.Watch {
		if err := library.Watch(); err != nil {
			logger.Warn("prompt watching disabled", "error", err)
		}
	}

	timeouts := make(map[core.Role]time.Duration, len(core.AllRoles))
	for _, role := range core.AllRoles {
		timeouts[role] = core.RoleConfigs[role].InactivityTimeout
		if d, ok := cfg.Agent.Timeouts[string(role)]; ok && d > 0 {
			timeouts[role] = d
		}
	}

	engine := workflow.NewEngine(store, bus, logger, workflow.EngineConfig{
		Retry: workflow.RetryPolicy{
			MaxRetries: cfg.Workflow.MaxRetries,
			BaseDelay:  cfg.Workflow.RetryBase,
		},
		PausePoll:          cfg.Workflow.PausePoll,
		FlushInterval:      cfg.Workflow.FlushInterval,
		DefaultProjectPath: cfg.Workflow.ProjectPath,
		Agent: workflow.AgentDefaults{
			Command:  cfg.Agent.Path,
			MaxTurns: cfg.Agent.MaxTurns,
			Timeouts: timeouts,
		},
	}, workflow.WithSystemPrompts(library.SystemPrompt))

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		bus:     bus,
		library: library,
		engine:  engine,
	}, nil
}

// close tears the app down in reverse dependency order.
func (a *app) close() {
	a.engine.Close()
	a.bus.Close()
	if err := a.library.Close(); err != nil {
		a.logger.Warn("closing prompt library", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing state store", "error", err)
	}
}
