package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Mowd/claude-dashboard/internal/core"
	"github.com/Mowd/claude-dashboard/internal/events"
	"github.com/Mowd/claude-dashboard/internal/logging"
)

// RunnerFactory builds the runner for one step attempt.
type RunnerFactory func(role core.Role) StepRunner

// SystemPromptFunc resolves the system prompt for a role.
type SystemPromptFunc func(role core.Role, projectPath string) string

// AgentDefaults configures the real agent CLI runners.
type AgentDefaults struct {
	Command  string
	MaxTurns int
	Timeouts map[core.Role]time.Duration
}

// EngineConfig tunes engine behavior. Zero values fall back to the
// pipeline defaults.
type EngineConfig struct {
	Retry              RetryPolicy
	PausePoll          time.Duration
	FlushInterval      time.Duration
	StartDelay         time.Duration
	DefaultProjectPath string
	Agent              AgentDefaults
}

// StartRequest is the engine's start operation input.
type StartRequest struct {
	Task        string
	ProjectPath string
	Plan        []string
}

// Engine drives workflows through the staged agent pipeline. All
// durable state goes through the store before the matching event is
// published.
type Engine struct {
	store  core.Store
	bus    *events.Bus
	logger *logging.Logger
	cfg    EngineConfig

	newRunner    RunnerFactory
	systemPrompt SystemPromptFunc

	mu   sync.Mutex
	runs map[string]*run
}

// run is the volatile state of one in-flight workflow.
type run struct {
	mu          sync.Mutex
	pipeline    *core.Pipeline
	task        string
	projectPath string
	stepIDs     map[core.Role]string
	outputs     map[core.Role]string
	runners     map[core.Role]StepRunner
	batchers    map[core.Role]*Batcher
	cancel      context.CancelFunc
	cancelled   bool
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithRunnerFactory injects runner construction, used by tests to
// substitute fakes for the agent CLI.
func WithRunnerFactory(f RunnerFactory) EngineOption {
	return func(e *Engine) { e.newRunner = f }
}

// WithSystemPrompts injects system prompt resolution.
func WithSystemPrompts(f SystemPromptFunc) EngineOption {
	return func(e *Engine) { e.systemPrompt = f }
}

// NewEngine creates an engine.
func NewEngine(store core.Store, bus *events.Bus, logger *logging.Logger, cfg EngineConfig, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.PausePoll <= 0 {
		cfg.PausePoll = 500 * time.Millisecond
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 50 * time.Millisecond
	}
	if cfg.StartDelay <= 0 {
		// One scheduling tick so a subscriber attaching right after
		// StartWorkflow returns never misses the first step:started.
		cfg.StartDelay = 10 * time.Millisecond
	}
	if cfg.DefaultProjectPath == "" {
		cfg.DefaultProjectPath = "."
	}

	e := &Engine{
		store:  store,
		bus:    bus,
		logger: logger,
		cfg:    cfg,
		runs:   make(map[string]*run),
	}
	e.newRunner = func(role core.Role) StepRunner {
		return NewRunner(RunnerConfig{
			Command:           cfg.Agent.Command,
			Role:              role,
			MaxTurns:          cfg.Agent.MaxTurns,
			InactivityTimeout: cfg.Agent.Timeouts[role],
			Logger:            logger,
		})
	}
	e.systemPrompt = func(core.Role, string) string { return "" }
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartWorkflow validates and persists a new workflow, then launches
// its pipeline on a scheduling tick so callers can subscribe before
// the first step:started is published.
func (e *Engine) StartWorkflow(ctx context.Context, req StartRequest) (string, error) {
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return "", core.ErrValidation(core.CodeEmptyPrompt, "task must not be empty")
	}
	if len(task) > core.MaxPromptLength {
		return "", core.ErrValidation(core.CodePromptTooLong,
			fmt.Sprintf("task exceeds %d characters", core.MaxPromptLength))
	}
	projectPath := req.ProjectPath
	if projectPath == "" {
		projectPath = e.cfg.DefaultProjectPath
	}

	plan := core.NormalizePlan(req.Plan)
	id := uuid.NewString()
	wf := core.NewWorkflow(id, task, projectPath)

	if err := e.store.CreateWorkflow(ctx, wf, plan); err != nil {
		return "", fmt.Errorf("persisting workflow: %w", err)
	}

	steps, err := e.store.StepsForWorkflow(ctx, id)
	if err != nil {
		return "", fmt.Errorf("loading steps: %w", err)
	}
	stepIDs := make(map[core.Role]string, len(steps))
	for _, s := range steps {
		stepIDs[s.Role] = s.ID
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rn := &run{
		pipeline:    core.NewPipeline(id, plan),
		task:        task,
		projectPath: projectPath,
		stepIDs:     stepIDs,
		outputs:     make(map[core.Role]string),
		runners:     make(map[core.Role]StepRunner),
		batchers:    make(map[core.Role]*Batcher),
		cancel:      cancel,
	}

	e.mu.Lock()
	e.runs[id] = rn
	e.mu.Unlock()

	e.bus.Publish(events.NewWorkflowCreatedEvent(id, wf.Title))
	e.logger.WithWorkflow(id).Info("workflow created", "title", wf.Title, "plan", plan)

	go e.launch(runCtx, rn, id)
	return id, nil
}

// launch defers pipeline execution by one scheduling tick.
func (e *Engine) launch(ctx context.Context, rn *run, id string) {
	if e.cfg.StartDelay > 0 {
		timer := time.NewTimer(e.cfg.StartDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			e.cleanup(id)
			return
		case <-timer.C:
		}
	}
	e.executePipeline(ctx, rn, id)
}

func (e *Engine) executePipeline(ctx context.Context, rn *run, id string) {
	logger := e.logger.WithWorkflow(id)

	rn.mu.Lock()
	rn.pipeline.Status = core.WorkflowRunning
	rn.mu.Unlock()
	if err := e.store.UpdateWorkflowStatus(ctx, id, core.WorkflowRunning, nil); err != nil {
		logger.Error("persisting running status", "error", err)
	}

	for _, stage := range core.PipelineStages {
		if rn.isCancelled() {
			e.cleanup(id)
			return
		}
		if !e.waitWhilePaused(ctx, rn) {
			e.cleanup(id)
			return
		}

		rn.mu.Lock()
		rn.pipeline.CurrentStage = stage.Index
		roles := rn.pipeline.PlannedRoles(stage)
		rn.mu.Unlock()
		if len(roles) == 0 {
			continue
		}

		stageIdx := stage.Index
		if err := e.store.UpdateWorkflowStatus(ctx, id, core.WorkflowRunning, &stageIdx); err != nil {
			logger.Error("persisting stage transition", "error", err, "stage", stageIdx)
		}
		logger.Info("stage started", "stage", stageIdx, "roles", roles)

		var g errgroup.Group
		var failMu sync.Mutex
		var failedRoles []string
		for _, role := range roles {
			role := role
			g.Go(func() error {
				if !e.executeStep(ctx, rn, id, role) && !rn.isCancelled() {
					failMu.Lock()
					failedRoles = append(failedRoles, core.RoleConfigs[role].Label)
					failMu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		if rn.isCancelled() {
			e.cleanup(id)
			return
		}
		if len(failedRoles) > 0 {
			err := core.ErrExecution(core.CodeAgentFailed,
				fmt.Sprintf("agent(s) %s failed", strings.Join(failedRoles, ", ")))
			e.failWorkflow(ctx, rn, id, err)
			return
		}
	}

	rn.mu.Lock()
	rn.pipeline.Status = core.WorkflowCompleted
	rn.mu.Unlock()
	if err := e.store.UpdateWorkflowStatus(ctx, id, core.WorkflowCompleted, nil); err != nil {
		logger.Error("persisting completed status", "error", err)
	}
	e.bus.PublishPriority(events.NewWorkflowCompletedEvent(id))
	logger.Info("workflow completed")
	e.cleanup(id)
}

// waitWhilePaused blocks while the workflow is paused. Returns false
// when the wait ended because of cancellation.
func (e *Engine) waitWhilePaused(ctx context.Context, rn *run) bool {
	if !rn.isPaused() {
		return true
	}
	ticker := time.NewTicker(e.cfg.PausePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if rn.isCancelled() {
				return false
			}
			if !rn.isPaused() {
				return true
			}
		}
	}
}

// executeStep runs one role with retries. Returns true on success,
// false on failure or cancellation.
func (e *Engine) executeStep(ctx context.Context, rn *run, id string, role core.Role) bool {
	stepID := rn.stepIDs[role]
	logger := e.logger.WithWorkflow(id).WithRole(string(role)).WithStep(stepID)

	rn.mu.Lock()
	outputs := make(map[core.Role]string, len(rn.outputs))
	for k, v := range rn.outputs {
		outputs[k] = v
	}
	rn.mu.Unlock()

	prompt := BuildPrompt(role, rn.task, PriorOutputs(role, outputs), rn.projectPath)
	sysPrompt := e.systemPrompt(role, rn.projectPath)
	maxRetries := e.cfg.Retry.MaxRetries

	for attempt := 0; ; attempt++ {
		if rn.isCancelled() {
			return false
		}

		now := time.Now().UTC()
		running := core.StepRunning
		if err := e.store.UpdateStep(ctx, stepID, core.StepUpdate{
			Status:     &running,
			Prompt:     &prompt,
			RetryCount: &attempt,
			StartedAt:  &now,
		}); err != nil {
			logger.Error("persisting step start", "error", err)
		}
		rn.setStepState(role, core.StepRunning, attempt)
		e.bus.Publish(events.NewStepStartedEvent(id, stepID, role))

		batcher := NewBatcher(e.cfg.FlushInterval, func(chunks []string) {
			e.bus.Publish(events.NewStepStreamEvent(id, stepID, role, strings.Join(chunks, "")))
		})
		runner := e.newRunner(role)
		rn.track(role, runner, batcher)

		res, err := runner.Run(ctx, Invocation{
			Prompt:       prompt,
			SystemPrompt: sysPrompt,
			ProjectPath:  rn.projectPath,
			OnStream:     batcher.Push,
			OnActivity: func(a core.Activity) {
				e.bus.Publish(events.NewStepActivityEvent(id, stepID, role, a))
			},
		})

		batcher.Flush()
		batcher.Destroy()
		rn.untrack(role)

		if err == nil {
			durMS := res.Duration.Milliseconds()
			done := time.Now().UTC()
			completed := core.StepCompleted
			rn.setOutput(role, res.Output)
			if perr := e.store.UpdateStep(ctx, stepID, core.StepUpdate{
				Status:      &completed,
				Output:      &res.Output,
				DurationMS:  &durMS,
				TokensIn:    res.TokensIn,
				TokensOut:   res.TokensOut,
				CompletedAt: &done,
			}); perr != nil {
				logger.Error("persisting step completion", "error", perr)
			}
			rn.setStepState(role, core.StepCompleted, attempt)
			e.bus.Publish(events.NewStepCompletedEvent(id, stepID, role, res.Output, durMS, res.TokensIn, res.TokensOut))
			logger.Info("step completed", "duration_ms", durMS, "attempt", attempt)
			return true
		}

		if rn.isCancelled() {
			return false
		}

		if attempt >= maxRetries || !core.IsRetryable(err) {
			if core.IsRetryable(err) {
				err = core.ErrExecution(core.CodeRetryExhausted, fmt.Sprintf(
					"agent %s failed after %d attempts", core.RoleConfigs[role].Label, attempt+1)).WithCause(err)
			}
			errMsg := err.Error()
			done := time.Now().UTC()
			failed := core.StepFailed
			if perr := e.store.UpdateStep(ctx, stepID, core.StepUpdate{
				Status:      &failed,
				Error:       &errMsg,
				CompletedAt: &done,
			}); perr != nil {
				logger.Error("persisting step failure", "error", perr)
			}
			rn.setStepState(role, core.StepFailed, attempt)
			e.bus.Publish(events.NewStepFailedEvent(id, stepID, role, err))
			logger.Warn("step failed", "error", err, "attempts", attempt+1)
			return false
		}

		next := attempt + 1
		e.bus.Publish(events.NewStepRetryEvent(id, stepID, role, next, maxRetries, err.Error()))
		logger.Warn("step retrying", "error", err, "attempt", next, "max_retries", maxRetries)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(e.cfg.Retry.Delay(next)):
		}
	}
}

func (e *Engine) failWorkflow(ctx context.Context, rn *run, id string, cause error) {
	rn.mu.Lock()
	rn.pipeline.Status = core.WorkflowFailed
	rn.mu.Unlock()
	if err := e.store.UpdateWorkflowStatus(ctx, id, core.WorkflowFailed, nil); err != nil {
		e.logger.WithWorkflow(id).Error("persisting failed status", "error", err)
	}
	e.bus.PublishPriority(events.NewWorkflowFailedEvent(id, cause))
	e.logger.WithWorkflow(id).Warn("workflow failed", "error", cause)
	e.cleanup(id)
}

// Pause requests a pause. The current stage finishes; the barrier
// before the next stage honors the pause. Requests for workflows that
// are not running are ignored.
func (e *Engine) Pause(ctx context.Context, id string) error {
	rn := e.lookup(id)
	if rn == nil {
		return nil
	}
	rn.mu.Lock()
	if rn.pipeline.Status != core.WorkflowRunning {
		rn.mu.Unlock()
		return nil
	}
	rn.pipeline.Status = core.WorkflowPaused
	rn.mu.Unlock()

	if err := e.store.UpdateWorkflowStatus(ctx, id, core.WorkflowPaused, nil); err != nil {
		return fmt.Errorf("persisting paused status: %w", err)
	}
	e.bus.Publish(events.NewWorkflowPausedEvent(id))
	e.logger.WithWorkflow(id).Info("workflow paused")
	return nil
}

// Resume lifts a pause. Requests for workflows that are not paused
// are ignored.
func (e *Engine) Resume(ctx context.Context, id string) error {
	rn := e.lookup(id)
	if rn == nil {
		return nil
	}
	rn.mu.Lock()
	if rn.pipeline.Status != core.WorkflowPaused {
		rn.mu.Unlock()
		return nil
	}
	rn.pipeline.Status = core.WorkflowRunning
	rn.mu.Unlock()

	if err := e.store.UpdateWorkflowStatus(ctx, id, core.WorkflowRunning, nil); err != nil {
		return fmt.Errorf("persisting resumed status: %w", err)
	}
	e.logger.WithWorkflow(id).Info("workflow resumed")
	return nil
}

// Cancel terminates a workflow: persists the terminal state, kills
// running agents and stops the pipeline loop. No completion or
// failure is reported afterwards. Requests for unknown or already
// terminal workflows are ignored.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	rn := e.lookup(id)
	if rn == nil {
		return nil
	}

	rn.mu.Lock()
	if rn.pipeline.Status.IsTerminal() {
		rn.mu.Unlock()
		return nil
	}
	rn.cancelled = true
	rn.pipeline.Status = core.WorkflowCancelled
	runners := make([]StepRunner, 0, len(rn.runners))
	for _, r := range rn.runners {
		runners = append(runners, r)
	}
	batchers := make([]*Batcher, 0, len(rn.batchers))
	for _, b := range rn.batchers {
		batchers = append(batchers, b)
	}
	rn.mu.Unlock()

	if err := e.store.UpdateWorkflowStatus(ctx, id, core.WorkflowCancelled, nil); err != nil {
		return fmt.Errorf("persisting cancelled status: %w", err)
	}
	e.bus.PublishPriority(events.NewWorkflowCancelledEvent(id))
	e.logger.WithWorkflow(id).Info("workflow cancelled")

	for _, b := range batchers {
		b.Destroy()
	}
	for _, r := range runners {
		r.Kill()
	}
	rn.cancel()
	return nil
}

// PipelineState returns a snapshot of a running workflow's volatile
// state, or nil when the workflow is not in flight.
func (e *Engine) PipelineState(id string) *core.Pipeline {
	rn := e.lookup(id)
	if rn == nil {
		return nil
	}
	rn.mu.Lock()
	defer rn.mu.Unlock()
	snapshot := *rn.pipeline
	snapshot.Steps = append([]core.StepState(nil), rn.pipeline.Steps...)
	return &snapshot
}

// Close cancels every in-flight workflow. Used on daemon shutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.Cancel(context.Background(), id)
	}
}

func (e *Engine) lookup(id string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[id]
}

// cleanup removes a finished run. Idempotent.
func (e *Engine) cleanup(id string) {
	e.mu.Lock()
	rn, ok := e.runs[id]
	delete(e.runs, id)
	e.mu.Unlock()
	if !ok {
		return
	}

	rn.mu.Lock()
	for _, b := range rn.batchers {
		b.Destroy()
	}
	rn.batchers = make(map[core.Role]*Batcher)
	rn.runners = make(map[core.Role]StepRunner)
	rn.mu.Unlock()
	rn.cancel()
}

func (rn *run) isCancelled() bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.cancelled
}

func (rn *run) isPaused() bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.pipeline.Status == core.WorkflowPaused
}

func (rn *run) setStepState(role core.Role, status core.StepStatus, retryCount int) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if s := rn.pipeline.Step(role); s != nil {
		s.Status = status
		s.RetryCount = retryCount
	}
}

func (rn *run) setOutput(role core.Role, output string) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.outputs[role] = output
}

func (rn *run) track(role core.Role, r StepRunner, b *Batcher) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.runners[role] = r
	rn.batchers[role] = b
}

func (rn *run) untrack(role core.Role) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	delete(rn.runners, role)
	delete(rn.batchers, role)
}
