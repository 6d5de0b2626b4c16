package workflow

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Mowd/claude-dashboard/internal/core"
	"github.com/Mowd/claude-dashboard/internal/logging"
)

const (
	// killGracePeriod is how long a SIGTERM'd agent gets before SIGKILL.
	killGracePeriod = 5 * time.Second

	defaultMaxTurns = 50
)

// Invocation is one agent execution request.
type Invocation struct {
	Prompt       string
	SystemPrompt string
	ProjectPath  string

	// OnStream receives visible output fragments as they arrive.
	OnStream func(chunk string)
	// OnActivity receives live status signals.
	OnActivity func(activity core.Activity)
}

// Result is the settled outcome of a successful invocation.
type Result struct {
	Output    string
	TokensIn  *int
	TokensOut *int
	Duration  time.Duration
}

// StepRunner abstracts a single agent subprocess execution so the
// engine can be tested with fakes.
type StepRunner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
	Kill()
}

// RunnerConfig configures one Runner.
type RunnerConfig struct {
	Command           string // agent CLI binary, default "claude"
	Role              core.Role
	MaxTurns          int
	InactivityTimeout time.Duration // hard ceiling is always 2x
	Logger            *logging.Logger
}

// Runner executes one agent CLI subprocess and parses its stream-json
// output. A Runner is single-use; Run may be called once.
type Runner struct {
	cfg RunnerConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	killed  bool
	settled bool
	failure error
	timer   *time.Timer // inactivity, resettable
	hard    *time.Timer // absolute ceiling, never reset
	done    chan struct{}
}

// NewRunner creates a runner for one step attempt.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = core.RoleConfigs[cfg.Role].InactivityTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Runner{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

func (r *Runner) buildArgs(inv Invocation) []string {
	args := []string{
		"-p", inv.Prompt,
		"--verbose",
		"--output-format", "stream-json",
		"--max-turns", fmt.Sprintf("%d", r.cfg.MaxTurns),
		"--dangerously-skip-permissions",
		"--include-partial-messages",
	}
	if inv.SystemPrompt != "" {
		args = append(args, "--system-prompt", inv.SystemPrompt)
	}
	if tools := core.RoleConfigs[r.cfg.Role].Tools; len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	return args
}

// Run spawns the agent and blocks until it settles. Exactly one of
// the result and the error is non-nil. A timeout recorded before the
// process exits wins over the exit-code error the kill provokes.
func (r *Runner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	label := core.RoleConfigs[r.cfg.Role].Label
	logger := r.cfg.Logger.WithRole(string(r.cfg.Role))

	r.mu.Lock()
	if r.killed {
		r.mu.Unlock()
		return nil, core.ErrState(core.CodeCancelled,
			fmt.Sprintf("agent %s killed before start", label))
	}
	r.mu.Unlock()

	cmd := exec.Command(r.cfg.Command, r.buildArgs(inv)...)
	cmd.Dir = inv.ProjectPath
	configureProcAttr(cmd)
	// No stdin: claude -p needs EOF to start processing.

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.ErrExecution(core.CodeSpawnFailed, "creating stdout pipe").WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, core.ErrExecution(core.CodeSpawnFailed, "creating stderr pipe").WithCause(err)
	}

	parser := newStreamParser(inv.OnStream, inv.OnActivity)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, core.ErrExecution(core.CodeSpawnFailed,
			fmt.Sprintf("spawning %s for agent %s", r.cfg.Command, label)).WithCause(err)
	}

	r.mu.Lock()
	r.cmd = cmd
	if r.killed {
		// Kill raced the spawn: it ran before r.cmd was set and found
		// no process to signal, so signal the fresh one here.
		r.mu.Unlock()
		terminateProcessGroup(cmd)
		go func() {
			select {
			case <-r.done:
			case <-time.After(killGracePeriod):
				forceKillProcessGroup(cmd)
			}
		}()
	} else {
		timeout := r.cfg.InactivityTimeout
		r.timer = time.AfterFunc(timeout, func() {
			r.fail(core.ErrTimeout(fmt.Sprintf(
				"agent %s timed out after %.0fs of inactivity", label, timeout.Seconds())))
			r.Kill()
		})
		r.hard = time.AfterFunc(2*timeout, func() {
			r.fail(core.ErrTimeout(fmt.Sprintf(
				"agent %s hard timeout after %.0fs", label, (2 * timeout).Seconds())))
			r.Kill()
		})
		r.mu.Unlock()
	}

	// Cancellation kills the process; the settle path below reports it.
	go func() {
		select {
		case <-ctx.Done():
			r.Kill()
		case <-r.done:
		}
	}()

	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				logger.Debug("agent stderr", "line", line)
			}
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Any line means the agent is alive.
		r.resetInactivity()
		parser.HandleLine(line)
	}
	scanErr := scanner.Err()

	stderrWG.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	r.mu.Lock()
	r.settled = true
	r.stopTimersLocked()
	failure := r.failure
	killed := r.killed
	r.mu.Unlock()
	close(r.done)

	switch {
	case failure != nil:
		return nil, failure
	case killed:
		if ctx.Err() != nil {
			return nil, core.ErrState(core.CodeCancelled,
				fmt.Sprintf("agent %s cancelled", label)).WithCause(ctx.Err())
		}
		return nil, core.ErrState(core.CodeCancelled, fmt.Sprintf("agent %s was killed", label))
	case waitErr != nil:
		return nil, core.ErrExecution(core.CodeAgentExit,
			fmt.Sprintf("agent %s exited abnormally", label)).WithCause(waitErr)
	case scanErr != nil:
		return nil, core.ErrExecution(core.CodeStreamBroken,
			fmt.Sprintf("agent %s output stream broke", label)).WithCause(scanErr)
	}

	// A clean exit without a result record still counts: the streamed
	// text is the output.
	tokensIn, tokensOut := parser.Tokens()
	return &Result{
		Output:    parser.Output(),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Duration:  duration,
	}, nil
}

// fail records the first terminal failure. Later failures for the
// same run are ignored.
func (r *Runner) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled || r.failure != nil {
		return
	}
	r.failure = err
}

func (r *Runner) resetInactivity() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled || r.killed || r.timer == nil {
		return
	}
	r.timer.Stop()
	r.timer.Reset(r.cfg.InactivityTimeout)
}

func (r *Runner) stopTimersLocked() {
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.hard != nil {
		r.hard.Stop()
	}
}

// Kill terminates the subprocess group: SIGTERM first, SIGKILL after
// the grace period if it hasn't exited. Idempotent.
func (r *Runner) Kill() {
	r.mu.Lock()
	if r.killed {
		r.mu.Unlock()
		return
	}
	r.killed = true
	r.stopTimersLocked()
	cmd := r.cmd
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	terminateProcessGroup(cmd)
	go func() {
		select {
		case <-r.done:
		case <-time.After(killGracePeriod):
			forceKillProcessGroup(cmd)
		}
	}()
}
