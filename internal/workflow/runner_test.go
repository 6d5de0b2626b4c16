package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Mowd/claude-dashboard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent writes a shell script that stands in for the agent CLI.
func fakeAgent(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestRunnerSuccessWithResult(t *testing.T) {
	cmd := fakeAgent(t, `
echo '{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"working"}}}'
echo '{"type":"result","subtype":"success","result":"done","usage":{"input_tokens":5,"output_tokens":7}}'
`)

	var mu sync.Mutex
	var streamed []string
	r := NewRunner(RunnerConfig{Command: cmd, Role: core.RolePM, InactivityTimeout: 5 * time.Second})
	res, err := r.Run(context.Background(), Invocation{
		Prompt:      "task",
		ProjectPath: t.TempDir(),
		OnStream: func(c string) {
			mu.Lock()
			streamed = append(streamed, c)
			mu.Unlock()
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "working", res.Output)
	require.NotNil(t, res.TokensIn)
	assert.Equal(t, 5, *res.TokensIn)
	require.NotNil(t, res.TokensOut)
	assert.Equal(t, 7, *res.TokensOut)
	assert.Greater(t, res.Duration, time.Duration(0))
	assert.Equal(t, []string{"working"}, streamed)
}

func TestRunnerCleanExitWithoutResult(t *testing.T) {
	cmd := fakeAgent(t, `
echo '{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"only streamed text"}}}'
`)

	r := NewRunner(RunnerConfig{Command: cmd, Role: core.RolePM, InactivityTimeout: 5 * time.Second})
	res, err := r.Run(context.Background(), Invocation{Prompt: "task", ProjectPath: t.TempDir()})

	require.NoError(t, err)
	assert.Equal(t, "only streamed text", res.Output)
	assert.Nil(t, res.TokensIn)
}

func TestRunnerMalformedLinesAreRawStream(t *testing.T) {
	cmd := fakeAgent(t, `
echo 'warning: something odd'
echo '{"type":"result","result":""}'
`)

	r := NewRunner(RunnerConfig{Command: cmd, Role: core.RolePM, InactivityTimeout: 5 * time.Second})
	res, err := r.Run(context.Background(), Invocation{Prompt: "task", ProjectPath: t.TempDir()})

	require.NoError(t, err)
	assert.Equal(t, "warning: something odd\n", res.Output)
}

func TestRunnerNonZeroExit(t *testing.T) {
	cmd := fakeAgent(t, `exit 3`)

	r := NewRunner(RunnerConfig{Command: cmd, Role: core.RoleRD, InactivityTimeout: 5 * time.Second})
	_, err := r.Run(context.Background(), Invocation{Prompt: "task", ProjectPath: t.TempDir()})

	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatExecution))
	assert.True(t, core.IsRetryable(err))
}

func TestRunnerInactivityTimeout(t *testing.T) {
	cmd := fakeAgent(t, `sleep 5`)

	r := NewRunner(RunnerConfig{Command: cmd, Role: core.RolePM, InactivityTimeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{Prompt: "task", ProjectPath: t.TempDir()})

	require.Error(t, err)
	// Timeout wins over the exit error caused by the kill.
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunnerStreamingResetsInactivityTimer(t *testing.T) {
	// Emits a line every 100ms for 600ms; inactivity timeout is 400ms.
	// Steady output must keep the agent alive past a single timeout
	// window.
	cmd := fakeAgent(t, `
i=0
while [ $i -lt 6 ]; do
  echo '{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"tick"}}}'
  sleep 0.1
  i=$((i+1))
done
echo '{"type":"result","result":"survived"}'
`)

	r := NewRunner(RunnerConfig{Command: cmd, Role: core.RolePM, InactivityTimeout: 400 * time.Millisecond})
	res, err := r.Run(context.Background(), Invocation{Prompt: "task", ProjectPath: t.TempDir()})

	require.NoError(t, err)
	assert.Contains(t, res.Output, "tick")
}

func TestRunnerHardTimeoutCapsSteadyStreaming(t *testing.T) {
	// Streams forever; the inactivity timer keeps resetting but the
	// hard ceiling (2x) must still fire.
	cmd := fakeAgent(t, `
while true; do
  echo '{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"tick"}}}'
  sleep 0.05
done
`)

	r := NewRunner(RunnerConfig{Command: cmd, Role: core.RolePM, InactivityTimeout: 200 * time.Millisecond})
	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{Prompt: "task", ProjectPath: t.TempDir()})

	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunnerContextCancellation(t *testing.T) {
	cmd := fakeAgent(t, `sleep 10`)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(RunnerConfig{Command: cmd, Role: core.RolePM, InactivityTimeout: 30 * time.Second})

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Run(ctx, Invocation{Prompt: "task", ProjectPath: t.TempDir()})

	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatState), "got %v", err)
	assert.False(t, core.IsRetryable(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunnerKillBeforeRunNeverSpawns(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	cmd := fakeAgent(t, fmt.Sprintf("sleep 2\ntouch %s", marker))

	r := NewRunner(RunnerConfig{Command: cmd, Role: core.RolePM, InactivityTimeout: 30 * time.Second})
	r.Kill()

	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{Prompt: "task", ProjectPath: t.TempDir()})

	// The killed runner must refuse to start the agent, not run it to
	// completion with every kill path disarmed.
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatState), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoFileExists(t, marker)
}

func TestRunnerSpawnFailure(t *testing.T) {
	r := NewRunner(RunnerConfig{Command: "/nonexistent/agent-cli", Role: core.RolePM, InactivityTimeout: time.Second})
	_, err := r.Run(context.Background(), Invocation{Prompt: "task", ProjectPath: t.TempDir()})

	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatExecution))
}

func TestRunnerBuildArgs(t *testing.T) {
	r := NewRunner(RunnerConfig{Role: core.RoleSec})
	args := r.buildArgs(Invocation{Prompt: "do things", SystemPrompt: "be careful"})

	assert.Equal(t, []string{
		"-p", "do things",
		"--verbose",
		"--output-format", "stream-json",
		"--max-turns", "50",
		"--dangerously-skip-permissions",
		"--include-partial-messages",
		"--system-prompt", "be careful",
		"--allowedTools", "Read,Bash",
	}, args)

	// Without a system prompt the flag is omitted.
	args = r.buildArgs(Invocation{Prompt: "do things"})
	assert.NotContains(t, args, "--system-prompt")
}
