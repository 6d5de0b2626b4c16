//go:build !windows

package workflow

import (
	"os/exec"
	"syscall"
)

// configureProcAttr sets up process group isolation so the agent and
// everything it spawns can be signaled as a group.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup sends SIGTERM to the whole process group.
func terminateProcessGroup(cmd *exec.Cmd) {
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
		return
	}
	// Process group already gone; signal the process directly.
	_ = cmd.Process.Signal(syscall.SIGTERM)
}

// forceKillProcessGroup sends SIGKILL to the whole process group.
func forceKillProcessGroup(cmd *exec.Cmd) {
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}
