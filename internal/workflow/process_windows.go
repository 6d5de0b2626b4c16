//go:build windows

package workflow

import "os/exec"

// Windows has no process groups in the POSIX sense; kill the process
// directly and skip the graceful phase.
func configureProcAttr(cmd *exec.Cmd) {}

func terminateProcessGroup(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}

func forceKillProcessGroup(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}
