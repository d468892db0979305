//go:build unix

package engine

import (
	"os/exec"
	"syscall"
)

// isolate puts the engine in its own process group so that a timeout kills
// anything it spawned, not just the interpreter.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
