//go:build unix

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the process in its own group and kills the
// whole group on cancellation, so worker processes spawned by the engine do
// not outlive it.
func configureProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
