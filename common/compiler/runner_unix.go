//go:build unix

package compiler

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the toolchain in its own process group and kills
// the whole group on cancel, so helpers it forked die with it
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
