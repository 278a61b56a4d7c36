//go:build !windows

package terminal

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the child in its own session so signals can target
// the whole process group.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func interruptGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGINT)
}

func terminateGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
