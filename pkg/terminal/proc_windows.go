//go:build windows

package terminal

import (
	"errors"
	"os"
	"os/exec"
)

func setSysProcAttr(cmd *exec.Cmd) {}

// interruptGroup has no Windows equivalent for an already running child
// without a console attach dance; callers fall back to killing.
func interruptGroup(pid int) error {
	return errors.New("interrupt not supported on windows")
}

func terminateGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
