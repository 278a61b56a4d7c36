package terminal

import (
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// PowerShellBackend runs PowerShell over pipes with a prompt function that
// emits the same metadata block as the bash backends, so the session
// controller needs no PowerShell-specific handling.
type PowerShellBackend struct {
	pipeShell
}

// NewPowerShellBackend prepares a PowerShell backend rooted at workDir.
// The executable is probed at Initialize time: pwsh first, then the
// Windows-bundled powershell.
func NewPowerShellBackend(workDir string, logger *zap.Logger) *PowerShellBackend {
	b := &PowerShellBackend{}
	b.workDir = workDir
	b.logger = logger
	b.platform = true
	b.buffer = newOutputBuffer(pipeBufferCapacity)
	b.resolve = resolvePowerShell
	return b
}

func resolvePowerShell() ([]string, []string, error) {
	exe, err := findPowerShell()
	if err != nil {
		return nil, nil, err
	}
	argv := []string{exe, "-NoLogo", "-NoProfile", "-NoExit", "-Command", "-"}
	setup := []string{
		"[Console]::OutputEncoding = [System.Text.Encoding]::UTF8",
		"$ProgressPreference = 'SilentlyContinue'",
		BuildPowerShellPrompt(),
	}
	return argv, setup, nil
}

func findPowerShell() (string, error) {
	for _, name := range []string{"pwsh", "powershell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: neither pwsh nor powershell found in PATH", ErrBackendUnavailable)
}
