//go:build windows

package terminal

import (
	"go.uber.org/zap"
)

// PTYBackend is unavailable on Windows; use the PowerShell or platform
// shell backends instead.
type PTYBackend struct {
	lifecycle
}

func NewPTYBackend(workDir string, logger *zap.Logger) *PTYBackend {
	return &PTYBackend{}
}

func (p *PTYBackend) Initialize() error {
	return ErrBackendUnavailable
}

func (p *PTYBackend) SendKeys(text string, pressEnter bool) error { return ErrBackendUnavailable }
func (p *PTYBackend) ReadScreen() (string, error)                 { return "", ErrBackendUnavailable }
func (p *PTYBackend) ClearScreen() error                          { return ErrBackendUnavailable }
func (p *PTYBackend) Interrupt() bool                             { return false }
func (p *PTYBackend) IsRunning() bool                             { return false }
func (p *PTYBackend) IsPlatformShell() bool                       { return false }
func (p *PTYBackend) Close() error                                { return nil }
