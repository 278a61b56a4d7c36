package terminal

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// BackendType names a terminal backend implementation.
type BackendType string

const (
	// BackendAuto probes the host and picks the best available backend.
	BackendAuto BackendType = "auto"
	// BackendTmux hosts bash inside a detached tmux session.
	BackendTmux BackendType = "tmux"
	// BackendSubprocess hosts bash under a pseudo-terminal.
	BackendSubprocess BackendType = "subprocess"
	// BackendShell hosts the platform default shell over pipes.
	BackendShell BackendType = "shell"
	// BackendPowerShell hosts PowerShell over pipes.
	BackendPowerShell BackendType = "powershell"
)

// Options configures a new Session.
type Options struct {
	// WorkDir is the shell's starting directory. Defaults to the process
	// working directory.
	WorkDir string

	// Username tags backend resources (tmux session names). Defaults to
	// the current user.
	Username string

	// Backend selects the implementation. BackendAuto (or empty) probes.
	Backend BackendType

	// NoChangeTimeout is the soft timeout applied to commands executed
	// without an explicit timeout. Defaults to DefaultNoChangeTimeout.
	NoChangeTimeout time.Duration

	// Recorder, if set, receives every completed command.
	Recorder Recorder

	Logger *zap.Logger
}

// NewSession builds a Session for the requested backend. The backend itself
// is not started until Session.Initialize. An unknown backend name is a
// construction error.
func NewSession(opts Options) (*Session, error) {
	if opts.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve work dir: %w", err)
		}
		opts.WorkDir = wd
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NoChangeTimeout <= 0 {
		opts.NoChangeTimeout = DefaultNoChangeTimeout
	}

	backendType := opts.Backend
	if backendType == "" || backendType == BackendAuto {
		backendType = defaultBackend()
		opts.Logger.Info("auto-selected terminal backend", zap.String("backend", string(backendType)))
	}

	newBackend, err := backendConstructor(backendType, opts)
	if err != nil {
		return nil, err
	}

	return &Session{
		workDir:         opts.WorkDir,
		noChangeTimeout: opts.NoChangeTimeout,
		pollInterval:    defaultPollInterval,
		logger:          opts.Logger,
		recorder:        opts.Recorder,
		newBackend:      newBackend,
	}, nil
}

func backendConstructor(t BackendType, opts Options) (func() (Backend, error), error) {
	switch t {
	case BackendTmux:
		return func() (Backend, error) {
			return NewTmuxBackend(opts.WorkDir, opts.Username, opts.Logger), nil
		}, nil
	case BackendSubprocess:
		return func() (Backend, error) {
			return NewPTYBackend(opts.WorkDir, opts.Logger), nil
		}, nil
	case BackendShell:
		return func() (Backend, error) {
			return NewPlatformShellBackend(opts.WorkDir, opts.Logger), nil
		}, nil
	case BackendPowerShell:
		return func() (Backend, error) {
			return NewPowerShellBackend(opts.WorkDir, opts.Logger), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown terminal backend %q", t)
	}
}
