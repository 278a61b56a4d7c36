package terminal

import (
	"errors"
)

// Lifecycle and capability errors shared by all backends.
var (
	// ErrNotInitialized is returned when a backend method is called before
	// Initialize has completed successfully.
	ErrNotInitialized = errors.New("terminal backend is not initialized")

	// ErrClosed is returned when a backend method is called after Close.
	ErrClosed = errors.New("terminal backend is closed")

	// ErrInputUnsupported is returned by backends that cannot deliver
	// keystrokes to a process that is already running (pipe-based backends
	// have no way to reach a child waiting on a terminal read).
	ErrInputUnsupported = errors.New("interactive input is not supported by this backend")

	// ErrBackendUnavailable is returned by Initialize when the backend's
	// external requirement (tmux binary, PTY support, PowerShell binary)
	// is missing on this host.
	ErrBackendUnavailable = errors.New("terminal backend is unavailable")
)

// Backend is the minimal capability contract a terminal implementation must
// provide. The session controller drives any Backend through the same
// polling state machine; backends only move bytes and report process state.
//
// Implementations are not safe for concurrent use by multiple callers. The
// session controller issues one command at a time; the only internal
// concurrency is each backend's background reader feeding its own buffer.
type Backend interface {
	// Initialize spawns the underlying terminal and blocks until the shell
	// prompt is ready. A second call on an initialized backend is a no-op.
	Initialize() error

	// Close tears the terminal down. It is idempotent and never escalates
	// a shutdown failure into an error the caller has to handle.
	Close() error

	// SendKeys delivers text to the terminal. Named control sequences
	// (ENTER, TAB, arrow keys, C-<letter> chords) are translated to their
	// raw byte forms. pressEnter appends a newline when the payload does
	// not already end with one.
	SendKeys(text string, pressEnter bool) error

	// ReadScreen returns a point-in-time snapshot of the currently
	// buffered terminal content. It never blocks on terminal I/O.
	ReadScreen() (string, error)

	// ClearScreen clears the visible screen and any retained history so the
	// next command starts from a clean slate.
	ClearScreen() error

	// Interrupt delivers Ctrl-C (or SIGINT) to whatever is running in the
	// terminal. Returns false when the signal could not be delivered.
	Interrupt() bool

	// IsRunning reports whether a command is currently executing.
	IsRunning() bool

	// IsPlatformShell reports whether this backend drives the platform's
	// native shell (PowerShell) rather than a POSIX shell. The session
	// controller uses this to adapt wording and escaping.
	IsPlatformShell() bool
}

// lifecycle tracks the initialized/closed flags every backend carries and
// produces the matching typed error for out-of-order calls.
type lifecycle struct {
	initialized bool
	closed      bool
}

func (l *lifecycle) guard() error {
	if l.closed {
		return ErrClosed
	}
	if !l.initialized {
		return ErrNotInitialized
	}
	return nil
}
