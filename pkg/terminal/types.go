package terminal

import (
	"time"
)

// ExitCodeRunning is the sentinel exit code reported while a command is
// still running (after a soft or hard timeout).
const ExitCodeRunning = -1

// SecurityRisk is an opaque classification attached by the caller's security
// analyzer. The terminal engine passes it through untouched.
type SecurityRisk string

// ExecuteRequest is one command (or raw input) submission to a session.
type ExecuteRequest struct {
	// Command is the shell text to run, or the raw keystroke payload when
	// IsInput is set. An empty command polls the previous command's output.
	Command string

	// IsInput delivers Command as input to the running process instead of
	// starting a new command.
	IsInput bool

	// Timeout is an explicit hard wall-clock limit for this call. Zero
	// means no hard timeout; the session's no-change timeout applies
	// instead.
	Timeout time.Duration

	// Reset tears down and recreates the backend before running Command.
	Reset bool

	// SecurityRisk is carried through to the result untouched.
	SecurityRisk SecurityRisk
}

// Metadata is the additional information recovered from the prompt marker
// (or synthesized) for one execute call.
type Metadata struct {
	// Prefix is prepended to the output, e.g. a truncation notice.
	Prefix string

	// Suffix is appended to the output: a human-readable completion,
	// timeout, or interrupt explanation.
	Suffix string

	// WorkingDir is the shell's working directory after this call.
	WorkingDir string

	// PID is the shell process id, when known.
	PID int
}

// ExecuteResult is the outcome of one execute call.
type ExecuteResult struct {
	// Output is the extracted command output window.
	Output string

	// Command echoes what was submitted (possibly escaped).
	Command string

	// ExitCode is the command's exit code, or ExitCodeRunning while the
	// command has not finished.
	ExitCode int

	// TimedOut is true for both the no-change and the hard timeout.
	TimedOut bool

	// Error marks per-call recoverable errors (multi-statement command,
	// input with nothing running, and so on). The session stays usable.
	Error bool

	// SecurityRisk is the request's classification, passed through.
	SecurityRisk SecurityRisk

	Metadata Metadata
}

// Text renders the result the way the tool layer presents it to an agent:
// prefix, output window, then the explanatory suffix.
func (r ExecuteResult) Text() string {
	return r.Metadata.Prefix + r.Output + r.Metadata.Suffix
}

// CommandStatus tracks where the session's single in-flight command is in
// its life. The timeout statuses are not terminal: the session stays busy
// until the command reaches StatusCompleted or StatusInterrupted.
type CommandStatus int

const (
	// StatusContinue means no command is in flight; the session is ready.
	StatusContinue CommandStatus = iota

	// StatusCompleted means the previous command finished and its prompt
	// marker was observed.
	StatusCompleted

	// StatusInterrupted means the previous command was terminated by a
	// signal (Ctrl-C or process death).
	StatusInterrupted

	// StatusNoChangeTimeout means the previous command produced no new
	// output for the session's no-change window and is still running.
	StatusNoChangeTimeout

	// StatusHardTimeout means the previous command exceeded the explicit
	// per-request timeout and is still running.
	StatusHardTimeout
)

func (s CommandStatus) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusCompleted:
		return "completed"
	case StatusInterrupted:
		return "interrupted"
	case StatusNoChangeTimeout:
		return "no_change_timeout"
	case StatusHardTimeout:
		return "hard_timeout"
	}
	return "unknown"
}

// Busy reports whether the status leaves a command occupying the backend.
func (s CommandStatus) Busy() bool {
	return s == StatusNoChangeTimeout || s == StatusHardTimeout
}

// Recorder receives one record per finished command. The history package
// provides a sqlite-backed implementation; a nil Recorder disables
// recording.
type Recorder interface {
	Record(command string, workingDir string, exitCode int, duration time.Duration)
}
