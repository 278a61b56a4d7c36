package terminal

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/All-Hands-AI/agent-sdk-go/internal/shell"
)

const (
	// DefaultNoChangeTimeout is the soft timeout: how long a command may
	// produce no new output before control returns to the caller.
	DefaultNoChangeTimeout = 30 * time.Second

	// defaultPollInterval bounds the screen polling loop.
	defaultPollInterval = 500 * time.Millisecond
)

// timeoutHint tells the agent how to proceed while a command keeps running.
const timeoutHint = "You may wait longer to see additional output by sending an empty command '', " +
	"send other commands to interact with the current process, " +
	"send keys (\"C-c\") to interrupt/kill the command, " +
	"or use the timeout parameter for future commands."

// Session is the backend-agnostic controller that turns one execute request
// into a polling loop over a Backend, applying timeout, interrupt, and
// continuation policy uniformly.
//
// A session assumes single-command-in-flight usage: callers must not invoke
// Execute concurrently. Close is idempotent.
type Session struct {
	workDir         string
	noChangeTimeout time.Duration
	pollInterval    time.Duration
	logger          *zap.Logger
	recorder        Recorder
	newBackend      func() (Backend, error)

	mu          sync.Mutex
	backend     Backend
	initialized bool
	closed      bool

	prevStatus CommandStatus
	prevOutput string
	cwd        string
}

// Initialize creates and initializes the session's backend. It must be
// called once before Execute.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.initialized {
		return nil
	}
	backend, err := s.newBackend()
	if err != nil {
		return err
	}
	if err := backend.Initialize(); err != nil {
		return err
	}
	s.backend = backend
	s.cwd = s.workDir
	s.prevStatus = StatusContinue
	s.initialized = true
	s.logger.Info("terminal session initialized",
		zap.String("work_dir", s.workDir),
		zap.Duration("no_change_timeout", s.noChangeTimeout))
	return nil
}

// Close tears down the backend. Safe to call multiple times and from
// teardown paths; shutdown failures are logged, never returned.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("backend close failed", zap.Error(err))
		}
		s.backend = nil
	}
	s.closed = true
	return nil
}

// Cwd returns the shell's working directory as of the last completed
// command.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Interrupt delivers Ctrl-C / SIGINT to whatever is running in the backend.
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	backend := s.backend
	s.mu.Unlock()
	if backend == nil {
		return false
	}
	return backend.Interrupt()
}

// IsRunning reports whether a command is still occupying the backend.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.closed {
		return false
	}
	return s.prevStatus.Busy() || s.backend.IsRunning()
}

// Status returns the status the previous Execute call left behind.
func (s *Session) Status() CommandStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prevStatus
}

// Execute runs one command (or delivers input) and blocks until the command
// completes, times out, or is rejected. Recoverable conditions come back as
// results with Error set; an error return means the session itself is
// unusable (not initialized, closed, or its backend broke).
func (s *Session) Execute(req ExecuteRequest) (ExecuteResult, error) {
	if err := s.guard(); err != nil {
		return ExecuteResult{}, err
	}

	if req.Reset {
		return s.executeReset(req)
	}

	command := strings.TrimSpace(req.Command)
	s.logger.Debug("execute",
		zap.String("command", command),
		zap.Bool("is_input", req.IsInput),
		zap.Duration("timeout", req.Timeout))

	// Nothing in flight: empty polls and inputs have nothing to attach to.
	if !s.prevStatus.Busy() {
		if command == "" {
			return s.errorResult(req, "ERROR: No previous running command to retrieve logs from."), nil
		}
		if req.IsInput {
			return s.errorResult(req, "ERROR: No previous running command to interact with."), nil
		}
	}

	if parts := shell.Split(command); len(parts) > 1 {
		listing := lo.Map(parts, func(cmd string, i int) string {
			return fmt.Sprintf("(%d) %s", i+1, cmd)
		})
		return s.errorResult(req,
			"ERROR: Cannot execute multiple commands at once.\n"+
				"Please run each command separately OR chain them into a single command via && or ;\n"+
				"Provided commands:\n"+strings.Join(listing, "\n")), nil
	}

	// Snapshot the screen and marker count before anything is sent.
	initialScreen, err := s.backend.ReadScreen()
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("read screen: %w", err)
	}
	initialCount := len(FindMarkers(initialScreen))

	// A new command while the previous one is still running is rejected
	// without touching the backend; the caller gets the output observed so
	// far plus instructions.
	if s.prevStatus.Busy() && !EndsWithPrompt(initialScreen) && !req.IsInput && command != "" {
		return s.rejectBusy(req, command, initialScreen), nil
	}

	if command != "" {
		special := IsControlChord(command)
		text := command
		if !req.IsInput {
			text = shell.EscapeSpecialChars(command)
		}
		if err := s.backend.SendKeys(text, !special); err != nil {
			if errors.Is(err, ErrInputUnsupported) {
				return s.errorResult(req, "ERROR: "+err.Error()), nil
			}
			return ExecuteResult{}, fmt.Errorf("send keys: %w", err)
		}
		command = text
	}

	return s.poll(req, command, initialScreen, initialCount)
}

func (s *Session) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// poll re-reads the screen on a fixed interval until the command completes
// or one of the two timeout policies fires.
func (s *Session) poll(req ExecuteRequest, command, initialScreen string, initialCount int) (ExecuteResult, error) {
	start := time.Now()
	lastChange := start
	lastScreen := initialScreen

	for {
		screen, err := s.backend.ReadScreen()
		if err != nil {
			// The shell died underneath us. Report what we have as an
			// interrupted completion rather than crashing the agent loop.
			s.logger.Warn("screen read failed mid-command", zap.Error(err))
			return s.handleProcessDeath(req, command, lastScreen), nil
		}
		markers := FindMarkers(screen)

		if screen != lastScreen {
			lastScreen = screen
			lastChange = time.Now()
		}

		// Completed: a new prompt appeared, or the initial prompt scrolled
		// out of the bounded buffer but the visible tail is a prompt.
		if len(markers) > initialCount || EndsWithPrompt(screen) {
			return s.handleCompleted(req, command, screen, markers, start), nil
		}

		// Soft timeout only applies without an explicit per-call timeout:
		// an explicit timeout always wins.
		if req.Timeout == 0 && time.Since(lastChange) >= s.noChangeTimeout {
			return s.handleNoChangeTimeout(req, command, screen, markers), nil
		}

		if req.Timeout > 0 && time.Since(start) >= req.Timeout {
			return s.handleHardTimeout(req, command, screen, markers), nil
		}

		time.Sleep(s.pollInterval)
	}
}

func (s *Session) handleCompleted(req ExecuteRequest, command, screen string, markers []Marker, start time.Time) ExecuteResult {
	special := IsControlChord(command)

	var info MarkerInfo
	beforeLast := false
	if len(markers) > 0 {
		info, _ = ParseMarker(markers[len(markers)-1])
		// A single marker means the pre-command prompt scrolled out of the
		// bounded buffer: the output is everything before it.
		beforeLast = len(markers) == 1
	} else {
		// The marker's beginning scrolled out but its tail is visible.
		s.logger.Warn("prompt tail visible but no parseable marker",
			zap.Int("screen_len", len(screen)))
	}

	if info.WorkingDir != "" && info.WorkingDir != s.cwd {
		s.cwd = info.WorkingDir
	}

	raw := combineOutputs(screen, markers, beforeLast)

	meta := Metadata{WorkingDir: s.cwd, PID: info.PID}
	if beforeLast {
		lines := len(strings.Split(raw, "\n"))
		meta.Prefix = fmt.Sprintf("[Previous command outputs are truncated. Showing the last %d lines of the output below.]\n", lines)
	}

	status := StatusCompleted
	switch {
	case info.ExitCode == 130 || info.ExitCode < 0:
		status = StatusInterrupted
		meta.Suffix = fmt.Sprintf("\n[The command was interrupted and exited with code %d.]", info.ExitCode)
	case special:
		meta.Suffix = fmt.Sprintf("\n[The command completed with exit code %d. CTRL+%s was sent.]",
			info.ExitCode, strings.ToUpper(command[len(command)-1:]))
	default:
		meta.Suffix = fmt.Sprintf("\n[The command completed with exit code %d.]", info.ExitCode)
	}

	output := s.commandOutput(command, raw, &meta, "")
	s.prevStatus = status
	s.prevOutput = ""
	if err := s.backend.ClearScreen(); err != nil {
		s.logger.Warn("clear screen failed", zap.Error(err))
	}

	if s.recorder != nil && !req.IsInput && command != "" && !special {
		s.recorder.Record(command, s.cwd, info.ExitCode, time.Since(start))
	}

	return ExecuteResult{
		Output:       output,
		Command:      command,
		ExitCode:     info.ExitCode,
		SecurityRisk: req.SecurityRisk,
		Metadata:     meta,
	}
}

func (s *Session) handleNoChangeTimeout(req ExecuteRequest, command, screen string, markers []Marker) ExecuteResult {
	s.prevStatus = StatusNoChangeTimeout
	if len(markers) != 1 {
		s.logger.Debug("unexpected marker count at soft timeout", zap.Int("markers", len(markers)))
	}
	raw := combineOutputs(screen, markers, false)
	meta := Metadata{
		WorkingDir: s.cwd,
		Suffix: fmt.Sprintf("\n[The command has no new output after %d seconds. %s]",
			int(s.noChangeTimeout.Seconds()), timeoutHint),
	}
	output := s.commandOutput(command, raw, &meta, "[Below is the output of the previous command.]\n")
	return ExecuteResult{
		Output:       output,
		Command:      command,
		ExitCode:     ExitCodeRunning,
		TimedOut:     true,
		SecurityRisk: req.SecurityRisk,
		Metadata:     meta,
	}
}

func (s *Session) handleHardTimeout(req ExecuteRequest, command, screen string, markers []Marker) ExecuteResult {
	s.prevStatus = StatusHardTimeout
	if len(markers) != 1 {
		s.logger.Debug("unexpected marker count at hard timeout", zap.Int("markers", len(markers)))
	}
	raw := combineOutputs(screen, markers, false)
	meta := Metadata{
		WorkingDir: s.cwd,
		Suffix: fmt.Sprintf("\n[The command timed out after %g seconds. %s]",
			req.Timeout.Seconds(), timeoutHint),
	}
	output := s.commandOutput(command, raw, &meta, "[Below is the output of the previous command.]\n")
	return ExecuteResult{
		Output:       output,
		Command:      command,
		ExitCode:     ExitCodeRunning,
		TimedOut:     true,
		SecurityRisk: req.SecurityRisk,
		Metadata:     meta,
	}
}

// handleProcessDeath reports a shell that vanished mid-command as an
// interrupted completion, per-call recoverable rather than fatal.
func (s *Session) handleProcessDeath(req ExecuteRequest, command, lastScreen string) ExecuteResult {
	s.prevStatus = StatusInterrupted
	markers := FindMarkers(lastScreen)
	raw := combineOutputs(lastScreen, markers, false)
	meta := Metadata{
		WorkingDir: s.cwd,
		Suffix:     "\n[The command was interrupted: the shell process exited unexpectedly.]",
	}
	output := s.commandOutput(command, raw, &meta, "")
	s.prevOutput = ""
	return ExecuteResult{
		Output:       output,
		Command:      command,
		ExitCode:     ExitCodeRunning,
		SecurityRisk: req.SecurityRisk,
		Metadata:     meta,
	}
}

// rejectBusy returns the output observed since the previous return without
// sending anything to the backend.
func (s *Session) rejectBusy(req ExecuteRequest, command, screen string) ExecuteResult {
	markers := FindMarkers(screen)
	raw := combineOutputs(screen, markers, false)
	meta := Metadata{
		WorkingDir: s.cwd,
		Suffix: fmt.Sprintf("\n[Your command %q is NOT executed. The previous command is still running - "+
			"You CANNOT send new commands until the previous command is completed. "+
			"By setting is_input to true, you can interact with the current process: %s]",
			command, timeoutHint),
	}
	output := s.commandOutput(command, raw, &meta, "[Below is the output of the previous command.]\n")
	return ExecuteResult{
		Output:       output,
		Command:      command,
		ExitCode:     ExitCodeRunning,
		TimedOut:     true,
		SecurityRisk: req.SecurityRisk,
		Metadata:     meta,
	}
}

func (s *Session) executeReset(req ExecuteRequest) (ExecuteResult, error) {
	s.logger.Info("resetting terminal session")
	if err := s.resetBackend(); err != nil {
		return ExecuteResult{}, fmt.Errorf("reset backend: %w", err)
	}

	const note = "[Terminal session has been reset.]"
	if strings.TrimSpace(req.Command) == "" {
		return ExecuteResult{
			Output:       note,
			Command:      "[RESET]",
			ExitCode:     0,
			SecurityRisk: req.SecurityRisk,
			Metadata:     Metadata{WorkingDir: s.cwd},
		}, nil
	}

	follow := req
	follow.Reset = false
	res, err := s.Execute(follow)
	if err != nil {
		return res, err
	}
	res.Metadata.Prefix = note + "\n" + res.Metadata.Prefix
	return res, nil
}

func (s *Session) resetBackend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("backend close during reset failed", zap.Error(err))
		}
	}
	backend, err := s.newBackend()
	if err != nil {
		return err
	}
	if err := backend.Initialize(); err != nil {
		return err
	}
	s.backend = backend
	s.prevStatus = StatusContinue
	s.prevOutput = ""
	s.cwd = s.workDir
	return nil
}

func (s *Session) errorResult(req ExecuteRequest, message string) ExecuteResult {
	return ExecuteResult{
		Output:       message,
		Error:        true,
		ExitCode:     ExitCodeRunning,
		SecurityRisk: req.SecurityRisk,
		Metadata:     Metadata{WorkingDir: s.cwd},
	}
}

// commandOutput strips the previously returned output from raw (so each call
// only reports new content), removes the echoed command text, and records
// raw for the next continuation.
func (s *Session) commandOutput(command, raw string, meta *Metadata, continuePrefix string) string {
	out := raw
	if s.prevOutput != "" {
		out = strings.TrimPrefix(raw, s.prevOutput)
		meta.Prefix = continuePrefix
	}
	s.prevOutput = raw
	out = strings.TrimLeft(out, " \t\r\n")
	out = strings.TrimPrefix(out, strings.TrimLeft(command, " \t\r\n"))
	out = strings.TrimLeft(out, " \t\r\n")
	return strings.TrimRight(out, " \t\r\n")
}

// combineOutputs stitches together the content between consecutive markers
// plus whatever follows the last one. With a single marker, beforeLast
// selects the content before it (the pre-command prompt scrolled out of the
// buffer) instead of after it.
func combineOutputs(screen string, markers []Marker, beforeLast bool) string {
	switch len(markers) {
	case 0:
		return screen
	case 1:
		if beforeLast {
			return screen[:markers[0].Start]
		}
		return afterMarker(screen, markers[0])
	}
	var sb strings.Builder
	for i := 0; i < len(markers)-1; i++ {
		// Adjacent marker blocks (command output that itself contains
		// marker text) make End+1 overshoot the next Start; clamp so the
		// segment degrades to empty instead of panicking.
		start := min(markers[i].End+1, markers[i+1].Start)
		sb.WriteString(screen[start:markers[i+1].Start])
		sb.WriteByte('\n')
	}
	sb.WriteString(afterMarker(screen, markers[len(markers)-1]))
	return sb.String()
}

// afterMarker returns the content following a marker, skipping the newline
// that terminates the marker block.
func afterMarker(screen string, m Marker) string {
	start := min(m.End+1, len(screen))
	return screen[start:]
}
