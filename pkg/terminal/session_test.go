package terminal

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend is a scriptable in-memory Backend. Tests mutate its screen to
// drive the session controller through its states.
type fakeBackend struct {
	mu          sync.Mutex
	screen      string
	sent        []string
	cleared     int
	interrupted int
	closed      bool
	onSend      func(text string, pressEnter bool)
	sendErr     error
	readErr     error
	initErr     error
}

func (f *fakeBackend) Initialize() error {
	if f.initErr != nil {
		return f.initErr
	}
	f.setScreen(renderedMarker(0, "/work"))
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) SendKeys(text string, pressEnter bool) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	onSend := f.onSend
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onSend != nil {
		onSend(text, pressEnter)
	}
	return nil
}

func (f *fakeBackend) ReadScreen() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.screen, nil
}

func (f *fakeBackend) ClearScreen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.screen = renderedMarker(0, "/work")
	return nil
}

func (f *fakeBackend) Interrupt() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted++
	return true
}

func (f *fakeBackend) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !EndsWithPrompt(f.screen)
}

func (f *fakeBackend) IsPlatformShell() bool { return false }

func (f *fakeBackend) setScreen(screen string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screen = screen
}

func (f *fakeBackend) appendScreen(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screen += text
}

type recordedCommand struct {
	command  string
	workDir  string
	exitCode int
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedCommand
}

func (r *fakeRecorder) Record(command, workDir string, exitCode int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recordedCommand{command, workDir, exitCode})
}

func newTestSession(t *testing.T, fb *fakeBackend) *Session {
	t.Helper()
	s := &Session{
		workDir:         "/work",
		noChangeTimeout: 200 * time.Millisecond,
		pollInterval:    5 * time.Millisecond,
		logger:          zap.NewNop(),
		newBackend:      func() (Backend, error) { return fb, nil },
	}
	require.NoError(t, s.Initialize())
	t.Cleanup(func() { s.Close() })
	return s
}

// completedScreen renders a screen where command ran and finished.
func completedScreen(command, output string, exitCode int, cwd string) string {
	return renderedMarker(0, cwd) + command + "\n" + output + renderedMarker(exitCode, cwd)
}

func TestSessionExecuteCompleted(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(completedScreen(text, "hello\n", 0, "/work"))
	}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "echo hello"})
	require.NoError(t, err)

	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.TimedOut)
	assert.False(t, result.Error)
	assert.Contains(t, result.Metadata.Suffix, "completed with exit code 0")
	assert.Equal(t, "/work", result.Metadata.WorkingDir)
	assert.Equal(t, 1234, result.Metadata.PID)
	assert.Equal(t, StatusCompleted, s.Status())
	assert.Equal(t, 1, fb.cleared)
}

func TestSessionTracksWorkingDirectory(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(completedScreen(text, "", 0, "/work/sub"))
	}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "cd sub"})
	require.NoError(t, err)
	assert.Equal(t, "/work/sub", result.Metadata.WorkingDir)
	assert.Equal(t, "/work/sub", s.Cwd())
}

func TestSessionExecuteNonZeroExit(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(completedScreen(text, "no such file\n", 2, "/work"))
	}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "ls /missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Metadata.Suffix, "exit code 2")
	assert.Equal(t, StatusCompleted, s.Status())
}

func TestSessionEmptyCommandWithoutPrevious(t *testing.T) {
	fb := &fakeBackend{}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "   "})
	require.NoError(t, err)
	assert.True(t, result.Error)
	assert.Contains(t, result.Output, "No previous running command to retrieve logs from")
	assert.Empty(t, fb.sent)
}

func TestSessionInputWithoutPrevious(t *testing.T) {
	fb := &fakeBackend{}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "y", IsInput: true})
	require.NoError(t, err)
	assert.True(t, result.Error)
	assert.Contains(t, result.Output, "No previous running command to interact with")
}

func TestSessionRejectsMultipleStatements(t *testing.T) {
	fb := &fakeBackend{}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "echo a\necho b"})
	require.NoError(t, err)
	assert.True(t, result.Error)
	assert.Contains(t, result.Output, "Cannot execute multiple commands at once")
	assert.Contains(t, result.Output, "(1) echo a")
	assert.Contains(t, result.Output, "(2) echo b")
	assert.Empty(t, fb.sent)

	t.Run("chained command is a single statement", func(t *testing.T) {
		fb.onSend = func(text string, pressEnter bool) {
			fb.setScreen(completedScreen(text, "a\nb\n", 0, "/work"))
		}
		result, err := s.Execute(ExecuteRequest{Command: "echo a && echo b"})
		require.NoError(t, err)
		assert.False(t, result.Error)
		assert.Equal(t, 0, result.ExitCode)
	})
}

func TestSessionNoChangeTimeout(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(renderedMarker(0, "/work") + text + "\npartial output\n")
	}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "sleep 100"})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, ExitCodeRunning, result.ExitCode)
	assert.Equal(t, "partial output", result.Output)
	assert.Contains(t, result.Metadata.Suffix, "no new output")
	assert.Contains(t, result.Metadata.Suffix, "C-c")
	assert.Equal(t, StatusNoChangeTimeout, s.Status())
	assert.True(t, s.IsRunning())
}

func TestSessionHardTimeout(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(renderedMarker(0, "/work") + text + "\n")
	}
	s := newTestSession(t, fb)

	start := time.Now()
	result, err := s.Execute(ExecuteRequest{Command: "sleep 100", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, ExitCodeRunning, result.ExitCode)
	assert.Contains(t, result.Metadata.Suffix, "timed out after")
	assert.Equal(t, StatusHardTimeout, s.Status())
	assert.Less(t, time.Since(start), 2*time.Second)
}

// An explicit timeout must suppress the no-change policy even when the
// timeout is longer than the no-change window.
func TestSessionExplicitTimeoutSuppressesNoChange(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(renderedMarker(0, "/work") + text + "\n")
	}
	s := newTestSession(t, fb)
	s.noChangeTimeout = 20 * time.Millisecond

	start := time.Now()
	result, err := s.Execute(ExecuteRequest{Command: "sleep 100", Timeout: 150 * time.Millisecond})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, StatusHardTimeout, s.Status())
	assert.Contains(t, result.Metadata.Suffix, "timed out after")
}

func TestSessionBusyRejection(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(renderedMarker(0, "/work") + text + "\nworking...\n")
	}
	s := newTestSession(t, fb)

	_, err := s.Execute(ExecuteRequest{Command: "sleep 100"})
	require.NoError(t, err)
	require.Equal(t, StatusNoChangeTimeout, s.Status())
	sentBefore := len(fb.sent)

	result, err := s.Execute(ExecuteRequest{Command: "echo nope"})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Contains(t, result.Metadata.Suffix, "NOT executed")
	assert.Contains(t, result.Metadata.Suffix, "is_input")
	assert.Len(t, fb.sent, sentBefore)
}

func TestSessionContinuationReturnsOnlyNewOutput(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(renderedMarker(0, "/work") + text + "\n1\n2\n")
	}
	s := newTestSession(t, fb)

	first, err := s.Execute(ExecuteRequest{Command: "./count.sh"})
	require.NoError(t, err)
	assert.True(t, first.TimedOut)
	assert.Equal(t, "1\n2", first.Output)

	// The command finishes while nobody is watching; an empty command
	// collects the remainder.
	fb.appendScreen("3\n" + renderedMarker(7, "/work"))

	second, err := s.Execute(ExecuteRequest{Command: ""})
	require.NoError(t, err)
	assert.Equal(t, "3", second.Output)
	assert.Equal(t, 7, second.ExitCode)
	assert.Equal(t, StatusCompleted, s.Status())
}

func TestSessionInterruptViaInput(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(renderedMarker(0, "/work") + text + "\n")
	}
	s := newTestSession(t, fb)

	_, err := s.Execute(ExecuteRequest{Command: "sleep 100"})
	require.NoError(t, err)
	require.True(t, s.Status().Busy())

	fb.onSend = func(text string, pressEnter bool) {
		assert.False(t, pressEnter)
		fb.appendScreen("^C\n" + renderedMarker(130, "/work"))
	}

	result, err := s.Execute(ExecuteRequest{Command: "C-c", IsInput: true})
	require.NoError(t, err)
	assert.Equal(t, 130, result.ExitCode)
	assert.Contains(t, result.Metadata.Suffix, "interrupted")
	assert.Equal(t, StatusInterrupted, s.Status())
}

func TestSessionInputUnsupportedBackend(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(renderedMarker(0, "/work") + text + "\n")
	}
	s := newTestSession(t, fb)

	_, err := s.Execute(ExecuteRequest{Command: "sleep 100"})
	require.NoError(t, err)

	fb.sendErr = fmt.Errorf("%w: pipe backend", ErrInputUnsupported)
	result, err := s.Execute(ExecuteRequest{Command: "y", IsInput: true})
	require.NoError(t, err)
	assert.True(t, result.Error)
	assert.Contains(t, result.Output, "ERROR:")
}

func TestSessionTruncatedOutputPrefix(t *testing.T) {
	fb := &fakeBackend{}
	// Only the final marker survived in the buffer: the pre-command prompt
	// scrolled out.
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen("line1\nline2\nline3\n" + renderedMarker(0, "/work"))
	}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "yes | head -n 100000"})
	require.NoError(t, err)
	assert.Contains(t, result.Metadata.Prefix, "Previous command outputs are truncated")
	assert.Contains(t, result.Output, "line3")
}

func TestSessionReset(t *testing.T) {
	t.Run("reset without command", func(t *testing.T) {
		first := &fakeBackend{}
		second := &fakeBackend{}
		backends := []*fakeBackend{first, second}
		i := 0
		s := &Session{
			workDir:         "/work",
			noChangeTimeout: 200 * time.Millisecond,
			pollInterval:    5 * time.Millisecond,
			logger:          zap.NewNop(),
			newBackend: func() (Backend, error) {
				b := backends[i]
				i++
				return b, nil
			},
		}
		require.NoError(t, s.Initialize())
		defer s.Close()

		result, err := s.Execute(ExecuteRequest{Reset: true})
		require.NoError(t, err)
		assert.Equal(t, "[Terminal session has been reset.]", result.Output)
		assert.Equal(t, "[RESET]", result.Command)
		assert.Equal(t, 0, result.ExitCode)
		assert.True(t, first.closed)
		assert.Equal(t, StatusContinue, s.Status())
	})

	t.Run("reset with command runs the command", func(t *testing.T) {
		makeBackend := func() *fakeBackend {
			fb := &fakeBackend{}
			fb.onSend = func(text string, pressEnter bool) {
				fb.setScreen(completedScreen(text, "after reset\n", 0, "/work"))
			}
			return fb
		}
		s := &Session{
			workDir:         "/work",
			noChangeTimeout: 200 * time.Millisecond,
			pollInterval:    5 * time.Millisecond,
			logger:          zap.NewNop(),
			newBackend:      func() (Backend, error) { return makeBackend(), nil },
		}
		require.NoError(t, s.Initialize())
		defer s.Close()

		result, err := s.Execute(ExecuteRequest{Command: "echo after reset", Reset: true})
		require.NoError(t, err)
		assert.Contains(t, result.Metadata.Prefix, "[Terminal session has been reset.]")
		assert.Equal(t, "after reset", result.Output)
		assert.Equal(t, 0, result.ExitCode)
	})

	t.Run("reset clears busy state", func(t *testing.T) {
		fb := &fakeBackend{}
		fb.onSend = func(text string, pressEnter bool) {
			fb.setScreen(renderedMarker(0, "/work") + text + "\n")
		}
		s := newTestSession(t, fb)

		_, err := s.Execute(ExecuteRequest{Command: "sleep 100"})
		require.NoError(t, err)
		require.True(t, s.Status().Busy())

		_, err = s.Execute(ExecuteRequest{Reset: true})
		require.NoError(t, err)
		assert.Equal(t, StatusContinue, s.Status())
		assert.False(t, s.IsRunning())
	})
}

func TestSessionLifecycle(t *testing.T) {
	t.Run("execute before initialize", func(t *testing.T) {
		s := &Session{
			logger:     zap.NewNop(),
			newBackend: func() (Backend, error) { return &fakeBackend{}, nil },
		}
		_, err := s.Execute(ExecuteRequest{Command: "echo hi"})
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		fb := &fakeBackend{}
		s := newTestSession(t, fb)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		assert.True(t, fb.closed)

		_, err := s.Execute(ExecuteRequest{Command: "echo hi"})
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("initialize propagates backend failure", func(t *testing.T) {
		s := &Session{
			logger:     zap.NewNop(),
			newBackend: func() (Backend, error) { return &fakeBackend{initErr: ErrBackendUnavailable}, nil },
		}
		assert.ErrorIs(t, s.Initialize(), ErrBackendUnavailable)
	})
}

func TestSessionRecorder(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(completedScreen(text, "hi\n", 0, "/work"))
	}
	rec := &fakeRecorder{}
	s := newTestSession(t, fb)
	s.recorder = rec

	_, err := s.Execute(ExecuteRequest{Command: "echo hi"})
	require.NoError(t, err)

	require.Len(t, rec.records, 1)
	assert.Equal(t, "echo hi", rec.records[0].command)
	assert.Equal(t, "/work", rec.records[0].workDir)
	assert.Equal(t, 0, rec.records[0].exitCode)

	t.Run("timeouts are not recorded", func(t *testing.T) {
		fb.onSend = func(text string, pressEnter bool) {
			fb.setScreen(renderedMarker(0, "/work") + text + "\n")
		}
		_, err := s.Execute(ExecuteRequest{Command: "sleep 100", Timeout: 30 * time.Millisecond})
		require.NoError(t, err)
		assert.Len(t, rec.records, 1)
	})
}

func TestSessionProcessDeath(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(renderedMarker(0, "/work") + text + "\nsome output\n")
		go func() {
			time.Sleep(20 * time.Millisecond)
			fb.mu.Lock()
			fb.readErr = fmt.Errorf("shell process exited")
			fb.mu.Unlock()
		}()
	}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "crashy"})
	require.NoError(t, err)
	assert.Contains(t, result.Metadata.Suffix, "exited unexpectedly")
	assert.Equal(t, StatusInterrupted, s.Status())
}

// A command can print marker text itself (cat of a file holding prompt
// blocks). Back-to-back marker blocks must stitch to empty segments, not
// crash the poll loop.
func TestCombineOutputsAdjacentMarkers(t *testing.T) {
	block := markerBegin + "\nexit_code=0\ncwd=/work\n" + markerEnd
	screen := renderedMarker(0, "/work") + "cat trap\n" + block + block + renderedMarker(0, "/work")

	markers := FindMarkers(screen)
	require.Len(t, markers, 4)

	var raw string
	assert.NotPanics(t, func() {
		raw = combineOutputs(screen, markers, false)
	})
	assert.Contains(t, raw, "cat trap")
}

func TestSessionOutputContainingMarkerText(t *testing.T) {
	block := markerBegin + "\nexit_code=0\ncwd=/work\n" + markerEnd
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(renderedMarker(0, "/work") + text + "\n" + block + block + renderedMarker(0, "/work"))
	}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "cat trap"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.Error)
}

func TestSessionSecurityRiskPassthrough(t *testing.T) {
	fb := &fakeBackend{}
	fb.onSend = func(text string, pressEnter bool) {
		fb.setScreen(completedScreen(text, "", 0, "/work"))
	}
	s := newTestSession(t, fb)

	result, err := s.Execute(ExecuteRequest{Command: "rm -rf build", SecurityRisk: "MEDIUM"})
	require.NoError(t, err)
	assert.Equal(t, SecurityRisk("MEDIUM"), result.SecurityRisk)
}
