package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// tmuxHistoryLimit bounds how much scrollback capture-pane can return.
	tmuxHistoryLimit = 50000

	tmuxPaneWidth  = 1000
	tmuxPaneHeight = 1000

	// tmuxReadyTimeout bounds how long Initialize waits for the configured
	// prompt to render for the first time.
	tmuxReadyTimeout = 10 * time.Second
)

// TmuxBackend drives a bash shell inside a detached tmux session. tmux owns
// the pane scrollback, so ReadScreen is a capture-pane snapshot and
// ClearScreen maps to clear-history.
type TmuxBackend struct {
	lifecycle
	workDir     string
	sessionName string
	logger      *zap.Logger
}

// NewTmuxBackend prepares a tmux-hosted bash backend rooted at workDir.
// If username is empty the current user is assumed.
func NewTmuxBackend(workDir, username string, logger *zap.Logger) *TmuxBackend {
	return &TmuxBackend{
		workDir:     workDir,
		sessionName: fmt.Sprintf("ohsh-%s-%s", sessionUser(username), uuid.NewString()),
		logger:      logger,
	}
}

func sessionUser(username string) string {
	if username != "" {
		return username
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// TmuxAvailable probes for a usable tmux binary and reports its version.
func TmuxAvailable() (string, bool) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return "", false
	}
	out, err := exec.Command(path, "-V").Output()
	if err != nil {
		return "", false
	}
	// "tmux 3.4", "tmux next-3.5", "tmux 3.3a" all occur in the wild.
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(out)), "tmux"))
	raw = strings.TrimPrefix(raw, "next-")
	if v, err := semver.NewVersion(strings.TrimRight(raw, "abcdefghij")); err == nil {
		return v.String(), true
	}
	return raw, true
}

func (t *TmuxBackend) run(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// Initialize creates the detached session, replaces its initial window with
// one running bash configured to emit the metadata prompt, and waits for
// that prompt to render.
func (t *TmuxBackend) Initialize() error {
	if t.initialized {
		return nil
	}
	if _, ok := TmuxAvailable(); !ok {
		return fmt.Errorf("%w: tmux not found in PATH", ErrBackendUnavailable)
	}

	shellCommand := "/bin/bash"
	if t.workDir != "" {
		if _, err := os.Stat(t.workDir); err != nil {
			return fmt.Errorf("work dir %s: %w", t.workDir, err)
		}
	}

	if _, err := t.run("new-session", "-d",
		"-s", t.sessionName,
		"-x", fmt.Sprint(tmuxPaneWidth),
		"-y", fmt.Sprint(tmuxPaneHeight)); err != nil {
		return err
	}
	if _, err := t.run("set-option", "-t", t.sessionName,
		"history-limit", fmt.Sprint(tmuxHistoryLimit)); err != nil {
		t.killSession()
		return err
	}

	initialWindow, err := t.run("list-windows", "-t", t.sessionName, "-F", "#{window_id}")
	if err != nil {
		t.killSession()
		return err
	}

	args := []string{"new-window", "-t", t.sessionName}
	if t.workDir != "" {
		args = append(args, "-c", t.workDir)
	}
	args = append(args, shellCommand)
	if _, err := t.run(args...); err != nil {
		t.killSession()
		return err
	}
	for _, w := range strings.Split(initialWindow, "\n") {
		if w = strings.TrimSpace(w); w != "" {
			if _, err := t.run("kill-window", "-t", w); err != nil {
				t.logger.Warn("kill initial tmux window failed", zap.Error(err))
			}
		}
	}

	// Configure the shell to print the metadata block as its prompt. PS1 is
	// re-exported from PROMPT_COMMAND so $? is expanded per command.
	setup := fmt.Sprintf(`export PROMPT_COMMAND='export PS1="%s"'; export PS2=""`, BuildPromptString())
	if _, err := t.run("send-keys", "-t", t.sessionName, setup, "Enter"); err != nil {
		t.killSession()
		return err
	}

	if err := t.waitForPrompt(tmuxReadyTimeout); err != nil {
		t.killSession()
		return err
	}

	// Drop the setup noise so the first command starts from a clean slate.
	if err := t.clearHistory(); err != nil {
		t.logger.Warn("initial clear-history failed", zap.Error(err))
	}

	t.initialized = true
	t.logger.Info("tmux backend ready",
		zap.String("session", t.sessionName),
		zap.String("work_dir", t.workDir))
	return nil
}

func (t *TmuxBackend) waitForPrompt(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		screen, err := t.capturePane()
		if err == nil && EndsWithPrompt(screen) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("tmux session %s: prompt did not appear within %s", t.sessionName, timeout)
}

func (t *TmuxBackend) capturePane() (string, error) {
	out, err := t.run("capture-pane", "-t", t.sessionName, "-J", "-p", "-S", "-")
	if err != nil {
		return "", err
	}
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n"), nil
}

// SendKeys types text into the pane. Control chords like "C-c" pass through
// as tmux key names; everything else is sent literally.
func (t *TmuxBackend) SendKeys(text string, pressEnter bool) error {
	if err := t.guard(); err != nil {
		return err
	}
	args := []string{"send-keys", "-t", t.sessionName}
	if IsControlChord(text) {
		args = append(args, text)
	} else {
		args = append(args, "-l", text)
	}
	if _, err := t.run(args...); err != nil {
		return err
	}
	if pressEnter {
		if _, err := t.run("send-keys", "-t", t.sessionName, "Enter"); err != nil {
			return err
		}
	}
	return nil
}

// ReadScreen returns the pane content including scrollback, with trailing
// whitespace stripped per line.
func (t *TmuxBackend) ReadScreen() (string, error) {
	if err := t.guard(); err != nil {
		return "", err
	}
	return t.capturePane()
}

// ClearScreen clears the visible pane and drops the scrollback so the next
// capture starts from the fresh prompt.
func (t *TmuxBackend) ClearScreen() error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.clearHistory()
}

func (t *TmuxBackend) clearHistory() error {
	if _, err := t.run("send-keys", "-t", t.sessionName, "C-l"); err != nil {
		return err
	}
	// Wait for the repainted prompt so clear-history does not race the
	// redraw and wipe the prompt itself.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		screen, err := t.capturePane()
		if err == nil && EndsWithPrompt(screen) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	_, err := t.run("clear-history", "-t", t.sessionName)
	return err
}

// Interrupt sends Ctrl-C to the pane.
func (t *TmuxBackend) Interrupt() bool {
	if err := t.guard(); err != nil {
		return false
	}
	_, err := t.run("send-keys", "-t", t.sessionName, "C-c")
	return err == nil
}

// IsRunning reports whether the pane shows something other than a fresh
// prompt at its tail.
func (t *TmuxBackend) IsRunning() bool {
	if err := t.guard(); err != nil {
		return false
	}
	screen, err := t.capturePane()
	if err != nil {
		return false
	}
	return !EndsWithPrompt(screen)
}

func (t *TmuxBackend) IsPlatformShell() bool { return false }

// Close kills the tmux session. Idempotent.
func (t *TmuxBackend) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if !t.initialized {
		return nil
	}
	t.killSession()
	return nil
}

func (t *TmuxBackend) killSession() {
	if _, err := t.run("kill-session", "-t", t.sessionName); err != nil {
		t.logger.Debug("kill-session failed", zap.Error(err))
	}
}
