//go:build !windows

package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// ptyReadInterval is the read deadline used by the background reader so
	// it can notice shutdown promptly.
	ptyReadInterval = 100 * time.Millisecond

	ptySetupTimeout  = 8 * time.Second
	ptyPromptTimeout = 5 * time.Second
	ptyNudgeTimeout  = 2 * time.Second

	ptyBufferCapacity = 512 * 1024
)

// PTYBackend runs bash attached to a pseudo-terminal. Unlike the tmux
// backend there is no external scrollback, so a background reader drains
// the pty into a bounded buffer that ReadScreen snapshots.
type PTYBackend struct {
	lifecycle
	workDir string
	logger  *zap.Logger

	cmd        *exec.Cmd
	ptmx       *os.File
	buffer     *outputBuffer
	readerDone chan struct{}
	exited     chan struct{}
}

// NewPTYBackend prepares a pty-hosted bash backend rooted at workDir.
func NewPTYBackend(workDir string, logger *zap.Logger) *PTYBackend {
	return &PTYBackend{
		workDir: workDir,
		logger:  logger,
		buffer:  newOutputBuffer(ptyBufferCapacity),
	}
}

// Initialize spawns bash under a pty, installs the metadata prompt via a
// sentinel handshake, and waits for the first prompt to render.
func (p *PTYBackend) Initialize() error {
	if p.initialized {
		return nil
	}
	if p.workDir != "" {
		if _, err := os.Stat(p.workDir); err != nil {
			return fmt.Errorf("work dir %s: %w", p.workDir, err)
		}
	}

	cmd := exec.Command("/bin/bash")
	cmd.Dir = p.workDir
	cmd.Env = append(os.Environ(), "TERM=dumb")
	setSysProcAttr(cmd)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 1000, Cols: 1000})
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	p.cmd = cmd
	p.ptmx = ptmx
	p.readerDone = make(chan struct{})
	p.exited = make(chan struct{})

	go p.readLoop()
	go func() {
		_ = cmd.Wait()
		close(p.exited)
	}()

	if err := p.handshake(); err != nil {
		p.teardown()
		return err
	}

	// Drop the handshake noise and let a fresh prompt render into the
	// empty buffer.
	if err := p.freshPrompt(); err != nil {
		p.teardown()
		return err
	}

	p.initialized = true
	p.logger.Info("pty backend ready",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("work_dir", p.workDir))
	return nil
}

// handshake installs PROMPT_COMMAND and confirms the shell processed it by
// echoing a one-time sentinel, retrying once before giving up.
func (p *PTYBackend) handshake() error {
	setup := fmt.Sprintf(`export PROMPT_COMMAND='export PS1="%s"'; export PS2=""`, BuildPromptString())

	for attempt := 0; attempt < 2; attempt++ {
		sentinel := uuid.NewString()
		if _, err := p.ptmx.WriteString(setup + `; echo ` + sentinel + "\n"); err != nil {
			return fmt.Errorf("write pty: %w", err)
		}
		if !p.waitFor(ptySetupTimeout, func(screen string) bool {
			// The echoed command contains the sentinel too, so require it
			// on its own line.
			return strings.Contains(screen, "\n"+sentinel)
		}) {
			p.logger.Warn("pty setup sentinel not observed, retrying",
				zap.Int("attempt", attempt+1))
			continue
		}
		if p.waitFor(ptyPromptTimeout, EndsWithPrompt) {
			return nil
		}
		// The prompt may only render on the next PROMPT_COMMAND cycle.
		if _, err := p.ptmx.WriteString("\n"); err != nil {
			return fmt.Errorf("write pty: %w", err)
		}
		if p.waitFor(ptyNudgeTimeout, EndsWithPrompt) {
			return nil
		}
	}
	return fmt.Errorf("bash did not accept prompt setup within %s", ptySetupTimeout)
}

func (p *PTYBackend) waitFor(timeout time.Duration, ok func(string) bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ok(p.snapshot()) {
			return true
		}
		select {
		case <-p.exited:
			return ok(p.snapshot())
		case <-time.After(50 * time.Millisecond):
		}
	}
	return false
}

func (p *PTYBackend) readLoop() {
	defer close(p.readerDone)
	buf := make([]byte, 4096)
	for {
		_ = p.ptmx.SetReadDeadline(time.Now().Add(ptyReadInterval))
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.buffer.Write(buf[:n])
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			// EOF or EIO: the slave side is gone.
			return
		}
	}
}

func (p *PTYBackend) snapshot() string {
	raw := ansi.Strip(p.buffer.String())
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// SendKeys writes text to the pty. Control chords and named keys are
// translated to their terminal byte sequences.
func (p *PTYBackend) SendKeys(text string, pressEnter bool) error {
	if err := p.guard(); err != nil {
		return err
	}
	data, _ := encodeKeys(text)
	if _, err := p.ptmx.Write(data); err != nil {
		return fmt.Errorf("write pty: %w", err)
	}
	if pressEnter {
		if _, err := p.ptmx.WriteString("\n"); err != nil {
			return fmt.Errorf("write pty: %w", err)
		}
	}
	return nil
}

func (p *PTYBackend) ReadScreen() (string, error) {
	if err := p.guard(); err != nil {
		return "", err
	}
	select {
	case <-p.exited:
		return "", fmt.Errorf("bash process exited")
	default:
	}
	return p.snapshot(), nil
}

// ClearScreen drops the buffer and asks the shell for a fresh prompt.
func (p *PTYBackend) ClearScreen() error {
	if err := p.guard(); err != nil {
		return err
	}
	return p.freshPrompt()
}

// freshPrompt empties the buffer and waits for the shell to render a new
// prompt into it, so the next screen read starts from a known state.
func (p *PTYBackend) freshPrompt() error {
	p.buffer.Reset()
	if _, err := p.ptmx.WriteString("\n"); err != nil {
		return fmt.Errorf("write pty: %w", err)
	}
	p.waitFor(ptyNudgeTimeout, EndsWithPrompt)
	return nil
}

// Interrupt signals SIGINT to the shell's process group.
func (p *PTYBackend) Interrupt() bool {
	if err := p.guard(); err != nil {
		return false
	}
	if err := interruptGroup(p.cmd.Process.Pid); err != nil {
		p.logger.Warn("interrupt failed", zap.Error(err))
		return false
	}
	return true
}

func (p *PTYBackend) IsRunning() bool {
	if err := p.guard(); err != nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
	}
	return !EndsWithPrompt(p.snapshot())
}

func (p *PTYBackend) IsPlatformShell() bool { return false }

// Close asks the shell to exit, escalating to SIGTERM and then SIGKILL on
// the process group. Idempotent.
func (p *PTYBackend) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if !p.initialized {
		if p.cmd != nil {
			p.teardown()
		}
		return nil
	}

	if _, err := p.ptmx.WriteString("exit\n"); err == nil {
		if p.waitExit(2 * time.Second) {
			p.teardown()
			return nil
		}
	}
	if err := terminateGroup(p.cmd.Process.Pid); err == nil && p.waitExit(2*time.Second) {
		p.teardown()
		return nil
	}
	if err := killGroup(p.cmd.Process.Pid); err != nil {
		p.logger.Warn("kill process group failed", zap.Error(err))
	}
	p.waitExit(time.Second)
	p.teardown()
	return nil
}

func (p *PTYBackend) waitExit(timeout time.Duration) bool {
	select {
	case <-p.exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *PTYBackend) teardown() {
	if p.ptmx != nil {
		_ = p.ptmx.Close()
	}
	if p.readerDone != nil {
		select {
		case <-p.readerDone:
		case <-time.After(time.Second):
		}
	}
}
