package terminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	pipeBufferCapacity = 512 * 1024
	pipeSetupTimeout   = 8 * time.Second
)

// pipeShell is the shared core of the pipe-based backends: a shell child
// whose stdout and stderr are merged into one bounded buffer and whose
// stdin receives commands. Without a pty there is no line discipline, so
// interactive input to a foreground child is not supported; interrupts go
// through signals instead of control bytes.
type pipeShell struct {
	lifecycle
	workDir  string
	logger   *zap.Logger
	resolve  func() (argv []string, setup []string, err error)
	platform bool

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	buffer     *outputBuffer
	readerDone chan struct{}
	exited     chan struct{}
}

// PlatformShellBackend runs the platform's default shell over plain pipes.
// It is the portable fallback when neither tmux nor a pty is available.
type PlatformShellBackend struct {
	pipeShell
}

// NewPlatformShellBackend prepares a pipe-hosted shell backend rooted at
// workDir: bash on POSIX systems, PowerShell on Windows.
func NewPlatformShellBackend(workDir string, logger *zap.Logger) *PlatformShellBackend {
	b := &PlatformShellBackend{}
	b.workDir = workDir
	b.logger = logger
	b.platform = true
	b.buffer = newOutputBuffer(pipeBufferCapacity)
	if runtime.GOOS == "windows" {
		b.resolve = resolvePowerShell
	} else {
		b.resolve = func() ([]string, []string, error) {
			setup := fmt.Sprintf(`export PROMPT_COMMAND='export PS1="%s"'; export PS2=""`, BuildPromptString())
			return []string{"/bin/bash", "-i"}, []string{setup}, nil
		}
	}
	return b
}

func (p *pipeShell) Initialize() error {
	if p.initialized {
		return nil
	}
	if p.workDir != "" {
		if _, err := os.Stat(p.workDir); err != nil {
			return fmt.Errorf("work dir %s: %w", p.workDir, err)
		}
	}
	argv, setup, err := p.resolve()
	if err != nil {
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = p.workDir
	cmd.Env = append(os.Environ(), "TERM=dumb")
	setSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		return fmt.Errorf("start %s: %w", argv[0], err)
	}
	outW.Close()

	p.cmd = cmd
	p.stdin = stdin
	p.readerDone = make(chan struct{})
	p.exited = make(chan struct{})

	go p.readLoop(outR)
	go func() {
		_ = cmd.Wait()
		close(p.exited)
	}()

	if err := p.setup(setup); err != nil {
		p.shutdown()
		return err
	}
	if err := p.freshPrompt(); err != nil {
		p.shutdown()
		return err
	}

	p.initialized = true
	p.logger.Info("pipe shell backend ready",
		zap.Strings("argv", argv),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

func (p *pipeShell) setup(lines []string) error {
	sentinel := uuid.NewString()
	for _, line := range lines {
		if err := p.writeLine(line); err != nil {
			return err
		}
	}
	if err := p.writeLine(`echo ` + sentinel); err != nil {
		return err
	}
	if !p.waitFor(pipeSetupTimeout, func(screen string) bool {
		return strings.Contains(screen, "\n"+sentinel) && EndsWithPrompt(screen)
	}) {
		return fmt.Errorf("shell did not accept prompt setup within %s", pipeSetupTimeout)
	}
	return nil
}

func (p *pipeShell) writeLine(line string) error {
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

func (p *pipeShell) waitFor(timeout time.Duration, ok func(string) bool) bool {
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

func (p *pipeShell) readLoop(r *os.File) {
	defer close(p.readerDone)
	defer r.Close()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.buffer.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (p *pipeShell) snapshot() string {
	raw := ansi.Strip(p.buffer.String())
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// SendKeys writes a command line to the shell's stdin. While a command is
// running only control chords are accepted: C-c maps to a SIGINT, and
// arbitrary input is rejected because a pipe cannot reach the foreground
// child's terminal.
func (p *pipeShell) SendKeys(text string, pressEnter bool) error {
	if err := p.guard(); err != nil {
		return err
	}
	if p.busy() {
		if !IsControlChord(text) {
			return fmt.Errorf("%w: the shell backend cannot deliver input to a running command; use the tmux or subprocess backend for interactive processes", ErrInputUnsupported)
		}
		chord := strings.TrimSpace(text)
		if strings.EqualFold(chord[len(chord)-1:], "c") {
			if !p.Interrupt() {
				return fmt.Errorf("interrupt failed")
			}
			return nil
		}
		data, _ := encodeKeys(text)
		_, err := p.stdin.Write(data)
		return err
	}
	if _, err := io.WriteString(p.stdin, text); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	if pressEnter {
		if err := p.writeLine(""); err != nil {
			return err
		}
		text += "\n"
	}
	// A pipe has no tty echo: mirror the submitted line into the buffer the
	// way a terminal would display it, so the screen tail stops being the
	// previous prompt while the command runs.
	p.buffer.Write([]byte(text))
	return nil
}

func (p *pipeShell) busy() bool {
	select {
	case <-p.exited:
		return false
	default:
	}
	return !EndsWithPrompt(p.snapshot())
}

func (p *pipeShell) ReadScreen() (string, error) {
	if err := p.guard(); err != nil {
		return "", err
	}
	select {
	case <-p.exited:
		return "", fmt.Errorf("shell process exited")
	default:
	}
	return p.snapshot(), nil
}

func (p *pipeShell) ClearScreen() error {
	if err := p.guard(); err != nil {
		return err
	}
	return p.freshPrompt()
}

// freshPrompt drops the buffer and waits for the shell to render a new
// prompt into it, so the next screen read starts from a known state instead
// of racing the redraw.
func (p *pipeShell) freshPrompt() error {
	p.buffer.Reset()
	if err := p.writeLine(""); err != nil {
		return err
	}
	p.waitFor(2*time.Second, EndsWithPrompt)
	return nil
}

func (p *pipeShell) Interrupt() bool {
	if err := p.guard(); err != nil {
		return false
	}
	if err := interruptGroup(p.cmd.Process.Pid); err != nil {
		p.logger.Warn("interrupt failed", zap.Error(err))
		return false
	}
	return true
}

func (p *pipeShell) IsRunning() bool {
	if err := p.guard(); err != nil {
		return false
	}
	return p.busy()
}

func (p *pipeShell) IsPlatformShell() bool { return p.platform }

// Close asks the shell to exit and escalates through SIGTERM to SIGKILL.
func (p *pipeShell) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cmd == nil {
		return nil
	}
	if err := p.writeLine("exit"); err == nil && p.waitExit(2*time.Second) {
		p.shutdown()
		return nil
	}
	if err := terminateGroup(p.cmd.Process.Pid); err == nil && p.waitExit(2*time.Second) {
		p.shutdown()
		return nil
	}
	if err := killGroup(p.cmd.Process.Pid); err != nil {
		p.logger.Warn("kill process group failed", zap.Error(err))
	}
	p.waitExit(time.Second)
	p.shutdown()
	return nil
}

func (p *pipeShell) waitExit(timeout time.Duration) bool {
	select {
	case <-p.exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *pipeShell) shutdown() {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.readerDone != nil {
		select {
		case <-p.readerDone:
		case <-time.After(time.Second):
		}
	}
}
