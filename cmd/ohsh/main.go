package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/All-Hands-AI/agent-sdk-go/internal/config"
	"github.com/All-Hands-AI/agent-sdk-go/internal/core"
	"github.com/All-Hands-AI/agent-sdk-go/internal/environment"
	"github.com/All-Hands-AI/agent-sdk-go/internal/history"
	"github.com/All-Hands-AI/agent-sdk-go/pkg/terminal"
)

var BUILD_VERSION = "dev"

var command = flag.String("c", "", "run a single command and exit")
var backendFlag = flag.String("backend", "", "terminal backend (tmux, subprocess, shell, powershell)")
var workDir = flag.String("workdir", "", "starting directory for the terminal session")
var timeoutFlag = flag.Duration("timeout", 0, "hard timeout for the command given via -c")

var helpFlag = flag.Bool("h", false, "display help information")
var versionFlag = flag.Bool("ver", false, "display build version")

const helpText = `ohsh - a persistent terminal session for command execution

USAGE:
  ohsh [options]

MODES:
  ohsh                    Start an interactive session
  ohsh -c "command"       Execute a single command

The session keeps one shell alive across commands: working directory and
environment persist, long-running commands can be polled with an empty
command, and C-c interrupts the foreground process.

OPTIONS:
`

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(BUILD_VERSION)
		return
	}

	if *helpFlag {
		fmt.Print(helpText)
		flag.PrintDefaults()
		return
	}

	cfg, err := config.LoadConfig(core.ConfigFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initializeLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // Flush any buffered log entries

	logger.Info("-------- new ohsh session --------", zap.Any("args", os.Args))

	var recorder terminal.Recorder
	if cfg.HistoryEnabled {
		historyManager, err := history.NewHistoryManager(core.HistoryFile())
		if err != nil {
			logger.Warn("history disabled", zap.Error(err))
		} else {
			recorder = historyManager
		}
	}

	backend := cfg.Backend
	if *backendFlag != "" {
		backend = *backendFlag
	}
	dir := cfg.WorkDir
	if *workDir != "" {
		dir = *workDir
	}

	session, err := terminal.NewSession(terminal.Options{
		WorkDir:         dir,
		Backend:         terminal.BackendType(backend),
		NoChangeTimeout: cfg.NoChangeTimeout(),
		Recorder:        recorder,
		Logger:          logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := session.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start terminal session: %v\n", err)
		os.Exit(1)
	}
	defer session.Close()

	if *command != "" {
		code := runOnce(session, *command, *timeoutFlag)
		session.Close()
		logger.Sync()
		os.Exit(code)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		session.Close()
		fmt.Fprintln(os.Stderr, "interactive mode requires a terminal; use -c to run a command")
		os.Exit(1)
	}

	runInteractive(session, logger)
}

func runOnce(session *terminal.Session, command string, timeout time.Duration) int {
	result, err := session.Execute(terminal.ExecuteRequest{
		Command: command,
		Timeout: timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println(result.Text())
	if result.Error || result.ExitCode == terminal.ExitCodeRunning {
		return 1
	}
	return result.ExitCode
}

func runInteractive(session *terminal.Session, logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Printf("ohsh:%s> ", session.Cwd())
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := scanner.Text()
		if line == "exit" {
			return
		}

		result, err := session.Execute(terminal.ExecuteRequest{Command: line})
		if err != nil {
			logger.Error("execute failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return
		}
		fmt.Println(result.Text())
	}
}

func initializeLogger() (*zap.Logger, error) {
	logLevel := environment.GetLogLevel()
	if BUILD_VERSION == "dev" {
		logLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	if environment.ShouldCleanLogFile() {
		os.Remove(core.LogFile())
	}

	// Logs go to a file so they never interleave with terminal output.
	// Use `tail -f ~/.ohsh/ohsh.log` to monitor logs in real-time.
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = logLevel
	loggerConfig.OutputPaths = []string{
		core.LogFile(),
	}

	return loggerConfig.Build()
}
