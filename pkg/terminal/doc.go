// Package terminal executes shell commands inside a persistent interactive
// terminal and returns their output, exit code, and working directory.
//
// A Session owns one Backend (tmux, pty subprocess, pipe shell, or
// PowerShell) and layers the command lifecycle on top: prompt-marker
// detection, output continuation across calls, soft and hard timeouts,
// interrupts, and session reset. Backends stay dumb byte movers; all policy
// lives in the Session.
package terminal
