//go:build !windows

package terminal

// defaultBackend prefers tmux when the binary is present and falls back to
// the pipe-based platform shell.
func defaultBackend() BackendType {
	if _, ok := TmuxAvailable(); ok {
		return BackendTmux
	}
	return BackendShell
}
