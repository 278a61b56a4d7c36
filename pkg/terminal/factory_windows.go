//go:build windows

package terminal

// defaultBackend prefers PowerShell on Windows and falls back to the
// platform shell wrapper, which resolves to PowerShell as well.
func defaultBackend() BackendType {
	if _, err := findPowerShell(); err == nil {
		return BackendPowerShell
	}
	return BackendShell
}
