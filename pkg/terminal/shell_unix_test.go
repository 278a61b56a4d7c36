//go:build !windows

package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPlatformShellBackendExecute(t *testing.T) {
	requireBash(t)
	dir := t.TempDir()
	s := newLiveSession(t, func() (Backend, error) {
		return NewPlatformShellBackend(dir, zap.NewNop()), nil
	})

	result, err := s.Execute(ExecuteRequest{Command: "echo hello"})
	require.NoError(t, err)
	assert.False(t, result.TimedOut)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "hello")

	t.Run("exit code is recovered", func(t *testing.T) {
		result, err := s.Execute(ExecuteRequest{Command: "sh -c 'exit 5'"})
		require.NoError(t, err)
		assert.Equal(t, 5, result.ExitCode)
	})
}

// A pipe cannot deliver keystrokes to a foreground child: input while a
// command runs must come back as ErrInputUnsupported, not silently vanish.
func TestPlatformShellBackendRejectsInputWhileBusy(t *testing.T) {
	requireBash(t)
	b := NewPlatformShellBackend(t.TempDir(), zap.NewNop())
	require.NoError(t, b.Initialize())
	defer b.Close()

	require.NoError(t, b.SendKeys("sleep 5", true))
	assert.True(t, b.IsRunning())

	err := b.SendKeys("y", true)
	assert.ErrorIs(t, err, ErrInputUnsupported)
}

func TestPlatformShellBackendInitializeFailure(t *testing.T) {
	requireBash(t)
	b := NewPlatformShellBackend("/nonexistent/ohsh/workdir", zap.NewNop())
	require.Error(t, b.Initialize())
}

func TestPlatformShellBackendCloseIdempotent(t *testing.T) {
	requireBash(t)
	b := NewPlatformShellBackend(t.TempDir(), zap.NewNop())
	require.NoError(t, b.Initialize())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.ReadScreen()
	assert.ErrorIs(t, err, ErrClosed)
}
