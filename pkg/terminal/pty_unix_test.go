//go:build !windows

package terminal

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not available")
	}
}

// newLiveSession wires a Session to a real backend with test-friendly
// timeouts.
func newLiveSession(t *testing.T, construct func() (Backend, error)) *Session {
	t.Helper()
	s := &Session{
		workDir:         t.TempDir(),
		noChangeTimeout: 15 * time.Second,
		pollInterval:    50 * time.Millisecond,
		logger:          zap.NewNop(),
		newBackend:      construct,
	}
	require.NoError(t, s.Initialize())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPTYBackendExecute(t *testing.T) {
	requireBash(t)
	dir := t.TempDir()
	s := newLiveSession(t, func() (Backend, error) {
		return NewPTYBackend(dir, zap.NewNop()), nil
	})

	result, err := s.Execute(ExecuteRequest{Command: "echo hello"})
	require.NoError(t, err)
	assert.False(t, result.TimedOut)
	assert.False(t, result.Error)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "hello")
	assert.Equal(t, StatusCompleted, s.Status())

	t.Run("exit code is recovered", func(t *testing.T) {
		result, err := s.Execute(ExecuteRequest{Command: "sh -c 'exit 3'"})
		require.NoError(t, err)
		assert.Equal(t, 3, result.ExitCode)
	})
}

func TestPTYBackendInitializeFailure(t *testing.T) {
	requireBash(t)
	b := NewPTYBackend("/nonexistent/ohsh/workdir", zap.NewNop())
	err := b.Initialize()
	require.Error(t, err)
	assert.NoError(t, b.Close())
}

func TestPTYBackendCloseIdempotent(t *testing.T) {
	requireBash(t)
	b := NewPTYBackend(t.TempDir(), zap.NewNop())
	require.NoError(t, b.Initialize())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.ReadScreen()
	assert.ErrorIs(t, err, ErrClosed)
}
