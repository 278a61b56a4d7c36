package terminal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	t.Run("unknown backend is a construction error", func(t *testing.T) {
		_, err := NewSession(Options{Backend: "screen"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown terminal backend")
	})

	t.Run("defaults are applied", func(t *testing.T) {
		s, err := NewSession(Options{Backend: BackendShell})
		require.NoError(t, err)
		assert.NotEmpty(t, s.workDir)
		assert.NotNil(t, s.logger)
		assert.Equal(t, DefaultNoChangeTimeout, s.noChangeTimeout)
		assert.Equal(t, defaultPollInterval, s.pollInterval)
	})

	t.Run("explicit options are kept", func(t *testing.T) {
		s, err := NewSession(Options{
			Backend:         BackendTmux,
			WorkDir:         "/tmp",
			NoChangeTimeout: 5 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "/tmp", s.workDir)
		assert.Equal(t, 5*time.Second, s.noChangeTimeout)
	})

	t.Run("each named backend constructs", func(t *testing.T) {
		for _, backend := range []BackendType{BackendTmux, BackendSubprocess, BackendShell, BackendPowerShell} {
			_, err := NewSession(Options{Backend: backend})
			assert.NoError(t, err, string(backend))
		}
	})
}
