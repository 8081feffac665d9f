package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("builds a logger at the requested level", func(t *testing.T) {
		log, err := New("debug", false)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("info suppresses debug", func(t *testing.T) {
		log, err := New("info", true)
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	})

	t.Run("rejects unknown levels", func(t *testing.T) {
		_, err := New("loud", false)
		assert.Error(t, err)
	})
}
