package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/imishinist/trainctl/internal/artifacts"
)

func writeLog(t *testing.T, logDir, writerDir string) *Writer {
	t.Helper()
	w, err := NewWriter(filepath.Join(logDir, "tensorboard", writerDir))
	require.NoError(t, err)
	return w
}

func TestAccumulator(t *testing.T) {
	t.Run("scalar series round trip", func(t *testing.T) {
		logDir := t.TempDir()
		w := writeLog(t, logDir, "run0")
		require.NoError(t, w.WriteScalar("train/loss", 0, 1.5))
		require.NoError(t, w.WriteScalar("train/loss", 1, 1.2))
		require.NoError(t, w.WriteScalar("val/energy_mae", 1, 0.7))
		require.NoError(t, w.Close())

		acc := NewAccumulator(w.Path())
		require.NoError(t, acc.Reload())

		loss, err := acc.Scalars("train/loss")
		require.NoError(t, err)
		require.Len(t, loss, 2)
		assert.Equal(t, int64(0), loss[0].Step)
		assert.Equal(t, 1.5, loss[0].Value)
		assert.Equal(t, 1.2, loss[1].Value)
		assert.Greater(t, loss[0].WallTime, 0.0)

		assert.Equal(t, []string{"train/loss", "val/energy_mae"}, acc.ScalarTags())
	})

	t.Run("histogram series", func(t *testing.T) {
		logDir := t.TempDir()
		w := writeLog(t, logDir, "run0")
		require.NoError(t, w.WriteHistogram("model/forces", 3, Histogram{
			Min: -1, Max: 1, Num: 10, Sum: 0.5, SumSquares: 2.0,
		}))
		require.NoError(t, w.Close())

		acc := NewAccumulator(w.Path())
		require.NoError(t, acc.Reload())

		hist, err := acc.Histograms("model/forces")
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, int64(3), hist[0].Step)
		assert.Equal(t, 10.0, hist[0].Histogram.Num)
		assert.Equal(t, []string{"model/forces"}, acc.HistogramTags())
	})

	t.Run("unknown tag errors", func(t *testing.T) {
		logDir := t.TempDir()
		w := writeLog(t, logDir, "run0")
		require.NoError(t, w.WriteScalar("a", 0, 1))
		require.NoError(t, w.Close())

		acc := NewAccumulator(w.Path())
		require.NoError(t, acc.Reload())

		_, err := acc.Scalars("missing")
		assert.Error(t, err)
	})

	t.Run("reload replaces previous state", func(t *testing.T) {
		logDir := t.TempDir()
		w := writeLog(t, logDir, "run0")
		require.NoError(t, w.WriteScalar("a", 0, 1))

		acc := NewAccumulator(w.Path())
		require.NoError(t, acc.Reload())

		require.NoError(t, w.WriteScalar("a", 1, 2))
		require.NoError(t, w.Close())
		require.NoError(t, acc.Reload())

		series, err := acc.Scalars("a")
		require.NoError(t, err)
		assert.Len(t, series, 2)
	})

	t.Run("corrupt line fails the whole reload", func(t *testing.T) {
		logDir := t.TempDir()
		w := writeLog(t, logDir, "run0")
		require.NoError(t, w.WriteScalar("a", 0, 1))
		require.NoError(t, w.Close())

		f, err := os.OpenFile(w.Path(), os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.WriteString("not json\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		acc := NewAccumulator(w.Path())
		assert.Error(t, acc.Reload())
	})
}

func TestOpen(t *testing.T) {
	t.Run("exactly one event file", func(t *testing.T) {
		logDir := t.TempDir()
		w := writeLog(t, logDir, "run0")
		require.NoError(t, w.WriteScalar("train/loss", 0, 1.0))
		require.NoError(t, w.Close())

		acc, err := Open(logDir)
		require.NoError(t, err)
		assert.Equal(t, w.Path(), acc.Path())

		series, err := acc.Scalars("train/loss")
		require.NoError(t, err)
		assert.Len(t, series, 1)
	})

	t.Run("empty log dir fails deterministically", func(t *testing.T) {
		_, err := Open(t.TempDir())
		assert.True(t, artifacts.IsCardinality(err))
	})

	t.Run("two event files fail deterministically", func(t *testing.T) {
		logDir := t.TempDir()
		w0 := writeLog(t, logDir, "run0")
		require.NoError(t, w0.Close())
		w1 := writeLog(t, logDir, "run1")
		require.NoError(t, w1.Close())

		_, err := Open(logDir)
		assert.True(t, artifacts.IsCardinality(err))
	})
}

func TestWaitForLogFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("returns immediately when present", func(t *testing.T) {
		logDir := t.TempDir()
		w := writeLog(t, logDir, "run0")
		require.NoError(t, w.Close())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		path, err := WaitForLogFile(ctx, logDir)
		require.NoError(t, err)
		assert.Equal(t, w.Path(), path)
	})

	t.Run("sees a late-created file", func(t *testing.T) {
		logDir := t.TempDir()

		done := make(chan string, 1)
		go func() {
			time.Sleep(100 * time.Millisecond)
			w, err := NewWriter(filepath.Join(logDir, "tensorboard", "run0"))
			if err != nil {
				done <- ""
				return
			}
			w.Close()
			done <- w.Path()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		path, err := WaitForLogFile(ctx, logDir)
		require.NoError(t, err)
		assert.Equal(t, <-done, path)
	})

	t.Run("times out when nothing appears", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		_, err := WaitForLogFile(ctx, t.TempDir())
		assert.Error(t, err)
	})
}
