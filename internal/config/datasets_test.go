package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOC20LMDBTrainValFromPaths(t *testing.T) {
	t.Run("precomputed norms carry literal constants", func(t *testing.T) {
		datasets := OC20LMDBTrainValFromPaths("/data/train", "/data/val", "", false)

		train := datasets["train"].(map[string]any)
		assert.Equal(t, "/data/train", train["src"])
		assert.Equal(t, "lmdb", train["format"])
		assert.Equal(t, map[string]any{"y": "energy", "force": "forces"}, train["key_mapping"])

		normalizer := train["transforms"].(map[string]any)["normalizer"].(map[string]any)
		energy := normalizer["energy"].(map[string]any)
		forces := normalizer["forces"].(map[string]any)
		assert.Equal(t, -0.7554450631141663, energy["mean"])
		assert.Equal(t, 2.887317180633545, energy["stdev"])
		assert.Equal(t, 0.0, forces["mean"])
		assert.Equal(t, 2.887317180633545, forces["stdev"])
	})

	t.Run("otf norms request a fit instead of constants", func(t *testing.T) {
		datasets := OC20LMDBTrainValFromPaths("/data/train", "", "", true)

		transforms := datasets["train"].(map[string]any)["transforms"].(map[string]any)
		refs := transforms["element_references"].(map[string]any)
		refFit, ok := refs["fit"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, []any{"energy"}, refFit["targets"])
		assert.Equal(t, 4, refFit["batch_size"])
		assert.Equal(t, 10, refFit["num_batches"])
		assert.Equal(t, "gelsd", refFit["driver"])

		normalizer := transforms["normalizer"].(map[string]any)
		normFit, ok := normalizer["fit"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 4, normFit["batch_size"])

		// No literal normalization constants anywhere in the otf form.
		_, hasEnergy := normalizer["energy"]
		_, hasForces := normalizer["forces"]
		assert.False(t, hasEnergy)
		assert.False(t, hasForces)
	})

	t.Run("splits follow the provided paths", func(t *testing.T) {
		datasets := OC20LMDBTrainValFromPaths("/t", "/v", "/s", false)
		assert.Contains(t, datasets, "train")
		assert.Equal(t, map[string]any{"src": "/v", "format": "lmdb"}, datasets["val"])
		assert.Equal(t, map[string]any{"src": "/s", "format": "lmdb"}, datasets["test"])

		onlyVal := OC20LMDBTrainValFromPaths("", "/v", "", false)
		assert.NotContains(t, onlyVal, "train")
		assert.NotContains(t, onlyVal, "test")
		assert.Contains(t, onlyVal, "val")
	})
}
