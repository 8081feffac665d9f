package launch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestHelperWorker is not a real test: Launch re-executes the test
// binary with this function selected to play the role of one worker.
// It records its rank environment and exits.
func TestHelperWorker(t *testing.T) {
	if os.Getenv("TRAINCTL_WORKER_HELPER") != "1" {
		return
	}

	env, err := FromEnviron()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	dir := os.Getenv("TRAINCTL_WORKER_DIR")
	content := fmt.Sprintf("world_size=%d backend=%s addr=%s:%d",
		env.WorldSize, env.Backend, env.MasterAddr, env.MasterPort)
	path := filepath.Join(dir, fmt.Sprintf("rank-%d", env.Rank))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if failRank := os.Getenv("TRAINCTL_WORKER_FAIL_RANK"); failRank != "" {
		if rank, _ := strconv.Atoi(failRank); rank == env.Rank {
			os.Exit(3)
		}
	}

	os.Exit(0)
}

func helperSpec(dir string) CommandSpec {
	return CommandSpec{
		Path:   os.Args[0],
		Args:   []string{"-test.run=TestHelperWorker"},
		LogDir: filepath.Join(dir, "worker-logs"),
	}
}

func TestLaunch(t *testing.T) {
	t.Run("spawns one worker per rank", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("TRAINCTL_WORKER_HELPER", "1")
		t.Setenv("TRAINCTL_WORKER_DIR", dir)

		pg := ProcessGroupConfig{Backend: "gloo", WorldSize: 3, GPGroupSize: 1}
		l := New(zaptest.NewLogger(t))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		require.NoError(t, l.Launch(ctx, pg, helperSpec(dir)))

		for rank := 0; rank < 3; rank++ {
			content, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("rank-%d", rank)))
			require.NoError(t, err, "rank %d never initialized", rank)
			assert.Contains(t, string(content), "world_size=3")
			assert.Contains(t, string(content), "backend=gloo")
		}

		// Worker output is namespaced per rank.
		for rank := 0; rank < 3; rank++ {
			_, err := os.Stat(filepath.Join(dir, "worker-logs", fmt.Sprintf("worker-%d.log", rank)))
			assert.NoError(t, err)
		}
	})

	t.Run("first failure names the rank", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("TRAINCTL_WORKER_HELPER", "1")
		t.Setenv("TRAINCTL_WORKER_DIR", dir)
		t.Setenv("TRAINCTL_WORKER_FAIL_RANK", "1")

		pg := ProcessGroupConfig{Backend: "gloo", WorldSize: 2, GPGroupSize: 1}
		l := New(zaptest.NewLogger(t))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := l.Launch(ctx, pg, helperSpec(dir))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rank 1")
	})

	t.Run("invalid topology is rejected before spawning", func(t *testing.T) {
		l := New(nil)
		err := l.Launch(context.Background(), ProcessGroupConfig{Backend: "gloo"}, CommandSpec{Path: "/bin/true"})
		assert.Error(t, err)
	})
}

func TestProcessGroupConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		pg      ProcessGroupConfig
		wantErr bool
	}{
		{"valid", ProcessGroupConfig{Backend: "gloo", WorldSize: 2, GPGroupSize: 1}, false},
		{"valid gp", ProcessGroupConfig{Backend: "gloo", WorldSize: 4, GPGroupSize: 2, UseGP: true}, false},
		{"missing backend", ProcessGroupConfig{WorldSize: 2, GPGroupSize: 1}, true},
		{"zero world size", ProcessGroupConfig{Backend: "gloo", GPGroupSize: 1}, true},
		{"zero gp group size", ProcessGroupConfig{Backend: "gloo", WorldSize: 2}, true},
		{"indivisible gp group", ProcessGroupConfig{Backend: "gloo", WorldSize: 3, GPGroupSize: 2, UseGP: true}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.pg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRankEnvRoundTrip(t *testing.T) {
	env := RankEnv{
		Rank:        2,
		LocalRank:   2,
		WorldSize:   4,
		MasterAddr:  "127.0.0.1",
		MasterPort:  29500,
		Backend:     "gloo",
		GPGroupSize: 1,
	}

	for _, pair := range env.Environ() {
		key, value, found := cut(pair)
		require.True(t, found)
		t.Setenv(key, value)
	}

	got, err := FromEnviron()
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestFromEnvironMissing(t *testing.T) {
	for _, name := range []string{EnvRank, EnvLocalRank, EnvWorldSize, EnvMasterAddr, EnvMasterPort, EnvBackend, EnvGPGroupSize} {
		t.Setenv(name, "")
	}

	_, err := FromEnviron()
	assert.Error(t, err)
}

func cut(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			return pair[:i], pair[i+1:], true
		}
	}
	return pair, "", false
}
