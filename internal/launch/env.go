package launch

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables carrying the distributed topology to each
// worker process. Names follow the torch.distributed convention so
// trainers can consume them without translation.
const (
	EnvRank        = "RANK"
	EnvLocalRank   = "LOCAL_RANK"
	EnvWorldSize   = "WORLD_SIZE"
	EnvMasterAddr  = "MASTER_ADDR"
	EnvMasterPort  = "MASTER_PORT"
	EnvBackend     = "DIST_BACKEND"
	EnvGPGroupSize = "GP_GROUP_SIZE"
)

// RankEnv is the per-worker slice of a process group: the worker's
// rank plus everything needed to rendezvous with the other ranks.
type RankEnv struct {
	Rank        int
	LocalRank   int
	WorldSize   int
	MasterAddr  string
	MasterPort  int
	Backend     string
	GPGroupSize int
}

// Environ renders the rank environment as KEY=value pairs suitable
// for exec.Cmd.Env.
func (e RankEnv) Environ() []string {
	return []string{
		fmt.Sprintf("%s=%d", EnvRank, e.Rank),
		fmt.Sprintf("%s=%d", EnvLocalRank, e.LocalRank),
		fmt.Sprintf("%s=%d", EnvWorldSize, e.WorldSize),
		fmt.Sprintf("%s=%s", EnvMasterAddr, e.MasterAddr),
		fmt.Sprintf("%s=%d", EnvMasterPort, e.MasterPort),
		fmt.Sprintf("%s=%s", EnvBackend, e.Backend),
		fmt.Sprintf("%s=%d", EnvGPGroupSize, e.GPGroupSize),
	}
}

// FromEnviron reconstructs the rank environment inside a spawned
// worker. Each worker initializes its own rank independently; the
// launcher never passes rank state through any other channel.
func FromEnviron() (RankEnv, error) {
	var env RankEnv
	var err error

	if env.Rank, err = intEnv(EnvRank); err != nil {
		return RankEnv{}, err
	}
	if env.LocalRank, err = intEnv(EnvLocalRank); err != nil {
		return RankEnv{}, err
	}
	if env.WorldSize, err = intEnv(EnvWorldSize); err != nil {
		return RankEnv{}, err
	}
	if env.MasterPort, err = intEnv(EnvMasterPort); err != nil {
		return RankEnv{}, err
	}
	if env.GPGroupSize, err = intEnv(EnvGPGroupSize); err != nil {
		return RankEnv{}, err
	}

	env.MasterAddr = os.Getenv(EnvMasterAddr)
	if env.MasterAddr == "" {
		return RankEnv{}, fmt.Errorf("%s is not set", EnvMasterAddr)
	}
	env.Backend = os.Getenv(EnvBackend)
	if env.Backend == "" {
		return RankEnv{}, fmt.Errorf("%s is not set", EnvBackend)
	}

	return env, nil
}

func intEnv(name string) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is not set", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, raw, err)
	}
	return v, nil
}
