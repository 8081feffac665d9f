// Package launch spawns the worker processes of a distributed
// training run. Each worker is an OS process carrying its rank in the
// environment; coordination beyond rank assignment (collectives,
// gradient sync) belongs to the trainer's communication backend.
package launch

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProcessGroupConfig describes the distributed topology of one run.
// Immutable once constructed.
type ProcessGroupConfig struct {
	// Backend is the communication backend identifier handed to the
	// trainer (e.g. "gloo", "nccl").
	Backend string
	// WorldSize is the number of worker processes to spawn.
	WorldSize int
	// GPGroupSize is the size of each gradient-parallel sub-group.
	GPGroupSize int
	// UseGP enables the gradient-parallel mode.
	UseGP bool
}

// Validate checks the topology for internal consistency.
func (pg ProcessGroupConfig) Validate() error {
	if pg.Backend == "" {
		return fmt.Errorf("process group backend must be set")
	}
	if pg.WorldSize < 1 {
		return fmt.Errorf("world size must be positive, got %d", pg.WorldSize)
	}
	if pg.GPGroupSize < 1 {
		return fmt.Errorf("gp group size must be positive, got %d", pg.GPGroupSize)
	}
	if pg.UseGP && pg.WorldSize%pg.GPGroupSize != 0 {
		return fmt.Errorf("world size %d is not divisible by gp group size %d", pg.WorldSize, pg.GPGroupSize)
	}
	return nil
}

// CommandSpec is the worker command launched once per rank.
type CommandSpec struct {
	Path string
	Args []string
	Dir  string
	// LogDir, when set, redirects each worker's combined output to
	// worker-<rank>.log inside it instead of the launcher's stdout.
	LogDir string
}

// Launcher spawns one worker process per rank and waits for all of
// them. The first worker failure cancels the remaining workers.
type Launcher struct {
	log *zap.Logger
}

// New returns a launcher logging through log. A nil log disables
// logging.
func New(log *zap.Logger) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Launcher{log: log}
}

// Launch runs the command once per rank with the rank environment set
// and blocks until every worker exits. The error identifies the first
// failing rank.
func (l *Launcher) Launch(ctx context.Context, pg ProcessGroupConfig, spec CommandSpec) error {
	if err := pg.Validate(); err != nil {
		return fmt.Errorf("invalid process group config: %w", err)
	}

	port, err := freePort()
	if err != nil {
		return fmt.Errorf("failed to pick a rendezvous port: %w", err)
	}

	l.log.Info("launching process group",
		zap.String("backend", pg.Backend),
		zap.Int("world_size", pg.WorldSize),
		zap.Int("gp_group_size", pg.GPGroupSize),
		zap.Bool("use_gp", pg.UseGP),
		zap.Int("master_port", port))

	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < pg.WorldSize; rank++ {
		rank := rank
		g.Go(func() error {
			env := RankEnv{
				Rank:        rank,
				LocalRank:   rank,
				WorldSize:   pg.WorldSize,
				MasterAddr:  "127.0.0.1",
				MasterPort:  port,
				Backend:     pg.Backend,
				GPGroupSize: pg.GPGroupSize,
			}
			if err := l.runWorker(ctx, env, spec); err != nil {
				return fmt.Errorf("rank %d failed: %w", rank, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	l.log.Info("process group finished", zap.Int("world_size", pg.WorldSize))
	return nil
}

func (l *Launcher) runWorker(ctx context.Context, env RankEnv, spec CommandSpec) error {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), env.Environ()...)

	if spec.LogDir != "" {
		if err := os.MkdirAll(spec.LogDir, 0755); err != nil {
			return fmt.Errorf("failed to create worker log directory: %w", err)
		}
		logPath := filepath.Join(spec.LogDir, fmt.Sprintf("worker-%d.log", env.Rank))
		f, err := os.Create(logPath)
		if err != nil {
			return fmt.Errorf("failed to create worker log %s: %w", logPath, err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	l.log.Info("starting worker", zap.Int("rank", env.Rank), zap.String("command", spec.Path))
	if err := cmd.Run(); err != nil {
		return err
	}
	l.log.Info("worker finished", zap.Int("rank", env.Rank))
	return nil
}

// freePort asks the kernel for an unused TCP port on loopback. The
// port is released before the workers start, so a collision is
// possible but unlikely within one test run.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
