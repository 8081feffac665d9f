// Package runner defines the training entry point the harness
// invokes. The actual training loop lives in an external trainer
// binary named by the run configuration; this package only knows how
// to hand it a built configuration and wait for it.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/imishinist/trainctl/internal/config"
)

// Runner executes one training run to completion.
type Runner interface {
	Run(ctx context.Context, cfg *config.RunConfig) error
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, cfg *config.RunConfig) error

func (f Func) Run(ctx context.Context, cfg *config.RunConfig) error {
	return f(ctx, cfg)
}

// TrainerCommand extracts the trainer argv from the run
// configuration's trainer.command list and appends the standard run
// arguments. The trainer receives the fully merged config file, so
// flags only carry what it needs to find its inputs and outputs.
func TrainerCommand(cfg *config.RunConfig) (string, []string, error) {
	trainer, ok := cfg.Doc["trainer"].(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("run configuration has no trainer section")
	}

	raw, ok := trainer["command"].([]any)
	if !ok || len(raw) == 0 {
		return "", nil, fmt.Errorf("trainer.command must be a non-empty list")
	}

	argv := make([]string, 0, len(raw)+12)
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return "", nil, fmt.Errorf("trainer.command[%d] is not a string: %v", i, v)
		}
		argv = append(argv, s)
	}

	argv = append(argv,
		"--mode", cfg.Args.Mode,
		"--seed", fmt.Sprintf("%d", cfg.Args.Seed),
		"--config-yml", cfg.Args.ConfigYML,
		"--run-dir", cfg.Args.RunDir,
		"--logdir", cfg.Args.LogDir,
	)
	if cfg.Args.CPU {
		argv = append(argv, "--cpu")
	}

	return argv[0], argv[1:], nil
}

// CommandRunner execs the configured trainer once, in the current
// process group, inheriting stdout and stderr.
type CommandRunner struct {
	log *zap.Logger
}

// NewCommandRunner returns a runner logging through log. A nil log
// disables logging.
func NewCommandRunner(log *zap.Logger) *CommandRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommandRunner{log: log}
}

func (r *CommandRunner) Run(ctx context.Context, cfg *config.RunConfig) error {
	path, args, err := TrainerCommand(cfg)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = cfg.Args.RunDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	r.log.Info("running trainer", zap.String("command", path), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("trainer failed: %w", err)
	}
	return nil
}
