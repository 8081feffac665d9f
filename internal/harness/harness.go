// Package harness orchestrates one training run end to end: build the
// merged configuration, execute the trainer (in-process or as a
// distributed process group), collect the output artifacts, and hand
// back a loaded metrics accumulator.
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/imishinist/trainctl/internal/artifacts"
	"github.com/imishinist/trainctl/internal/config"
	"github.com/imishinist/trainctl/internal/events"
	"github.com/imishinist/trainctl/internal/launch"
	"github.com/imishinist/trainctl/internal/runner"
)

// ConfigFileName is the fixed name the merged configuration is written
// under inside the run directory.
const ConfigFileName = "train_and_val_on_val.yml"

// distributedBackend is forced into the document whenever overrides
// are applied; CPU-only test runs cannot use nccl.
const distributedBackend = "gloo"

// ProcessLauncher launches the worker processes of a distributed run.
// Satisfied by *launch.Launcher.
type ProcessLauncher interface {
	Launch(ctx context.Context, pg launch.ProcessGroupConfig, spec launch.CommandSpec) error
}

// Options configures one orchestrated run.
type Options struct {
	// RunDir is the directory all run outputs land in.
	RunDir string
	// InputYAML is the base configuration document.
	InputYAML string
	// Overrides is deep-merged onto the base document. When non-nil
	// the document's backend is forced to gloo.
	Overrides config.Document
	// RunArgs overrides individual run arguments after the defaults
	// are built.
	RunArgs *config.ArgOverrides
	// SaveCheckpointTo, when set, moves the run's single checkpoint
	// there after completion.
	SaveCheckpointTo string
	// SavePredictionsTo, when set, moves the run's single predictions
	// file there after completion.
	SavePredictionsTo string
	// WorldSize selects the execution mode: 0 runs the Runner once
	// in-process, a positive value spawns that many worker processes.
	WorldSize int

	// Runner handles the in-process path. Defaults to the command
	// runner execing the configured trainer.
	Runner runner.Runner
	// Launcher handles the distributed path. Defaults to
	// launch.New(Log).
	Launcher ProcessLauncher

	Log *zap.Logger
}

// Execute runs one training run per Options and returns a fully
// reloaded accumulator over the run's single event log. Every failure
// propagates; nothing is retried.
func Execute(ctx context.Context, opts Options) (*events.Accumulator, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	cfg, err := buildRunConfig(opts)
	if err != nil {
		return nil, err
	}

	log.Info("starting run",
		zap.String("run_dir", opts.RunDir),
		zap.Int("world_size", opts.WorldSize))

	if opts.WorldSize > 0 {
		if err := launchDistributed(ctx, opts, cfg, log); err != nil {
			return nil, err
		}
	} else {
		r := opts.Runner
		if r == nil {
			r = runner.NewCommandRunner(log)
		}
		if err := r.Run(ctx, cfg); err != nil {
			return nil, fmt.Errorf("run failed: %w", err)
		}
	}

	if opts.SaveCheckpointTo != "" {
		if err := artifacts.Collect(artifacts.CheckpointPattern(opts.RunDir), opts.SaveCheckpointTo); err != nil {
			return nil, fmt.Errorf("failed to collect checkpoint: %w", err)
		}
		log.Info("collected checkpoint", zap.String("path", opts.SaveCheckpointTo))
	}
	if opts.SavePredictionsTo != "" {
		if err := artifacts.Collect(artifacts.PredictionsPattern(opts.RunDir), opts.SavePredictionsTo); err != nil {
			return nil, fmt.Errorf("failed to collect predictions: %w", err)
		}
		log.Info("collected predictions", zap.String("path", opts.SavePredictionsTo))
	}

	return events.Open(cfg.Args.LogDir)
}

// buildRunConfig merges the base document with the overrides, writes
// the result into the run directory, and layers the run arguments on
// top of the parsed baseline vector.
func buildRunConfig(opts Options) (*config.RunConfig, error) {
	if opts.RunDir == "" {
		return nil, fmt.Errorf("run directory must be set")
	}
	if err := os.MkdirAll(opts.RunDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	doc, err := config.LoadDocument(opts.InputYAML)
	if err != nil {
		return nil, err
	}
	doc = config.Clone(doc)

	if opts.Overrides != nil {
		doc = config.Merge(doc, opts.Overrides)
		doc["backend"] = distributedBackend
	}

	configPath := filepath.Join(opts.RunDir, ConfigFileName)
	if err := config.WriteDocument(doc, configPath); err != nil {
		return nil, err
	}

	args, overrideArgs, err := config.ParseKnown(config.BaselineArgs())
	if err != nil {
		return nil, err
	}

	args.RunDir = opts.RunDir
	args.LogDir = filepath.Join(opts.RunDir, "logs")
	args.ConfigYML = configPath
	if opts.RunArgs != nil {
		opts.RunArgs.Apply(args)
	}

	return config.Build(args, overrideArgs)
}

func launchDistributed(ctx context.Context, opts Options, cfg *config.RunConfig, log *zap.Logger) error {
	pg := launch.ProcessGroupConfig{
		Backend:     distributedBackend,
		WorldSize:   opts.WorldSize,
		GPGroupSize: 1,
		UseGP:       false,
	}
	if backend, ok := cfg.Doc["backend"].(string); ok && backend != "" {
		pg.Backend = backend
	}

	path, args, err := runner.TrainerCommand(cfg)
	if err != nil {
		return err
	}
	spec := launch.CommandSpec{
		Path:   path,
		Args:   args,
		Dir:    cfg.Args.RunDir,
		LogDir: filepath.Join(cfg.Args.LogDir, "workers"),
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = launch.New(log)
	}

	if err := launcher.Launch(ctx, pg, spec); err != nil {
		return fmt.Errorf("distributed run failed: %w", err)
	}
	return nil
}
