package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imishinist/trainctl/internal/events"
)

// PublishOptions configures one publication of harvested results.
type PublishOptions struct {
	// RunName names the tracking run; a uuid-suffixed name is
	// generated when empty.
	RunName string
	// Params are logged as run parameters, typically the flattened
	// run configuration.
	Params map[string]string
	// Checkpoint, when set, is uploaded as the run's checkpoint
	// artifact.
	Checkpoint string

	Log *zap.Logger
}

// Publish creates a tracking run and pushes every scalar series of
// the accumulator into it, followed by the parameters and the
// checkpoint artifact. The run ends FINISHED on success and FAILED if
// any upload step errors.
func (c *Client) Publish(ctx context.Context, acc *events.Accumulator, opts PublishOptions) (*RunInfo, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	runName := opts.RunName
	if runName == "" {
		runName = "harness-" + uuid.NewString()[:8]
	}

	info, err := c.CreateRun(ctx, runName)
	if err != nil {
		return nil, err
	}
	log.Info("created tracking run",
		zap.String("run_id", info.RunID),
		zap.String("run_name", runName))

	if err := c.publishContents(ctx, info.RunID, acc, opts); err != nil {
		if endErr := c.EndRun(ctx, info.RunID, RunStatusFailed); endErr != nil {
			log.Warn("failed to mark run failed", zap.Error(endErr))
		}
		return nil, err
	}

	if err := c.EndRun(ctx, info.RunID, RunStatusFinished); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) publishContents(ctx context.Context, runID string, acc *events.Accumulator, opts PublishOptions) error {
	if len(opts.Params) > 0 {
		if err := c.LogParams(ctx, runID, opts.Params); err != nil {
			return err
		}
	}

	count := 0
	for _, tag := range acc.ScalarTags() {
		series, err := acc.Scalars(tag)
		if err != nil {
			return err
		}
		for _, point := range series {
			ts := time.Unix(0, int64(point.WallTime*1e9))
			if err := c.LogMetric(ctx, runID, tag, point.Value, ts, point.Step); err != nil {
				return err
			}
			count++
		}
	}

	if opts.Checkpoint != "" {
		if err := c.UploadArtifact(ctx, runID, opts.Checkpoint, "checkpoints/checkpoint.pt"); err != nil {
			return err
		}
	}

	if count == 0 {
		return fmt.Errorf("event log %s holds no scalar series to publish", acc.Path())
	}
	return nil
}
