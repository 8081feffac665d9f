package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imishinist/trainctl/internal/config"
	"github.com/imishinist/trainctl/internal/events"
	"github.com/imishinist/trainctl/internal/logging"
	"github.com/imishinist/trainctl/internal/tracking"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish harvested results to a tracking server",
	Long: `Read a finished run's event log and push its scalar series, run
configuration, and checkpoint to an MLflow tracking server.`,
	Example: `  # Publish a run's metrics and config
  trainctl publish --logdir /tmp/run1/logs --config /tmp/run1/train_and_val_on_val.yml \
    --experiment-id 7 --run-name baseline

  # Attach the harvested checkpoint
  trainctl publish --logdir /tmp/run1/logs --checkpoint /tmp/run1.pt --experiment-id 7`,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().String("logdir", "", "Run log directory (required)")
	publishCmd.Flags().String("run-name", "", "Tracking run name (default: generated)")
	publishCmd.Flags().String("config", "", "Merged run configuration to log as parameters")
	publishCmd.Flags().String("checkpoint", "", "Checkpoint file to upload as an artifact")
	publishCmd.MarkFlagRequired("logdir")
}

func runPublish(cmd *cobra.Command, args []string) error {
	log, err := logging.New(viper.GetString("log_level"), false)
	if err != nil {
		return err
	}
	defer log.Sync()

	logDir, _ := cmd.Flags().GetString("logdir")
	runName, _ := cmd.Flags().GetString("run-name")
	configYAML, _ := cmd.Flags().GetString("config")
	checkpoint, _ := cmd.Flags().GetString("checkpoint")

	acc, err := events.Open(logDir)
	if err != nil {
		return err
	}

	var params map[string]string
	if configYAML != "" {
		doc, err := config.LoadDocument(configYAML)
		if err != nil {
			return err
		}
		params = config.Flatten(doc)
	}

	client, err := tracking.NewClient(tracking.NewConfig())
	if err != nil {
		return err
	}

	info, err := client.Publish(cmd.Context(), acc, tracking.PublishOptions{
		RunName:    runName,
		Params:     params,
		Checkpoint: checkpoint,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("failed to publish run: %w", err)
	}

	// Output only run ID for shell scripting
	fmt.Printf("%s\n", info.RunID)

	return nil
}
