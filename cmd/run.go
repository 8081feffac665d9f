package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/imishinist/trainctl/internal/config"
	"github.com/imishinist/trainctl/internal/harness"
	"github.com/imishinist/trainctl/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one training run",
	Long: `Execute one training run end to end: merge the base configuration
with any overrides, run the trainer (in-process or as a distributed
process group), and collect the requested artifacts.`,
	Example: `  # Single-process run
  trainctl run --run-dir /tmp/run1 --config base.yml

  # Distributed run over two ranks, collecting the checkpoint
  trainctl run --run-dir /tmp/run2 --config base.yml --world-size 2 \
    --save-checkpoint-to /tmp/run2.pt

  # Nested config overrides
  trainctl run --run-dir /tmp/run3 --config base.yml \
    --set optim.max_epochs=2 --set optim.lr=0.001`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("run-dir", "", "Run output directory (required)")
	runCmd.Flags().String("config", "", "Base configuration YAML (required)")
	runCmd.Flags().StringArray("set", []string{}, "Config overrides in dotted.key=value format")
	runCmd.Flags().Int("world-size", 0, "Worker process count (0 = in-process)")
	runCmd.Flags().String("save-checkpoint-to", "", "Move the run's checkpoint here afterwards")
	runCmd.Flags().String("save-predictions-to", "", "Move the run's predictions file here afterwards")
	runCmd.MarkFlagRequired("run-dir")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	log, err := logging.New(viper.GetString("log_level"), false)
	if err != nil {
		return err
	}
	defer log.Sync()

	runDir, _ := cmd.Flags().GetString("run-dir")
	configYAML, _ := cmd.Flags().GetString("config")
	sets, _ := cmd.Flags().GetStringArray("set")
	worldSize, _ := cmd.Flags().GetInt("world-size")
	saveCheckpointTo, _ := cmd.Flags().GetString("save-checkpoint-to")
	savePredictionsTo, _ := cmd.Flags().GetString("save-predictions-to")

	overrides, err := parseSetFlags(sets)
	if err != nil {
		return err
	}

	acc, err := harness.Execute(cmd.Context(), harness.Options{
		RunDir:            runDir,
		InputYAML:         configYAML,
		Overrides:         overrides,
		SaveCheckpointTo:  saveCheckpointTo,
		SavePredictionsTo: savePredictionsTo,
		WorldSize:         worldSize,
		Log:               log,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Run finished\n")
	fmt.Printf("Event log: %s\n", acc.Path())
	for _, tag := range acc.ScalarTags() {
		series, _ := acc.Scalars(tag)
		fmt.Printf("  %s: %d points\n", tag, len(series))
	}

	return nil
}

// parseSetFlags turns --set dotted.key=value flags into an override
// document merged onto the base configuration. Values parse as YAML
// scalars so numbers and booleans keep their type.
func parseSetFlags(sets []string) (config.Document, error) {
	if len(sets) == 0 {
		return nil, nil
	}

	overrides := config.Document{}
	for _, s := range sets {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid override: %s (expected dotted.key=value)", s)
		}
		var value any
		if err := yaml.Unmarshal([]byte(parts[1]), &value); err != nil {
			value = parts[1]
		}
		config.SetPath(overrides, parts[0], value)
	}
	return overrides, nil
}
