package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imishinist/trainctl/internal/events"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Read a run's metrics event log",
	Long: `Locate the single event log under a run's log directory and print
its scalar series. With --tag, the full series is printed point by
point; without it, the available tags are listed.`,
	Example: `  # List available series
  trainctl metrics --logdir /tmp/run1/logs

  # Dump one series
  trainctl metrics --logdir /tmp/run1/logs --tag train/loss`,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)

	metricsCmd.Flags().String("logdir", "", "Run log directory (required)")
	metricsCmd.Flags().String("tag", "", "Scalar tag to dump")
	metricsCmd.Flags().Duration("wait", 0, "Wait up to this long for the event log to appear")
	metricsCmd.MarkFlagRequired("logdir")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	logDir, _ := cmd.Flags().GetString("logdir")
	tag, _ := cmd.Flags().GetString("tag")
	wait, _ := cmd.Flags().GetDuration("wait")

	if wait > 0 {
		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()
		if _, err := events.WaitForLogFile(ctx, logDir); err != nil {
			return err
		}
	}

	acc, err := events.Open(logDir)
	if err != nil {
		return err
	}

	if tag == "" {
		fmt.Printf("Event log: %s\n", acc.Path())
		fmt.Println("Scalar series:")
		for _, t := range acc.ScalarTags() {
			series, _ := acc.Scalars(t)
			fmt.Printf("  %s: %d points\n", t, len(series))
		}
		if hist := acc.HistogramTags(); len(hist) > 0 {
			fmt.Println("Histogram series:")
			for _, t := range hist {
				series, _ := acc.Histograms(t)
				fmt.Printf("  %s: %d points\n", t, len(series))
			}
		}
		return nil
	}

	series, err := acc.Scalars(tag)
	if err != nil {
		return err
	}
	for _, point := range series {
		fmt.Printf("%d\t%f\n", point.Step, point.Value)
	}
	return nil
}
