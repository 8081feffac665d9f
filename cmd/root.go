package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "trainctl",
	Short: "Training run harness",
	Long: `A harness for end-to-end training runs.
Builds a merged run configuration, executes the trainer directly or as
a distributed process group, collects checkpoints and predictions, and
reads the run's metrics event log.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().String("tracking-uri", "", "MLflow tracking URI (overrides TRAINCTL_TRACKING_URI)")
	rootCmd.PersistentFlags().String("experiment-id", "", "Experiment ID (overrides TRAINCTL_EXPERIMENT_ID)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("tracking_uri", rootCmd.PersistentFlags().Lookup("tracking-uri"))
	viper.BindPFlag("experiment_id", rootCmd.PersistentFlags().Lookup("experiment-id"))
}

func initConfig() {
	// Environment variables
	viper.SetEnvPrefix("TRAINCTL")
	viper.AutomaticEnv()

	// Databricks credentials keep their native variable names
	viper.BindEnv("databricks_host", "DATABRICKS_HOST")
	viper.BindEnv("databricks_token", "DATABRICKS_TOKEN")

	// Set defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("tracking_uri", "http://localhost:5000")
}
