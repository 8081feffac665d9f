// Package tracking publishes harvested run results to an MLflow
// tracking server, either a plain server or a Databricks workspace.
package tracking

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/service/ml"
	"github.com/spf13/viper"
)

// Config is the tracking-server connection, populated from viper
// (flags and TRAINCTL_* / DATABRICKS_* environment variables).
type Config struct {
	TrackingURI     string
	ExperimentID    string
	DatabricksHost  string
	DatabricksToken string
}

// NewConfig reads the tracking configuration from viper.
func NewConfig() *Config {
	return &Config{
		TrackingURI:     viper.GetString("tracking_uri"),
		ExperimentID:    viper.GetString("experiment_id"),
		DatabricksHost:  viper.GetString("databricks_host"),
		DatabricksToken: viper.GetString("databricks_token"),
	}
}

// IsDatabricks reports whether the tracking URI points at a
// Databricks workspace rather than a plain MLflow server.
func (c *Config) IsDatabricks() bool {
	return c.TrackingURI == "databricks" || strings.HasPrefix(c.TrackingURI, "databricks://")
}

// Profile extracts the profile name from a databricks://{profile}
// tracking URI, or returns "".
func (c *Config) Profile() string {
	if !strings.HasPrefix(c.TrackingURI, "databricks://") {
		return ""
	}
	profile := strings.TrimPrefix(c.TrackingURI, "databricks://")
	if idx := strings.Index(profile, "/"); idx != -1 {
		profile = profile[:idx]
	}
	return profile
}

// Client talks to one tracking server.
type Client struct {
	client *databricks.WorkspaceClient
	config *Config
}

// NewClient builds a tracking client for the configured server.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.TrackingURI == "" {
		return nil, fmt.Errorf("tracking URI is required")
	}

	var dbxConfig *databricks.Config
	if cfg.IsDatabricks() {
		dbxConfig = &databricks.Config{}
		if profile := cfg.Profile(); profile != "" {
			dbxConfig.Profile = profile
		} else if cfg.DatabricksHost != "" {
			dbxConfig.Host = cfg.DatabricksHost
		}
		if cfg.DatabricksToken != "" {
			dbxConfig.Token = cfg.DatabricksToken
		}
		if dbxConfig.Host == "" && dbxConfig.Profile == "" {
			return nil, fmt.Errorf("Databricks host or profile is required; set DATABRICKS_HOST or use databricks://{profile}")
		}
	} else {
		dbxConfig = &databricks.Config{
			Host: cfg.TrackingURI,
			// Plain MLflow servers do not authenticate; the SDK still
			// requires a token to be present.
			Token: "unused-token-for-plain-mlflow",
		}
	}

	client, err := databricks.NewWorkspaceClient(dbxConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracking client: %w", err)
	}

	return &Client{client: client, config: cfg}, nil
}

// RunStatus is a terminal or running state of a tracked run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
)

// RunInfo identifies a created tracking run.
type RunInfo struct {
	RunID        string
	ExperimentID string
	RunName      string
	StartTime    time.Time
}

// CreateRun starts a new tracked run under the configured experiment.
func (c *Client) CreateRun(ctx context.Context, runName string) (*RunInfo, error) {
	experimentID := c.config.ExperimentID
	if experimentID == "" {
		return nil, fmt.Errorf("experiment ID must be set via --experiment-id or TRAINCTL_EXPERIMENT_ID")
	}

	startTime := time.Now()
	resp, err := c.client.Experiments.CreateRun(ctx, ml.CreateRun{
		ExperimentId: experimentID,
		RunName:      runName,
		StartTime:    startTime.UnixMilli(),
		Tags: []ml.RunTag{
			{Key: "mlflow.runName", Value: runName},
			{Key: "trainctl.source", Value: "harness"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &RunInfo{
		RunID:        resp.Run.Info.RunId,
		ExperimentID: experimentID,
		RunName:      runName,
		StartTime:    startTime,
	}, nil
}

// EndRun marks a run finished or failed.
func (c *Client) EndRun(ctx context.Context, runID string, status RunStatus) error {
	var mlStatus ml.UpdateRunStatus
	switch status {
	case RunStatusFailed:
		mlStatus = ml.UpdateRunStatusFailed
	default:
		mlStatus = ml.UpdateRunStatusFinished
	}

	_, err := c.client.Experiments.UpdateRun(ctx, ml.UpdateRun{
		RunId:   runID,
		Status:  mlStatus,
		EndTime: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to end run %s: %w", runID, err)
	}
	return nil
}

// LogMetric records one metric point against a run.
func (c *Client) LogMetric(ctx context.Context, runID, key string, value float64, timestamp time.Time, step int64) error {
	err := c.client.Experiments.LogMetric(ctx, ml.LogMetric{
		RunId:     runID,
		Key:       key,
		Value:     value,
		Timestamp: timestamp.UnixMilli(),
		Step:      step,
	})
	if err != nil {
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}
	return nil
}

// LogParams records string parameters against a run.
func (c *Client) LogParams(ctx context.Context, runID string, params map[string]string) error {
	for key, value := range params {
		err := c.client.Experiments.LogParam(ctx, ml.LogParam{
			RunId: runID,
			Key:   key,
			Value: value,
		})
		if err != nil {
			return fmt.Errorf("failed to log parameter %s: %w", key, err)
		}
	}
	return nil
}

// UploadArtifact stores a local file under the run's artifact root.
// Local file:// roots are copied directly; mlflow-artifacts:/ roots go
// through the artifacts service.
func (c *Client) UploadArtifact(ctx context.Context, runID, filePath, artifactPath string) error {
	resp, err := c.client.Experiments.GetRun(ctx, ml.GetRunRequest{RunId: runID})
	if err != nil {
		return fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	artifactURI := resp.Run.Info.ArtifactUri
	if artifactURI == "" {
		return fmt.Errorf("run %s has no artifact URI", runID)
	}
	if artifactPath == "" {
		artifactPath = filepath.Base(filePath)
	}

	switch {
	case strings.HasPrefix(artifactURI, "mlflow-artifacts:/"):
		return c.uploadToArtifactsService(ctx, artifactURI, filePath, artifactPath)
	case strings.HasPrefix(artifactURI, "file://"), strings.HasPrefix(artifactURI, "/"):
		return copyToLocalRoot(artifactURI, filePath, artifactPath)
	default:
		return fmt.Errorf("unsupported artifact URI scheme: %s", artifactURI)
	}
}

func (c *Client) uploadToArtifactsService(ctx context.Context, artifactURI, filePath, artifactPath string) error {
	// mlflow-artifacts:/{experiment_id}/{run_id}/artifacts
	parts := strings.Split(strings.Trim(strings.TrimPrefix(artifactURI, "mlflow-artifacts:"), "/"), "/")
	if len(parts) < 3 {
		return fmt.Errorf("invalid mlflow-artifacts URI: %s", artifactURI)
	}
	experimentID, runID := parts[0], parts[1]

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open artifact %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact %s: %w", filePath, err)
	}

	url := fmt.Sprintf("%s/api/2.0/mlflow-artifacts/artifacts/%s/%s/artifacts/%s",
		strings.TrimSuffix(c.config.TrackingURI, "/"), experimentID, runID, artifactPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("artifact upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func copyToLocalRoot(artifactURI, filePath, artifactPath string) error {
	root := strings.TrimPrefix(artifactURI, "file://")
	dest := filepath.Join(root, artifactPath)

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	src, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open artifact %s: %w", filePath, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create artifact %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("failed to copy artifact content: %w", err)
	}
	return nil
}
