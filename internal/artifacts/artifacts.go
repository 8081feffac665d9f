// Package artifacts locates and collects the file-system outputs of a
// training run. Every lookup requires exactly one match for its glob
// pattern; anything else is reported as a typed error carrying the
// pattern and the matches for diagnostics.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NotFoundError reports a glob pattern that matched no files.
type NotFoundError struct {
	Pattern string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no artifact matches %q", e.Pattern)
}

// AmbiguousError reports a glob pattern that matched more than one
// file where exactly one was required.
type AmbiguousError struct {
	Pattern string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("expected exactly one artifact matching %q, found %d: %s",
		e.Pattern, len(e.Matches), strings.Join(e.Matches, ", "))
}

// IsCardinality reports whether err is a zero-or-many match failure.
func IsCardinality(err error) bool {
	var nf *NotFoundError
	var am *AmbiguousError
	return errors.As(err, &nf) || errors.As(err, &am)
}

// ExactlyOne globs the pattern and returns the single match.
func ExactlyOne(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("failed to glob %q: %w", pattern, err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Pattern: pattern}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Pattern: pattern, Matches: matches}
	}
}

// Collect moves the single file matching pattern to dest, creating
// dest's parent directory as needed. The original path no longer
// exists afterwards.
func Collect(pattern, dest string) error {
	src, err := ExactlyOne(pattern)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("failed to move artifact %s to %s: %w", src, dest, err)
	}

	return nil
}

// CheckpointPattern is the location trainers write their final
// checkpoint under a run directory.
func CheckpointPattern(runDir string) string {
	return filepath.Join(runDir, "checkpoints", "*", "checkpoint.pt")
}

// PredictionsPattern is the location trainers write S2EF predictions
// under a run directory.
func PredictionsPattern(runDir string) string {
	return filepath.Join(runDir, "results", "*", "s2ef_predictions.npz")
}
