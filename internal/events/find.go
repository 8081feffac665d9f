package events

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/imishinist/trainctl/internal/artifacts"
)

// LogPattern is the glob locating event files under a run's log
// directory: one writer subdirectory per run, one file inside it.
func LogPattern(logDir string) string {
	return filepath.Join(logDir, "tensorboard", "*", LogFilePrefix+"*")
}

// Open locates the single event file under logDir, parses it fully,
// and returns the loaded accumulator. Zero or multiple event files
// are cardinality errors from the artifacts package.
func Open(logDir string) (*Accumulator, error) {
	path, err := artifacts.ExactlyOne(LogPattern(logDir))
	if err != nil {
		return nil, err
	}

	acc := NewAccumulator(path)
	if err := acc.Reload(); err != nil {
		return nil, err
	}
	return acc, nil
}

// WaitForLogFile blocks until at least one event file exists under
// logDir or the context expires. Trainers create the writer directory
// and file lazily, so the watch follows directories as they appear.
func WaitForLogFile(ctx context.Context, logDir string) (string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	addWatches := func() {
		// Watch every level that exists so far; deeper levels are
		// picked up on the next create event.
		for _, dir := range watchDirs(logDir) {
			_ = watcher.Add(dir)
		}
	}
	addWatches()

	check := func() (string, bool) {
		matches, err := filepath.Glob(LogPattern(logDir))
		if err == nil && len(matches) > 0 {
			return matches[0], true
		}
		return "", false
	}

	if path, ok := check(); ok {
		return path, nil
	}

	// Fallback tick covers events raced away while watches were added.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("no event log appeared under %s: %w", logDir, ctx.Err())
		case <-watcher.Events:
			addWatches()
			if path, ok := check(); ok {
				return path, nil
			}
		case err := <-watcher.Errors:
			if err != nil {
				return "", fmt.Errorf("watch failed on %s: %w", logDir, err)
			}
		case <-ticker.C:
			addWatches()
			if path, ok := check(); ok {
				return path, nil
			}
		}
	}
}

func watchDirs(logDir string) []string {
	dirs := []string{logDir}
	tb := filepath.Join(logDir, "tensorboard")
	if _, err := os.Stat(tb); err == nil {
		dirs = append(dirs, tb)
		if entries, err := os.ReadDir(tb); err == nil {
			for _, e := range entries {
				if e.IsDir() {
					dirs = append(dirs, filepath.Join(tb, e.Name()))
				}
			}
		}
	}
	return dirs
}
