package events

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// Writer appends records to an event log file. It is the producer
// side of the format the Accumulator reads. Not safe for concurrent
// use; distributed trainers write one log per rank directory.
type Writer struct {
	f    *os.File
	path string
}

// LogFilePrefix is the common prefix of event log file names.
const LogFilePrefix = "events.out"

// NewWriter creates an event log under dir, which is created if
// missing. The file name embeds the creation time and hostname so
// concurrent runs never collide on the same directory layout.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	name := fmt.Sprintf("%s.%d.%s", LogFilePrefix, time.Now().Unix(), hostname)
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log %s: %w", path, err)
	}

	return &Writer{f: f, path: path}, nil
}

// Path returns the event file being written.
func (w *Writer) Path() string {
	return w.path
}

// WriteScalar appends one scalar point.
func (w *Writer) WriteScalar(tag string, step int64, value float64) error {
	return w.write(Record{
		WallTime: float64(time.Now().UnixNano()) / 1e9,
		Step:     step,
		Tag:      tag,
		Value:    &value,
	})
}

// WriteHistogram appends one histogram point.
func (w *Writer) WriteHistogram(tag string, step int64, h Histogram) error {
	return w.write(Record{
		WallTime:  float64(time.Now().UnixNano()) / 1e9,
		Step:      step,
		Tag:       tag,
		Histogram: &h,
	})
}

func (w *Writer) write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal event record: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("failed to write event record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("failed to close event log %s: %w", w.path, err)
	}
	return nil
}
