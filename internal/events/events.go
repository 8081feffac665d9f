// Package events reads and writes the structured event logs a
// training run emits: line-delimited JSON records carrying scalar and
// histogram series keyed by tag.
package events

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"
)

// Record is one line of an event log. Exactly one of Value or
// Histogram is set.
type Record struct {
	WallTime  float64    `json:"wall_time"`
	Step      int64      `json:"step"`
	Tag       string     `json:"tag"`
	Value     *float64   `json:"value,omitempty"`
	Histogram *Histogram `json:"histogram,omitempty"`
}

// Histogram summarizes a distribution logged at one step.
type Histogram struct {
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`
	Num          float64   `json:"num"`
	Sum          float64   `json:"sum"`
	SumSquares   float64   `json:"sum_squares"`
	BucketLimits []float64 `json:"bucket_limits,omitempty"`
	BucketCounts []float64 `json:"bucket_counts,omitempty"`
}

// ScalarEvent is one point of a scalar series.
type ScalarEvent struct {
	WallTime float64
	Step     int64
	Value    float64
}

// HistogramEvent is one point of a histogram series.
type HistogramEvent struct {
	WallTime  float64
	Step      int64
	Histogram Histogram
}

// Accumulator holds the fully parsed contents of one event log file.
// Reload parses the whole file eagerly; there is no incremental read.
type Accumulator struct {
	path       string
	scalars    map[string][]ScalarEvent
	histograms map[string][]HistogramEvent
}

// NewAccumulator returns an accumulator over the given event file.
// Call Reload before querying series.
func NewAccumulator(path string) *Accumulator {
	return &Accumulator{
		path:       path,
		scalars:    make(map[string][]ScalarEvent),
		histograms: make(map[string][]HistogramEvent),
	}
}

// Path returns the event file this accumulator reads.
func (a *Accumulator) Path() string {
	return a.path
}

// Reload discards any previously loaded state and parses the entire
// event file into memory.
func (a *Accumulator) Reload() error {
	f, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("failed to open event log %s: %w", a.path, err)
	}
	defer f.Close()

	scalars := make(map[string][]ScalarEvent)
	histograms := make(map[string][]HistogramEvent)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to parse event log %s line %d: %w", a.path, line, err)
		}

		switch {
		case rec.Value != nil:
			scalars[rec.Tag] = append(scalars[rec.Tag], ScalarEvent{
				WallTime: rec.WallTime,
				Step:     rec.Step,
				Value:    *rec.Value,
			})
		case rec.Histogram != nil:
			histograms[rec.Tag] = append(histograms[rec.Tag], HistogramEvent{
				WallTime:  rec.WallTime,
				Step:      rec.Step,
				Histogram: *rec.Histogram,
			})
		default:
			return fmt.Errorf("event log %s line %d: record for tag %q has neither value nor histogram", a.path, line, rec.Tag)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event log %s: %w", a.path, err)
	}

	a.scalars = scalars
	a.histograms = histograms
	return nil
}

// Scalars returns the scalar series for a tag.
func (a *Accumulator) Scalars(tag string) ([]ScalarEvent, error) {
	series, ok := a.scalars[tag]
	if !ok {
		return nil, fmt.Errorf("no scalar series %q in %s", tag, a.path)
	}
	return series, nil
}

// Histograms returns the histogram series for a tag.
func (a *Accumulator) Histograms(tag string) ([]HistogramEvent, error) {
	series, ok := a.histograms[tag]
	if !ok {
		return nil, fmt.Errorf("no histogram series %q in %s", tag, a.path)
	}
	return series, nil
}

// ScalarTags returns the scalar tags present in the log, sorted.
func (a *Accumulator) ScalarTags() []string {
	tags := make([]string, 0, len(a.scalars))
	for tag := range a.scalars {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// HistogramTags returns the histogram tags present in the log, sorted.
func (a *Accumulator) HistogramTags() []string {
	tags := make([]string, 0, len(a.histograms))
	for tag := range a.histograms {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
