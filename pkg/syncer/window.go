package syncer

import (
	"time"

	"github.com/Sternrassler/cve-sync/pkg/client"
)

// WindowLayout is the fixed-precision UTC layout sent as lastModStartDate
// and lastModEndDate.
const WindowLayout = "2006-01-02T15:04:05Z"

// Window is a last-modified range, Start <= End, both UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// ComputeWindow selects the incremental range ending at now. An override
// of H hours wins over the checkpoint; without either the range covers the
// last lookback.
func ComputeWindow(now time.Time, overrideHours int, checkpoint time.Time, hasCheckpoint bool, lookback time.Duration) Window {
	end := now.UTC().Truncate(time.Second)

	var start time.Time
	switch {
	case overrideHours > 0:
		start = end.Add(-time.Duration(overrideHours) * time.Hour)
	case hasCheckpoint:
		start = checkpoint.UTC().Truncate(time.Second)
	default:
		start = end.Add(-lookback)
	}

	// A checkpoint ahead of the local clock yields an empty window.
	if start.After(end) {
		start = end
	}
	return Window{Start: start, End: end}
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Split cuts the window into consecutive chunks no longer than limit.
func (w Window) Split(limit time.Duration) []Window {
	if limit <= 0 || w.Duration() <= limit {
		return []Window{w}
	}

	var chunks []Window
	for start := w.Start; start.Before(w.End); start = start.Add(limit) {
		end := start.Add(limit)
		if end.After(w.End) {
			end = w.End
		}
		chunks = append(chunks, Window{Start: start, End: end})
	}
	return chunks
}

// Params returns seed parameters filtering on this window.
func (w Window) Params(resultsPerPage int) client.Params {
	return client.Params{
		ResultsPerPage: resultsPerPage,
		LastModStart:   w.Start.UTC().Format(WindowLayout),
		LastModEnd:     w.End.UTC().Format(WindowLayout),
	}
}

// String formats the window for logs.
func (w Window) String() string {
	return w.Start.UTC().Format(WindowLayout) + ".." + w.End.UTC().Format(WindowLayout)
}
