package syncer

import (
	"testing"
	"time"
)

func TestComputeWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 500, time.UTC)
	checkpoint := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		overrideHours int
		checkpoint    time.Time
		hasCheckpoint bool
		wantStart     time.Time
	}{
		{
			name:          "override",
			overrideHours: 48,
			checkpoint:    checkpoint,
			hasCheckpoint: true,
			wantStart:     time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC),
		},
		{
			name:          "checkpoint",
			checkpoint:    checkpoint,
			hasCheckpoint: true,
			wantStart:     checkpoint,
		},
		{
			name:      "default lookback",
			wantStart: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC),
		},
		{
			name:          "checkpoint in the future",
			checkpoint:    now.Add(time.Hour),
			hasCheckpoint: true,
			wantStart:     time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ComputeWindow(now, tt.overrideHours, tt.checkpoint, tt.hasCheckpoint, 24*time.Hour)

			wantEnd := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
			if !w.End.Equal(wantEnd) {
				t.Errorf("End = %s, want %s", w.End, wantEnd)
			}
			if !w.Start.Equal(tt.wantStart) {
				t.Errorf("Start = %s, want %s", w.Start, tt.wantStart)
			}
			if w.Start.After(w.End) {
				t.Errorf("Start %s after End %s", w.Start, w.End)
			}
		})
	}
}

func TestComputeWindow_ConvertsToUTC(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	now := time.Date(2024, 3, 10, 13, 0, 0, 0, cet)

	w := ComputeWindow(now, 0, time.Time{}, false, time.Hour)

	if w.End.Location() != time.UTC || w.Start.Location() != time.UTC {
		t.Errorf("window not in UTC: %v", w)
	}
	if got := w.Params(100).LastModEnd; got != "2024-03-10T12:00:00Z" {
		t.Errorf("LastModEnd = %q, want 2024-03-10T12:00:00Z", got)
	}
}

func TestWindowSplit(t *testing.T) {
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	maxWindow := 120 * 24 * time.Hour

	tests := []struct {
		name   string
		length time.Duration
		chunks int
	}{
		{name: "empty", length: 0, chunks: 1},
		{name: "short", length: 24 * time.Hour, chunks: 1},
		{name: "exactly max", length: maxWindow, chunks: 1},
		{name: "just over max", length: maxWindow + time.Second, chunks: 2},
		{name: "300 days", length: 300 * 24 * time.Hour, chunks: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Window{Start: end.Add(-tt.length), End: end}
			chunks := w.Split(maxWindow)

			if len(chunks) != tt.chunks {
				t.Fatalf("Split() = %d chunks, want %d", len(chunks), tt.chunks)
			}
			if !chunks[0].Start.Equal(w.Start) || !chunks[len(chunks)-1].End.Equal(w.End) {
				t.Errorf("chunks do not cover the window: %v", chunks)
			}
			for i, c := range chunks {
				if c.Duration() > maxWindow {
					t.Errorf("chunk %d spans %s", i, c.Duration())
				}
				if i > 0 && !chunks[i-1].End.Equal(c.Start) {
					t.Errorf("gap between chunk %d and %d", i-1, i)
				}
			}
		})
	}
}

func TestWindowParams(t *testing.T) {
	w := Window{
		Start: time.Date(2024, 3, 1, 8, 30, 15, 999, time.UTC),
		End:   time.Date(2024, 3, 2, 8, 30, 15, 0, time.UTC),
	}
	p := w.Params(2000)

	if p.ResultsPerPage != 2000 || p.StartIndex != 0 {
		t.Errorf("Params() = %+v", p)
	}
	if p.LastModStart != "2024-03-01T08:30:15Z" || p.LastModEnd != "2024-03-02T08:30:15Z" {
		t.Errorf("Params() window = %q..%q", p.LastModStart, p.LastModEnd)
	}
	if w.String() != "2024-03-01T08:30:15Z..2024-03-02T08:30:15Z" {
		t.Errorf("String() = %q", w.String())
	}
}
