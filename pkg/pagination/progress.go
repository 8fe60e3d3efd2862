package pagination

import (
	"github.com/rs/zerolog"
)

// Progress receives cumulative record counts as pages are handled. The
// paginator calls its methods serially.
type Progress interface {
	// Start is called once the seed page reveals the total result count.
	Start(totalResults int)
	// Add reports records delivered by one handled page.
	Add(records int)
	// Finish is called when the sweep ends, successfully or not.
	Finish()
}

// NopProgress discards progress.
type NopProgress struct{}

func (NopProgress) Start(int) {}
func (NopProgress) Add(int)   {}
func (NopProgress) Finish()   {}

// LogProgress logs every time another tenth of the listing is delivered.
type LogProgress struct {
	logger    zerolog.Logger
	total     int
	delivered int
	nextStep  int
}

// NewLogProgress creates a progress sink that logs to logger.
func NewLogProgress(logger zerolog.Logger) *LogProgress {
	return &LogProgress{logger: logger}
}

// Start implements Progress.
func (l *LogProgress) Start(totalResults int) {
	l.total = totalResults
	l.delivered = 0
	l.nextStep = 1
}

// Add implements Progress.
func (l *LogProgress) Add(records int) {
	l.delivered += records
	if l.total <= 0 {
		return
	}
	pct := l.delivered * 100 / l.total
	if pct >= l.nextStep*10 {
		l.nextStep = pct/10 + 1
		l.logger.Info().
			Int("delivered", l.delivered).
			Int("total", l.total).
			Int("progress_pct", pct).
			Msg("Fetch progress")
	}
}

// Finish implements Progress.
func (l *LogProgress) Finish() {}

// Delivered returns the cumulative number of records reported.
func (l *LogProgress) Delivered() int {
	return l.delivered
}
