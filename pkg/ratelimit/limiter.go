package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	nvdRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvd_rate_limit_waits_total",
		Help: "Total number of requests that had to wait for rate limit capacity",
	})

	nvdRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nvd_rate_limit_wait_seconds",
		Help:    "Time spent waiting for rate limit capacity",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	})

	nvdRateLimitCallsInWindow = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvd_rate_limit_calls_in_window",
		Help: "Number of calls started in the current rolling window",
	})
)

// Limiter admits at most Profile.MaxCalls call starts in any trailing
// Profile.Window. It is shared by all fetch workers.
type Limiter struct {
	profile Profile
	logger  zerolog.Logger

	// turn holds one token while a caller waits for capacity; callers queued
	// behind it can still give up on their own context.
	turn chan struct{}

	mu      sync.Mutex
	calls   []time.Time      // start times inside the window, oldest first
	timeNow func() time.Time // Injectable for testing
}

// NewLimiter creates a limiter for the given profile using the wall clock.
func NewLimiter(profile Profile, logger zerolog.Logger) (*Limiter, error) {
	return NewLimiterWithClock(profile, time.Now, logger)
}

// NewLimiterWithClock creates a limiter with an injectable clock.
func NewLimiterWithClock(profile Profile, timeNow func() time.Time, logger zerolog.Logger) (*Limiter, error) {
	if !profile.Valid() {
		return nil, fmt.Errorf("invalid rate limit profile: %d calls per %s", profile.MaxCalls, profile.Window)
	}
	return &Limiter{
		profile: profile,
		logger:  logger,
		turn:    make(chan struct{}, 1),
		calls:   make([]time.Time, 0, profile.MaxCalls),
		timeNow: timeNow,
	}, nil
}

// Profile returns the active profile.
func (l *Limiter) Profile() Profile {
	return l.profile
}

// Acquire blocks until one more call can start without exceeding the
// profile, then records the call. It returns ctx.Err() if the context ends
// while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	var waitStart time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := l.reserve()
		if wait <= 0 {
			if !waitStart.IsZero() {
				nvdRateLimitWaitSeconds.Observe(time.Since(waitStart).Seconds())
			}
			return nil
		}

		if waitStart.IsZero() {
			waitStart = time.Now()
			nvdRateLimitWaitsTotal.Inc()
			l.logger.Debug().
				Int("max_calls", l.profile.MaxCalls).
				Dur("window", l.profile.Window).
				Dur("wait", wait).
				Msg("Rate limit reached, waiting for window capacity")
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records a call and returns 0 if capacity is available, otherwise
// it returns how long until the oldest call leaves the window.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.removeExpiredCalls(now)

	if len(l.calls) < l.profile.MaxCalls {
		l.calls = append(l.calls, now)
		nvdRateLimitCallsInWindow.Set(float64(len(l.calls)))
		return 0
	}

	return l.calls[0].Add(l.profile.Window).Sub(now)
}

// removeExpiredCalls drops starts that are a full window old.
// Must be called with mu held.
func (l *Limiter) removeExpiredCalls(now time.Time) {
	expired := 0
	for _, start := range l.calls {
		if now.Sub(start) >= l.profile.Window {
			expired++
		} else {
			break
		}
	}
	if expired > 0 {
		l.calls = append(l.calls[:0], l.calls[expired:]...)
	}
}

// State returns the current call count and window start.
func (l *Limiter) State() RateLimitState {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.removeExpiredCalls(now)

	if len(l.calls) == 0 {
		return RateLimitState{WindowStart: now}
	}
	return RateLimitState{
		CallCount:   len(l.calls),
		WindowStart: l.calls[0],
	}
}
