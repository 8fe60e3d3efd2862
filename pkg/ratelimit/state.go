// Package ratelimit implements the rolling-window request gate used in front
// of every NVD API call. The NVD allows a fixed number of requests in any
// trailing 30 second window, with a higher allowance when an API key is sent.
package ratelimit

import (
	"time"
)

// Default NVD allowances.
const (
	// PublicMaxCalls is the number of requests allowed per window without an API key.
	PublicMaxCalls = 5

	// KeyedMaxCalls is the number of requests allowed per window with an API key.
	KeyedMaxCalls = 50

	// DefaultWindow is the length of the rolling window.
	DefaultWindow = 30 * time.Second
)

// Profile is one configured allowance: at most MaxCalls starts in any
// trailing Window.
type Profile struct {
	MaxCalls int
	Window   time.Duration
}

// PublicProfile returns the allowance for unauthenticated clients.
func PublicProfile() Profile {
	return Profile{MaxCalls: PublicMaxCalls, Window: DefaultWindow}
}

// KeyedProfile returns the allowance for clients sending an API key.
func KeyedProfile() Profile {
	return Profile{MaxCalls: KeyedMaxCalls, Window: DefaultWindow}
}

// SelectProfile picks the active profile once, at construction time.
func SelectProfile(public, keyed Profile, hasKey bool) Profile {
	if hasKey {
		return keyed
	}
	return public
}

// Valid reports whether the profile can admit at least one call.
func (p Profile) Valid() bool {
	return p.MaxCalls > 0 && p.Window > 0
}

// RateLimitState is a point-in-time view of the limiter.
type RateLimitState struct {
	// CallCount is the number of calls started inside the current window.
	CallCount int `json:"call_count"`

	// WindowStart is the start time of the oldest call still inside the
	// window, or the observation time when the window is empty.
	WindowStart time.Time `json:"window_start"`
}

// Expired reports whether the window that began at WindowStart has fully
// elapsed, in which case the call count is back to zero.
func (s RateLimitState) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(s.WindowStart) >= window
}

// Remaining returns how many calls can start right now under maxCalls.
func (s RateLimitState) Remaining(maxCalls int) int {
	remaining := maxCalls - s.CallCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimeUntilReset returns how long until the oldest call leaves the window.
// Returns 0 if the window has already elapsed.
func (s RateLimitState) TimeUntilReset(now time.Time, window time.Duration) time.Duration {
	d := s.WindowStart.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
