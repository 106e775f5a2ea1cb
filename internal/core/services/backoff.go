package services

import "time"

// BackoffPolicy computes retry delays and pause decisions from an error
// count. It is pure policy: no clock, no state.
type BackoffPolicy struct {
	// Base is the delay after the first error.
	Base time.Duration

	// Max caps the exponential growth.
	Max time.Duration

	// MaxErrors is the count at which the resource pauses and stops being
	// scheduled until an explicit reset.
	MaxErrors int
}

// DefaultBackoffPolicy returns the standard policy: 1s doubling per error,
// capped at 60s, pausing after 5 consecutive failures.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:      time.Second,
		Max:       60 * time.Second,
		MaxErrors: 5,
	}
}

// Delay returns min(Base * 2^errorCount, Max). Negative counts behave like
// zero.
func (p BackoffPolicy) Delay(errorCount int) time.Duration {
	if errorCount < 0 {
		errorCount = 0
	}
	// Beyond 30 doublings any sane Base exceeds any sane Max.
	if errorCount > 30 {
		return p.Max
	}
	d := p.Base << uint(errorCount)
	if d > p.Max || d <= 0 {
		return p.Max
	}
	return d
}

// ShouldPause reports whether the error count has exhausted the budget.
func (p BackoffPolicy) ShouldPause(errorCount int) bool {
	return errorCount >= p.MaxErrors
}
