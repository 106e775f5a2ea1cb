package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates a run already holds the sync state
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSyncTokenExpired indicates the provider rejected a continuation
	// token as expired or invalid; the token must be cleared and the
	// affected sub-resource re-fetched from scratch. This is an expected,
	// recoverable condition and never counts toward the error budget.
	ErrSyncTokenExpired = errors.New("sync token expired")

	// ErrAuthFailure indicates no usable credential: the broker returned
	// none, or the provider rejected the token. The resource pauses until
	// the account is reconnected.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrProviderUnavailable indicates a provider-side server error
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrChannelUnknown indicates a push notification whose channel and
	// resource ids match no registered webhook channel
	ErrChannelUnknown = errors.New("unknown webhook channel")
)

// RateLimitError indicates the provider throttled a call. RetryAfter is the
// provider-suggested wait, zero when the provider gave none.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// RetryAfterOf extracts the provider-suggested wait from a rate-limit error.
// The second return is false when err is not a rate limit.
func RetryAfterOf(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
