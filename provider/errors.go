package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/warp/sleep-debt/sleep"
)

// =============================================================================
// PROVIDER ERRORS - Unwrap to the sleep sentinels
// =============================================================================

// RateLimitError is returned on HTTP 429. RetryAfter is zero when the
// provider sent no usable Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
	}
	return "provider rate limited"
}

func (e *RateLimitError) Unwrap() error {
	return sleep.ErrRateLimited
}

// NormalizationError describes one per-day payload that could not be converted.
type NormalizationError struct {
	Index  int    // position in the fetched batch
	Date   string // empty when the payload carried no recognizable date
	Shape  Shape
	Reason string
}

func (e *NormalizationError) Error() string {
	if e.Date != "" {
		return fmt.Sprintf("normalize payload %d (%s, %s): %s", e.Index, e.Date, e.Shape, e.Reason)
	}
	return fmt.Sprintf("normalize payload %d (%s): %s", e.Index, e.Shape, e.Reason)
}

func (e *NormalizationError) Unwrap() error {
	return sleep.ErrNormalization
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", sleep.ErrProviderUnavailable, fmt.Sprintf(format, args...))
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
