package reliability

import (
	"context"
	"errors"
	"time"
)

// ErrTurnAborted marks a turn cancelled on purpose, by the user or by a
// conversation switch. Aborts are never retried.
var ErrTurnAborted = errors.New("turn aborted")

// IsAbort reports whether the stream error represents a deliberate
// cancellation rather than a failure.
func IsAbort(err error) bool {
	return errors.Is(err, ErrTurnAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// StreamFailure tags an upstream stream error with its failure kind.
type StreamFailure struct {
	Kind string
	Err  error
}

func (f StreamFailure) Error() string {
	if f.Err == nil {
		return f.Kind
	}
	return f.Kind + ": " + f.Err.Error()
}

func (f StreamFailure) Unwrap() error { return f.Err }

func (f StreamFailure) Retryable() bool {
	switch f.Kind {
	case "rate_limited", "overloaded", "connection_lost", "timeout":
		return true
	default:
		return false
	}
}

// IsRetryableStreamFailure classifies upstream stream failures worth a
// reconnect attempt. Aborts and plain protocol violations are not.
func IsRetryableStreamFailure(err error) bool {
	if err == nil || IsAbort(err) {
		return false
	}
	var kind StreamFailure
	if errors.As(err, &kind) {
		return kind.Retryable()
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
