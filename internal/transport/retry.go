package transport

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ning0612/siteupdater/internal/domain"
	"github.com/Ning0612/siteupdater/internal/logger"
)

// RetryPolicy bounds retries of a transport operation
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first one
	Attempts int `mapstructure:"attempts"`

	// BaseDelay is the wait before the second try; it doubles each time
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// MaxDelay caps a single wait
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  4,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
	}
}

// delay returns the wait after the given failed attempt (1-based)
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// IsRetryable reports whether err is a transient transport failure
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrNetworkError) || errors.Is(err, domain.ErrTimeout)
}

// retry runs fn until it succeeds, fails permanently, or the policy is
// exhausted. An exhausted policy yields a *domain.NetworkError.
func retry(ctx context.Context, clock clockwork.Clock, policy RetryPolicy, op, site string, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		// 已經是 NetworkError 的不再包一層
		var netErr *domain.NetworkError
		if errors.As(err, &netErr) {
			return err
		}

		if attempt == attempts {
			break
		}

		wait := policy.delay(attempt)
		logger.Get().Warn("Transport operation failed, retrying",
			"op", op, "site", site, "attempt", attempt, "wait", wait, "error", err)

		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(wait):
			}
		}
	}

	return &domain.NetworkError{Op: op, Site: site, Attempts: attempts, Err: err}
}
