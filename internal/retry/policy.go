package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/simsync/internal/logging"
)

// Policy retries an operation up to MaxAttempts times in total. The delay
// before retry n (starting at 1) is BaseDelay * 2^n. Errors for which
// Retryable returns false, and any error after ctx is done, end the loop
// immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(error) bool
}

func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	return p.BaseDelay * time.Duration(1<<retry)
}

func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	attempts := p.attempts()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay(1)
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.Delay(attempts)
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	log := logging.FromContext(ctx)
	attempt := 0

	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		log.Warn("retrying after error",
			"attempt", attempt,
			"max_attempts", p.attempts(),
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
	}

	return backoff.RetryNotify(operation, p.newBackOff(ctx), notify)
}
