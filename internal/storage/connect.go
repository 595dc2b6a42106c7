package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how Connect retries an unreachable store.
type RetryPolicy struct {
	// Attempts is the total number of tries; values < 1 mean one try.
	Attempts int

	// Delay is the wait between tries, or the initial wait when Exponential.
	Delay time.Duration

	// Exponential doubles the wait after every failed try (with jitter).
	Exponential bool
}

// Connect opens a Writer, retrying transient failures per p. Unknown backend
// kinds fail immediately. Each failed try is logged through logf when it is
// non-nil.
func Connect(ctx context.Context, cfg Config, p RetryPolicy, logf func(format string, args ...any)) (Writer, error) {
	attempts := max(p.Attempts, 1)

	var b backoff.BackOff
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Delay
		eb.MaxElapsedTime = 0
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.Delay)
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	try := 0
	op := func() (Writer, error) {
		try++
		w, err := New(ctx, cfg)
		if errors.Is(err, ErrUnknownKind) {
			return nil, backoff.Permanent(err)
		}
		return w, err
	}
	notify := func(err error, wait time.Duration) {
		if logf != nil {
			logf("storage: attempt %d/%d to connect %s failed: %v; retrying in %s",
				try, attempts, cfg.Kind, err, wait.Truncate(time.Millisecond))
		}
	}

	w, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("storage: connect %s after %d attempt(s): %w", cfg.Kind, try, err)
	}
	return w, nil
}
