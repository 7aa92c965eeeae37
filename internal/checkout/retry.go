package checkout

import (
	"context"
	"errors"
	"time"

	"pos_engine/internal/inventory"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries of stock commits on ErrBusy and of sale
// persistence.
type RetryPolicy struct {
	CommitRetries  int
	PersistRetries int
	Interval       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{CommitRetries: 3, PersistRetries: 3, Interval: 20 * time.Millisecond}
}

func (p RetryPolicy) backOff(ctx context.Context, retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	b.MaxInterval = 16 * p.Interval
	b.MaxElapsedTime = 0
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retryBusy runs op until it succeeds, fails with something other than
// inventory.ErrBusy, or the commit retries run out.
func (p RetryPolicy) retryBusy(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, inventory.ErrBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx, p.CommitRetries))
}

// retryPersist retries op on any error.
func (p RetryPolicy) retryPersist(ctx context.Context, op func() error) error {
	return backoff.Retry(op, p.backOff(ctx, p.PersistRetries))
}
