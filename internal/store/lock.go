package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// LockPolicy bounds how long a writer waits for the single write lock.
type LockPolicy struct {
	Attempts uint64
	Base     time.Duration
	Max      time.Duration
}

var DefaultLockPolicy = LockPolicy{
	Attempts: 8,
	Base:     5 * time.Millisecond,
	Max:      250 * time.Millisecond,
}

var errLockBusy = errors.New("store: write lock busy")

// AcquireWriter calls try with exponential backoff until it reports the lock
// as held. Exhausting the policy yields ErrLockTimeout.
func AcquireWriter(ctx context.Context, p LockPolicy, try func(ctx context.Context) (bool, error)) error {
	if p.Base <= 0 {
		p = DefaultLockPolicy
	}
	backoff, err := retry.NewExponential(p.Base)
	if err != nil {
		return fmt.Errorf("store: lock backoff: %w", err)
	}
	if p.Max > 0 {
		backoff = retry.WithCappedDuration(p.Max, backoff)
	}
	backoff = retry.WithMaxRetries(p.Attempts, backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(errLockBusy)
		}
		return nil
	})
	if errors.Is(err, errLockBusy) {
		return ErrLockTimeout
	}
	return err
}
