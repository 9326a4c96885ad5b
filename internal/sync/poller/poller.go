// Package poller implements the blocking predicate wait the rest of the
// sync core is built on. One loop, many conditions: every "wait for X"
// in the engine funnels through Await so cadence, timeout accounting and
// retryable-error absorption live in exactly one place.
package poller

import (
	"context"
	"time"

	"github.com/sitegrab/engine/internal/sync/session"
)

const (
	// DefaultPollInterval is the cadence between predicate evaluations
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultTimeout bounds a wait when the caller does not specify one
	DefaultTimeout = 10 * time.Second
	// MaxSettleGrace caps the post-satisfaction grace period. A settle
	// pause is never a substitute for a predicate wait; it only absorbs
	// trailing renderer work after the predicate already held.
	MaxSettleGrace = 5 * time.Second
)

// WaitSpec parameterizes a single wait call. It is constructed per call and
// carries no state across calls.
type WaitSpec struct {
	// Timeout is the wall-clock deadline for the whole wait
	Timeout time.Duration
	// PollInterval is the pause between evaluations
	PollInterval time.Duration
	// Retryable classifies evaluation errors: true means "not ready yet",
	// false aborts the wait immediately. Defaults to session.IsRetryable
	// plus ErrNotSatisfied.
	Retryable func(error) bool
	// SettleGrace is an optional bounded pause after the predicate is
	// satisfied, clamped to MaxSettleGrace
	SettleGrace time.Duration
}

// withDefaults fills zero fields
func (s WaitSpec) withDefaults() WaitSpec {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.Retryable == nil {
		s.Retryable = DefaultRetryable
	}
	if s.SettleGrace > MaxSettleGrace {
		s.SettleGrace = MaxSettleGrace
	}
	return s
}

// DefaultRetryable treats transient lookup failures and unmet conditions as
// "not ready yet"
func DefaultRetryable(err error) bool {
	return session.IsRetryable(err) || IsNotSatisfied(err)
}

// Await evaluates pred at spec.PollInterval cadence until it succeeds, the
// timeout elapses, a non-retryable error occurs, or ctx is cancelled.
//
// Each evaluation runs to completion before the next is issued: the remote
// browser serializes command execution per context, so overlapping
// evaluations are never in flight. On timeout the most recent retryable
// error is embedded in the returned TimeoutError so callers get a reason,
// not a bare deadline.
func Await[T any](ctx context.Context, spec WaitSpec, pred func(context.Context) (T, error)) (T, error) {
	spec = spec.withDefaults()

	var zero T
	var lastErr error

	start := time.Now()
	deadline := start.Add(spec.Timeout)

	for {
		v, err := pred(ctx)
		if err == nil {
			if spec.SettleGrace > 0 {
				if serr := sleepCtx(ctx, spec.SettleGrace); serr != nil {
					return zero, serr
				}
			}
			return v, nil
		}

		// Cancellation wins over classification: a predicate aborted by
		// ctx must not be misread as "not ready".
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if !spec.Retryable(err) {
			return zero, err
		}
		lastErr = err

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, &TimeoutError{Elapsed: time.Since(start), LastErr: lastErr}
		}

		pause := spec.PollInterval
		if pause > remaining {
			pause = remaining
		}
		if serr := sleepCtx(ctx, pause); serr != nil {
			return zero, serr
		}
	}
}

// sleepCtx pauses for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
