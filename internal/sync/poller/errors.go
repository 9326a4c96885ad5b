package poller

import (
	"errors"
	"fmt"
	"time"
)

// Wait errors
var (
	ErrWaitTimeout  = errors.New("wait timeout exceeded")
	ErrNotSatisfied = errors.New("condition not yet satisfied")
)

// TimeoutError reports an exhausted wait together with the last retryable
// error observed, so the caller sees why the predicate never held.
type TimeoutError struct {
	Elapsed time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("wait timeout exceeded after %s: %v", e.Elapsed.Round(time.Millisecond), e.LastErr)
	}
	return fmt.Sprintf("wait timeout exceeded after %s", e.Elapsed.Round(time.Millisecond))
}

// Unwrap exposes the last observed error for errors.Is/As chains
func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// Is matches the ErrWaitTimeout sentinel
func (e *TimeoutError) Is(target error) bool {
	return target == ErrWaitTimeout
}

// IsNotSatisfied reports whether err marks an unmet (but retryable)
// condition
func IsNotSatisfied(err error) bool {
	return errors.Is(err, ErrNotSatisfied)
}
