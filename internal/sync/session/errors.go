package session

import "errors"

// Lookup errors - transient by nature, the page may simply not be ready yet
var (
	ErrNotFound       = errors.New("element not found")
	ErrStaleReference = errors.New("stale element reference")
)

// Navigation errors - the target exists but cannot serve as a scope
var (
	ErrNotAFrame     = errors.New("element does not embed a browsing context")
	ErrNoShadowRoot  = errors.New("element exposes no shadow root")
	ErrNoSuchContext = errors.New("unknown or detached browsing context")
	ErrNoSuchWindow  = errors.New("unknown window handle")
)

// IsRetryable reports whether err means "not ready yet" rather than
// "broken". Only these errors may be absorbed by a polling wait; anything
// else indicates a protocol failure and must surface immediately.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleReference)
}
