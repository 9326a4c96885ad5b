package contextstack

import (
	"errors"

	"github.com/sitegrab/engine/internal/sync/session"
)

// ErrAtRoot is returned by Exit when the stack holds only the root context
var ErrAtRoot = errors.New("already at root context")

// ErrContextNotFound marks an entry whose frame or shadow-host element
// never appeared within the wait. It arrives wrapped together with the
// poller's timeout error, so either sentinel matches.
var ErrContextNotFound = errors.New("context element not found")

// Entry failures surface the session-level sentinels unchanged, so callers
// match them without importing both packages.
var (
	ErrNotAFrame    = session.ErrNotAFrame
	ErrNoShadowRoot = session.ErrNoShadowRoot
)
