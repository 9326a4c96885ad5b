// Package windows detects and attaches to browser windows opened during a
// scrape. Window creation is observable only by diffing handle listings,
// so the tracker works from explicit baselines: snapshot before the
// trigger, diff after, attach to the one handle that appeared.
package windows

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/sync/poller"
	"github.com/sitegrab/engine/internal/sync/session"
)

// Set is a baseline of window handles taken at a point in time
type Set map[session.WindowHandle]struct{}

// NewSet builds a Set from handles
func NewSet(handles ...session.WindowHandle) Set {
	s := make(Set, len(handles))
	for _, h := range handles {
		s[h] = struct{}{}
	}
	return s
}

// Has reports membership
func (s Set) Has(h session.WindowHandle) bool {
	_, ok := s[h]
	return ok
}

// Picker resolves which of several simultaneously appeared windows is the
// interesting one. Candidates arrive in the session's listing order, which
// follows creation order.
type Picker func(candidates []session.WindowHandle) session.WindowHandle

// PickNewest selects the most recently created candidate
func PickNewest(candidates []session.WindowHandle) session.WindowHandle {
	return candidates[len(candidates)-1]
}

// Tracker watches the window population of one session
type Tracker struct {
	sess     session.Session
	original session.WindowHandle
	focused  session.WindowHandle // last successfully attached window
	wait     poller.WaitSpec
	pick     Picker
	logger   *zap.Logger
}

// Option configures a Tracker
type Option func(*Tracker)

// WithWaitSpec sets the wait parameters for new-window detection and
// post-attach readiness.
func WithWaitSpec(spec poller.WaitSpec) Option {
	return func(t *Tracker) { t.wait = spec }
}

// WithOriginal pins the window to treat as the scrape's home window.
// Required when the session already has more than one window open.
func WithOriginal(h session.WindowHandle) Option {
	return func(t *Tracker) { t.original = h }
}

// WithPicker installs an ambiguity resolver for waits that observe several
// new windows at once. Without one such waits fail with
// AmbiguousNewWindowError.
func WithPicker(p Picker) Option {
	return func(t *Tracker) { t.pick = p }
}

// WithLogger attaches a logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a tracker and records the original window. When the
// session has exactly one window that window is the original; with more
// than one the caller must pin it via WithOriginal.
func NewTracker(ctx context.Context, sess session.Session, opts ...Option) (*Tracker, error) {
	t := &Tracker{sess: sess, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}

	handles, err := sess.ListWindowHandles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}

	if t.original == "" {
		switch len(handles) {
		case 0:
			return nil, ErrNoWindows
		case 1:
			t.original = handles[0]
		default:
			return nil, fmt.Errorf("%w: %d windows open", ErrOriginalUnknown, len(handles))
		}
	} else {
		if !NewSet(handles...).Has(t.original) {
			return nil, fmt.Errorf("original window %q: %w", t.original, session.ErrNoSuchWindow)
		}
	}
	t.focused = t.original

	return t, nil
}

// Original reports the scrape's home window
func (t *Tracker) Original() session.WindowHandle {
	return t.original
}

// Snapshot captures the current window population. Take one immediately
// before any action that may open a window.
func (t *Tracker) Snapshot(ctx context.Context) (Set, error) {
	handles, err := t.sess.ListWindowHandles(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot windows: %w", err)
	}
	return NewSet(handles...), nil
}

// WaitForNewWindow polls the window listing until a handle absent from the
// baseline appears, returning it. Several simultaneous new handles resolve
// through the tracker's Picker, or fail with AmbiguousNewWindowError when
// none is installed. Windows that closed since the baseline never mask
// detection; only additions count.
func (t *Tracker) WaitForNewWindow(ctx context.Context, baseline Set) (session.WindowHandle, error) {
	return t.WaitForNewWindowSpec(ctx, baseline, t.wait)
}

// WaitForNewWindowSpec is WaitForNewWindow with per-call wait parameters
func (t *Tracker) WaitForNewWindowSpec(ctx context.Context, baseline Set, spec poller.WaitSpec) (session.WindowHandle, error) {
	return poller.Await(ctx, spec, func(ctx context.Context) (session.WindowHandle, error) {
		handles, err := t.sess.ListWindowHandles(ctx)
		if err != nil {
			return "", err
		}

		var fresh []session.WindowHandle
		for _, h := range handles {
			if !baseline.Has(h) {
				fresh = append(fresh, h)
			}
		}

		switch len(fresh) {
		case 0:
			return "", fmt.Errorf("%w: no new window", poller.ErrNotSatisfied)
		case 1:
			return fresh[0], nil
		default:
			if t.pick != nil {
				picked := t.pick(fresh)
				t.logger.Debug("resolved ambiguous new windows",
					zap.Int("candidates", len(fresh)),
					zap.String("picked", string(picked)))
				return picked, nil
			}
			return "", &AmbiguousNewWindowError{Candidates: fresh}
		}
	})
}

// Attach focuses a window and waits for its root document to be ready.
// When the document never becomes ready, focus returns to the previously
// attached window before the error is reported: a failed attach leaves
// the session where it was, not on a half-loaded tab.
func (t *Tracker) Attach(ctx context.Context, h session.WindowHandle) error {
	if err := t.sess.SwitchWindow(ctx, h); err != nil {
		return fmt.Errorf("attach window %q: %w", h, err)
	}

	if err := t.awaitRootReady(ctx, h); err != nil {
		if prev := t.focused; prev != "" && prev != h {
			if rerr := t.sess.SwitchWindow(ctx, prev); rerr != nil {
				return errors.Join(err, fmt.Errorf("restore window %q: %w", prev, rerr))
			}
		}
		return err
	}

	t.focused = h
	t.logger.Debug("attached window", zap.String("window", string(h)))
	return nil
}

func (t *Tracker) awaitRootReady(ctx context.Context, h session.WindowHandle) error {
	root, err := t.sess.CurrentScope(ctx)
	if err != nil {
		return fmt.Errorf("attach window %q: %w", h, err)
	}

	if _, err := poller.Await(ctx, t.wait, poller.DocumentReady(t.sess, root)); err != nil {
		return fmt.Errorf("attach window %q: document not ready: %w", h, err)
	}
	return nil
}

// ReturnToOriginal focuses the scrape's home window again
func (t *Tracker) ReturnToOriginal(ctx context.Context) error {
	return t.Attach(ctx, t.original)
}
