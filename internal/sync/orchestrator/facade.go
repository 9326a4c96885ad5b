// Package orchestrator ties the synchronization pieces together behind one
// facade. Scrape code talks to it instead of juggling the poller, the
// context stack and the window tracker by hand: every wait, context entry
// and window switch goes through here, gets logged with the flow ID and
// recorded in metrics, and scoped helpers guarantee the session is
// restored no matter how the wrapped action ends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/sync/contextstack"
	"github.com/sitegrab/engine/internal/sync/poller"
	"github.com/sitegrab/engine/internal/sync/session"
	"github.com/sitegrab/engine/internal/sync/windows"
)

// Facade drives one browser session. Not safe for concurrent use: a
// session executes one command at a time, so callers sequence their flows.
type Facade struct {
	sess    session.Session
	tracker *windows.Tracker

	// Each window keeps its own context stack; switching windows never
	// disturbs the nesting recorded for another window.
	stacks     map[session.WindowHandle]*contextstack.Stack
	currentWin session.WindowHandle

	wait        poller.WaitSpec
	logger      *zap.Logger
	metrics     MetricsRecorder
	flowID      string
	trackerOpts []windows.Option
}

// Option configures a Facade
type Option func(*Facade) error

// WithWaitSpec sets the default wait parameters for all facade operations
func WithWaitSpec(spec poller.WaitSpec) Option {
	return func(f *Facade) error { f.wait = spec; return nil }
}

// WithLogger attaches a logger; the flow ID is added as a field
func WithLogger(logger *zap.Logger) Option {
	return func(f *Facade) error { f.logger = logger; return nil }
}

// WithMetrics installs a metrics recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(f *Facade) error { f.metrics = m; return nil }
}

// WithFlowID tags all log output with the scrape flow's ID
func WithFlowID(id string) Option {
	return func(f *Facade) error { f.flowID = id; return nil }
}

// WithWindowOptions forwards options to the window tracker
func WithWindowOptions(opts ...windows.Option) Option {
	return func(f *Facade) error { f.trackerOpts = append(f.trackerOpts, opts...); return nil }
}

// New creates a facade over a live session. The session's sole window (or
// the one pinned via windows.WithOriginal) becomes the home window.
func New(ctx context.Context, sess session.Session, opts ...Option) (*Facade, error) {
	f := &Facade{
		sess:    sess,
		stacks:  make(map[session.WindowHandle]*contextstack.Stack),
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	if f.flowID != "" {
		f.logger = f.logger.With(zap.String("flow_id", f.flowID))
	}

	trackerOpts := append([]windows.Option{
		windows.WithWaitSpec(f.wait),
		windows.WithLogger(f.logger),
	}, f.trackerOpts...)

	tracker, err := windows.NewTracker(ctx, sess, trackerOpts...)
	if err != nil {
		return nil, fmt.Errorf("init window tracker: %w", err)
	}
	f.tracker = tracker
	f.currentWin = tracker.Original()

	root, err := sess.CurrentScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("read root scope: %w", err)
	}
	f.stacks[f.currentWin] = f.newStack(root)

	return f, nil
}

func (f *Facade) newStack(root session.ContextHandle) *contextstack.Stack {
	return contextstack.New(f.sess, root,
		contextstack.WithWaitSpec(f.wait),
		contextstack.WithLogger(f.logger))
}

// stack returns the current window's context stack
func (f *Facade) stack() *contextstack.Stack {
	return f.stacks[f.currentWin]
}

// Scope reports the context the facade is currently operating in
func (f *Facade) Scope() session.ContextHandle {
	return f.stack().Current()
}

// Depth reports the current window's context nesting depth
func (f *Facade) Depth() int {
	return f.stack().Depth()
}

// CurrentWindow reports the focused window
func (f *Facade) CurrentWindow() session.WindowHandle {
	return f.currentWin
}

// Original reports the scrape's home window
func (f *Facade) Original() session.WindowHandle {
	return f.tracker.Original()
}

// WaitOption tweaks the wait parameters of a single call
type WaitOption func(*poller.WaitSpec)

// Within overrides the timeout for one call
func Within(d time.Duration) WaitOption {
	return func(s *poller.WaitSpec) { s.Timeout = d }
}

// PollEvery overrides the poll interval for one call
func PollEvery(d time.Duration) WaitOption {
	return func(s *poller.WaitSpec) { s.PollInterval = d }
}

// SettleFor adds a bounded post-satisfaction pause to one call
func SettleFor(d time.Duration) WaitOption {
	return func(s *poller.WaitSpec) { s.SettleGrace = d }
}

func (f *Facade) waitSpec(opts []WaitOption) poller.WaitSpec {
	spec := f.wait
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

// WaitForElement blocks until the locator matches an element in the
// current context.
func (f *Facade) WaitForElement(ctx context.Context, loc session.Locator, opts ...WaitOption) (session.ElementRef, error) {
	return observeWait(f, WaitPresent, loc, func() (session.ElementRef, error) {
		return poller.Await(ctx, f.waitSpec(opts),
			poller.ElementPresent(f.sess, f.Scope(), loc))
	})
}

// WaitForVisible blocks until the locator matches a visible element
func (f *Facade) WaitForVisible(ctx context.Context, loc session.Locator, opts ...WaitOption) (session.ElementRef, error) {
	return observeWait(f, WaitVisible, loc, func() (session.ElementRef, error) {
		return poller.Await(ctx, f.waitSpec(opts),
			poller.ElementVisible(f.sess, f.Scope(), loc))
	})
}

// WaitForClickable blocks until the locator matches a visible, enabled
// element.
func (f *Facade) WaitForClickable(ctx context.Context, loc session.Locator, opts ...WaitOption) (session.ElementRef, error) {
	return observeWait(f, WaitClickable, loc, func() (session.ElementRef, error) {
		return poller.Await(ctx, f.waitSpec(opts),
			poller.ElementClickable(f.sess, f.Scope(), loc))
	})
}

// WaitForGone blocks until the locator matches nothing visible
func (f *Facade) WaitForGone(ctx context.Context, loc session.Locator, opts ...WaitOption) error {
	_, err := observeWait(f, WaitGone, loc, func() (bool, error) {
		return poller.Await(ctx, f.waitSpec(opts),
			poller.ElementInvisible(f.sess, f.Scope(), loc))
	})
	return err
}

// Click waits for the element to become clickable and clicks it
func (f *Facade) Click(ctx context.Context, loc session.Locator, opts ...WaitOption) error {
	ref, err := f.WaitForClickable(ctx, loc, opts...)
	if err != nil {
		return err
	}
	if _, err := f.sess.EvaluateScript(ctx, f.Scope(), session.ScriptClick, ref); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

// Evaluate runs a script in the current context
func (f *Facade) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	return f.sess.EvaluateScript(ctx, f.Scope(), script, args...)
}

// observeWait times a wait, logs it and feeds the metrics recorder
func observeWait[T any](f *Facade, kind string, loc session.Locator, run func() (T, error)) (T, error) {
	start := time.Now()
	v, err := run()
	elapsed := time.Since(start)

	outcome := waitOutcome(err)
	f.metrics.ObserveWait(kind, outcome, elapsed)

	if err != nil {
		f.logger.Warn("wait failed",
			zap.String("kind", kind),
			zap.String("locator", loc.String()),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		f.logger.Debug("wait satisfied",
			zap.String("kind", kind),
			zap.String("locator", loc.String()),
			zap.Duration("elapsed", elapsed))
	}
	return v, err
}

func waitOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, poller.ErrWaitTimeout):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

// EnterFrame descends into the frame the locator names
func (f *Facade) EnterFrame(ctx context.Context, loc session.Locator) error {
	if err := f.stack().EnterFrame(ctx, loc); err != nil {
		return err
	}
	f.metrics.ContextEntered("frame")
	return nil
}

// EnterShadow descends into the shadow root the locator's host carries
func (f *Facade) EnterShadow(ctx context.Context, loc session.Locator) error {
	if err := f.stack().EnterShadow(ctx, loc); err != nil {
		return err
	}
	f.metrics.ContextEntered("shadow")
	return nil
}

// ExitContext pops one context level
func (f *Facade) ExitContext(ctx context.Context) error {
	return f.stack().Exit(ctx)
}

// ReturnToRoot unwinds the current window to its top-level document
func (f *Facade) ReturnToRoot(ctx context.Context) error {
	return f.stack().ResetToRoot(ctx)
}

// WithFrame runs fn inside the named frame and restores the previous
// nesting depth afterwards, whether fn succeeds, fails or panics.
func (f *Facade) WithFrame(ctx context.Context, loc session.Locator, fn func(ctx context.Context) error) error {
	return f.scoped(ctx, fn, func() error { return f.EnterFrame(ctx, loc) })
}

// WithShadow runs fn inside the named shadow root and restores the
// previous nesting depth afterwards, whether fn succeeds, fails or panics.
func (f *Facade) WithShadow(ctx context.Context, loc session.Locator, fn func(ctx context.Context) error) error {
	return f.scoped(ctx, fn, func() error { return f.EnterShadow(ctx, loc) })
}

func (f *Facade) scoped(ctx context.Context, fn func(ctx context.Context) error, enter func() error) (err error) {
	depth := f.Depth()

	if eerr := enter(); eerr != nil {
		return eerr
	}

	defer func() {
		if uerr := f.stack().UnwindTo(ctx, depth); uerr != nil {
			err = errors.Join(err, fmt.Errorf("restore context depth %d: %w", depth, uerr))
		}
	}()

	return fn(ctx)
}

// OpenedWindow runs trigger, waits for the window it opens and attaches to
// it. The new window gets a fresh context stack and becomes current; the
// home window stays tracked and reachable via ReturnToOriginal.
func (f *Facade) OpenedWindow(ctx context.Context, trigger func(ctx context.Context) error, opts ...WaitOption) (session.WindowHandle, error) {
	baseline, err := f.tracker.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	if err := trigger(ctx); err != nil {
		return "", fmt.Errorf("window trigger: %w", err)
	}

	start := time.Now()
	win, err := f.tracker.WaitForNewWindowSpec(ctx, baseline, f.waitSpec(opts))
	if err != nil {
		f.metrics.ObserveWait(WaitWindow, waitOutcome(err), time.Since(start))
		return "", err
	}
	f.metrics.ObserveWait(WaitWindow, OutcomeOK, time.Since(start))

	if err := f.attach(ctx, win); err != nil {
		return "", err
	}
	return win, nil
}

// WithNewWindow is the scoped variant of OpenedWindow: it runs fn inside
// the freshly opened window and then switches back to the window that was
// current before, on every path.
func (f *Facade) WithNewWindow(ctx context.Context, trigger, fn func(ctx context.Context) error) (err error) {
	prev := f.currentWin

	if _, err := f.OpenedWindow(ctx, trigger); err != nil {
		return err
	}

	defer func() {
		if aerr := f.attach(ctx, prev); aerr != nil {
			err = errors.Join(err, fmt.Errorf("return to window %q: %w", prev, aerr))
		}
	}()

	return fn(ctx)
}

// SwitchWindow focuses a window already known to the session
func (f *Facade) SwitchWindow(ctx context.Context, win session.WindowHandle) error {
	return f.attach(ctx, win)
}

// ReturnToOriginal focuses the home window again
func (f *Facade) ReturnToOriginal(ctx context.Context) error {
	return f.attach(ctx, f.tracker.Original())
}

// attach focuses a window and installs (or reuses) its context stack
func (f *Facade) attach(ctx context.Context, win session.WindowHandle) error {
	if err := f.tracker.Attach(ctx, win); err != nil {
		return err
	}

	if st, ok := f.stacks[win]; !ok {
		root, err := f.sess.CurrentScope(ctx)
		if err != nil {
			return fmt.Errorf("read root of window %q: %w", win, err)
		}
		f.stacks[win] = f.newStack(root)
	} else if st.Depth() > 0 {
		// A window switch lands on the root document; restore the nesting
		// this window's stack has recorded.
		if err := f.sess.SwitchScope(ctx, st.Current()); err != nil {
			return fmt.Errorf("restore scope of window %q: %w", win, err)
		}
	}

	f.currentWin = win
	f.metrics.WindowSwitched()
	f.logger.Debug("switched window", zap.String("window", string(win)))
	return nil
}
