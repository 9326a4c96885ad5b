// Package contextstack tracks the chain of nested browsing contexts a
// session has descended into. Frames and shadow roots share one stack, so
// the engine always knows the exact path from the window's root document
// to the context it is scripting against, and can unwind it reliably.
package contextstack

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/sync/poller"
	"github.com/sitegrab/engine/internal/sync/session"
)

// Stack is the nested-context ledger for one window. It is not safe for
// concurrent use; the session serializes commands per window anyway.
type Stack struct {
	sess   session.Session
	frames []session.ContextHandle // root-first, frames[0] is the window root
	wait   poller.WaitSpec
	logger *zap.Logger
}

// Option configures a Stack
type Option func(*Stack)

// WithWaitSpec sets the wait parameters used for element lookup and
// document-readiness checks during context entry.
func WithWaitSpec(spec poller.WaitSpec) Option {
	return func(s *Stack) { s.wait = spec }
}

// WithLogger attaches a logger; entries are logged at debug level
func WithLogger(logger *zap.Logger) Option {
	return func(s *Stack) { s.logger = logger }
}

// New creates a stack rooted at the window's top-level document
func New(sess session.Session, root session.ContextHandle, opts ...Option) *Stack {
	s := &Stack{
		sess:   sess,
		frames: []session.ContextHandle{root},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current reports the context at the top of the stack
func (s *Stack) Current() session.ContextHandle {
	return s.frames[len(s.frames)-1]
}

// Root reports the window's top-level context
func (s *Stack) Root() session.ContextHandle {
	return s.frames[0]
}

// Depth reports how many contexts deep the stack is; zero means root
func (s *Stack) Depth() int {
	return len(s.frames) - 1
}

// Path returns the root-first chain of contexts
func (s *Stack) Path() []session.ContextHandle {
	out := make([]session.ContextHandle, len(s.frames))
	copy(out, s.frames)
	return out
}

// EnterFrame locates a frame element in the current context, switches into
// the document it embeds, waits for that document to be ready and pushes
// it. On any failure the stack and the session scope are left where they
// were: a failed entry never produces a half-entered state.
func (s *Stack) EnterFrame(ctx context.Context, loc session.Locator) error {
	prev := s.Current()

	ref, err := poller.Await(ctx, s.wait, poller.ElementPresent(s.sess, prev, loc))
	if err != nil {
		return entryNotFound("enter frame", loc, err)
	}

	if err := s.sess.SwitchScope(ctx, ref.AsContext()); err != nil {
		return fmt.Errorf("enter frame %s: %w", loc, err)
	}

	// The frame handle resolves to the embedded document's own context.
	entered, err := s.sess.CurrentScope(ctx)
	if err != nil {
		return s.abortEntry(ctx, prev, fmt.Errorf("enter frame %s: %w", loc, err))
	}

	if _, err := poller.Await(ctx, s.wait, poller.DocumentReady(s.sess, entered)); err != nil {
		return s.abortEntry(ctx, prev, fmt.Errorf("enter frame %s: document not ready: %w", loc, err))
	}

	s.frames = append(s.frames, entered)
	s.logger.Debug("entered frame",
		zap.String("locator", loc.String()),
		zap.String("context", string(entered)),
		zap.Int("depth", s.Depth()))
	return nil
}

// EnterShadow locates a shadow host in the current context, obtains its
// shadow root and pushes it. A closed or absent shadow tree fails with
// session.ErrNoShadowRoot; retrying cannot help, so no wait is applied to
// the root lookup itself.
func (s *Stack) EnterShadow(ctx context.Context, loc session.Locator) error {
	prev := s.Current()

	ref, err := poller.Await(ctx, s.wait, poller.ElementPresent(s.sess, prev, loc))
	if err != nil {
		return entryNotFound("enter shadow", loc, err)
	}

	res, err := s.sess.EvaluateScript(ctx, prev, session.ScriptShadowRoot, ref)
	if err != nil {
		return fmt.Errorf("enter shadow %s: %w", loc, err)
	}

	handle, ok := res.(string)
	if !ok || handle == "" {
		return fmt.Errorf("enter shadow %s: %w", loc, session.ErrNoShadowRoot)
	}

	shadow := session.ContextHandle(handle)
	if err := s.sess.SwitchScope(ctx, shadow); err != nil {
		return fmt.Errorf("enter shadow %s: %w", loc, err)
	}

	s.frames = append(s.frames, shadow)
	s.logger.Debug("entered shadow root",
		zap.String("locator", loc.String()),
		zap.String("context", string(shadow)),
		zap.Int("depth", s.Depth()))
	return nil
}

// Exit pops the current context and switches back to its parent. At root
// it fails with ErrAtRoot and changes nothing.
func (s *Stack) Exit(ctx context.Context) error {
	if s.Depth() == 0 {
		return ErrAtRoot
	}

	parent := s.frames[len(s.frames)-2]
	if err := s.sess.SwitchScope(ctx, parent); err != nil {
		return fmt.Errorf("exit to %q: %w", parent, err)
	}

	s.frames = s.frames[:len(s.frames)-1]
	s.logger.Debug("exited context",
		zap.String("context", string(parent)),
		zap.Int("depth", s.Depth()))
	return nil
}

// ResetToRoot drops all nested contexts and switches to the window root.
// Calling it at root is a no-op that still re-asserts the scope, which
// recovers from scope drift after navigations.
func (s *Stack) ResetToRoot(ctx context.Context) error {
	root := s.Root()
	if err := s.sess.SwitchScope(ctx, root); err != nil {
		return fmt.Errorf("reset to root %q: %w", root, err)
	}

	s.frames = s.frames[:1]
	return nil
}

// UnwindTo pops contexts until the stack is depth deep. Used to restore a
// recorded depth after scoped work, even when that work failed mid-entry.
func (s *Stack) UnwindTo(ctx context.Context, depth int) error {
	if depth < 0 {
		return fmt.Errorf("unwind to negative depth %d", depth)
	}
	for s.Depth() > depth {
		if err := s.Exit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// entryNotFound wraps a failed presence wait for a frame or shadow host.
// Timeouts additionally carry ErrContextNotFound: the context could not be
// entered because its element never showed up.
func entryNotFound(op string, loc session.Locator, err error) error {
	if errors.Is(err, poller.ErrWaitTimeout) {
		return fmt.Errorf("%s %s: %w: %w", op, loc, ErrContextNotFound, err)
	}
	return fmt.Errorf("%s %s: %w", op, loc, err)
}

// abortEntry restores the pre-entry scope after a failed entry
func (s *Stack) abortEntry(ctx context.Context, prev session.ContextHandle, cause error) error {
	if rerr := s.sess.SwitchScope(ctx, prev); rerr != nil {
		return errors.Join(cause, fmt.Errorf("restore scope %q: %w", prev, rerr))
	}
	return cause
}
