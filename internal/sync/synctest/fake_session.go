// Package synctest provides an in-memory session.Session implementation
// for unit and acceptance tests. It models just enough of a browser to
// exercise waiting, nested-context navigation and window tracking without
// a real automation protocol on the wire.
package synctest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sitegrab/engine/internal/sync/session"
)

// Element is a synthetic DOM node. Ref must be unique across the whole
// fake; Selector matching is exact-string, which is all the sync core's
// tests need.
type Element struct {
	Ref      string // remote-object style identifier
	DOMID    string // value matched by id locators
	Selector string // value matched by css locators
	Visible  bool
	Enabled  bool
	Stale    bool

	// FrameTarget names the context this element embeds; empty means the
	// element is not a frame.
	FrameTarget session.ContextHandle
	// ShadowRoot names the context of the element's open shadow tree.
	ShadowRoot session.ContextHandle
	// ShadowClosed marks a shadow tree inaccessible to scripting.
	ShadowClosed bool
}

type fakeContext struct {
	ready    bool
	elements []*Element
}

// Session is the fake. Safe for use from a single test goroutine plus
// mutators; all state is guarded by one mutex.
type Session struct {
	mu sync.Mutex

	contexts      map[session.ContextHandle]*fakeContext
	current       session.ContextHandle
	windows       []session.WindowHandle // creation order
	windowRoots   map[session.WindowHandle]session.ContextHandle
	currentWindow session.WindowHandle
	scriptResults map[string]any
	clickHooks    map[string]func()
}

// New creates an empty fake session. Add at least one window before use.
func New() *Session {
	return &Session{
		contexts:      make(map[session.ContextHandle]*fakeContext),
		windowRoots:   make(map[session.WindowHandle]session.ContextHandle),
		scriptResults: make(map[string]any),
		clickHooks:    make(map[string]func()),
	}
}

// NewWithWindow creates a fake session with one window whose root context
// is ready. The first window becomes the focused one.
func NewWithWindow(win session.WindowHandle, root session.ContextHandle) *Session {
	s := New()
	s.OpenWindow(win, root)
	return s
}

// OpenWindow appends a window with a fresh ready root context. The first
// window opened gains focus.
func (s *Session) OpenWindow(win session.WindowHandle, root session.ContextHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.windows = append(s.windows, win)
	s.windowRoots[win] = root
	if _, exists := s.contexts[root]; !exists {
		s.contexts[root] = &fakeContext{ready: true}
	}
	if s.currentWindow == "" {
		s.currentWindow = win
		s.current = root
	}
}

// CloseWindow removes a window from the live set
func (s *Session) CloseWindow(win session.WindowHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.windows {
		if h == win {
			s.windows = append(s.windows[:i], s.windows[i+1:]...)
			break
		}
	}
	delete(s.windowRoots, win)
}

// AddContext registers a navigable context (frame document or shadow root)
func (s *Session) AddContext(handle session.ContextHandle, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[handle] = &fakeContext{ready: ready}
}

// SetReady flips a context's document-ready state
func (s *Session) SetReady(handle session.ContextHandle, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contexts[handle]; ok {
		c.ready = ready
	}
}

// AddElement places an element inside a context, in DOM order
func (s *Session) AddElement(scope session.ContextHandle, el Element) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[scope]
	if !ok {
		c = &fakeContext{ready: true}
		s.contexts[scope] = c
	}
	copied := el
	c.elements = append(c.elements, &copied)
}

// MarkStale detaches an element: locates stop matching it and evaluations
// against its ref fail with a stale-reference error.
func (s *Session) MarkStale(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el := s.findByRef(ref); el != nil {
		el.Stale = true
	}
}

// SetScriptResult registers the value a custom script evaluates to
func (s *Session) SetScriptResult(script string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scriptResults[script] = v
}

// OnClick registers a hook invoked when ScriptClick runs against ref.
// Tests use it to simulate window-opening actions.
func (s *Session) OnClick(ref string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clickHooks[ref] = fn
}

// CurrentWindow reports the focused window (test inspection helper)
func (s *Session) CurrentWindow() session.WindowHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentWindow
}

// --- session.Session implementation ---

// Locate resolves a locator against a context. Stale elements are treated
// as removed from the DOM.
func (s *Session) Locate(_ context.Context, scope session.ContextHandle, loc session.Locator) (session.ElementRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[scope]
	if !ok {
		return session.ElementRef{}, fmt.Errorf("locate in %q: %w", scope, session.ErrNoSuchContext)
	}

	var matches []*Element
	for _, el := range c.elements {
		if el.Stale {
			continue
		}
		switch loc.Strategy {
		case session.ByID:
			if el.DOMID == loc.Value {
				matches = append(matches, el)
			}
		case session.ByCSS:
			if el.Selector == loc.Value {
				matches = append(matches, el)
			}
		}
	}

	if len(matches) == 0 {
		return session.ElementRef{}, fmt.Errorf("locate %s in %q: %w", loc, scope, session.ErrNotFound)
	}

	var picked *Element
	switch loc.Pick {
	case session.PickLast:
		picked = matches[len(matches)-1]
	case session.PickIndex:
		if loc.Index >= len(matches) {
			return session.ElementRef{}, fmt.Errorf("locate %s in %q: %w", loc, scope, session.ErrNotFound)
		}
		picked = matches[loc.Index]
	default:
		picked = matches[0]
	}

	return session.ElementRef{ID: picked.Ref, Scope: scope}, nil
}

// EvaluateScript interprets the well-known scripts from the session package
// plus any values registered via SetScriptResult.
func (s *Session) EvaluateScript(_ context.Context, scope session.ContextHandle, script string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[scope]
	if !ok {
		return nil, fmt.Errorf("evaluate in %q: %w", scope, session.ErrNoSuchContext)
	}

	switch script {
	case session.ScriptDocumentReady:
		return c.ready, nil

	case session.ScriptIsVisible:
		el, err := s.argElement(args)
		if err != nil {
			return nil, err
		}
		return el.Visible, nil

	case session.ScriptIsClickable:
		el, err := s.argElement(args)
		if err != nil {
			return nil, err
		}
		return el.Visible && el.Enabled, nil

	case session.ScriptShadowRoot:
		el, err := s.argElement(args)
		if err != nil {
			return nil, err
		}
		if el.ShadowClosed || el.ShadowRoot == "" {
			return nil, fmt.Errorf("shadow root of %q: %w", el.Ref, session.ErrNoShadowRoot)
		}
		return string(el.ShadowRoot), nil

	case session.ScriptClick:
		el, err := s.argElement(args)
		if err != nil {
			return nil, err
		}
		if hook := s.clickHooks[el.Ref]; hook != nil {
			// Run outside the lock: hooks typically mutate the fake.
			s.mu.Unlock()
			hook()
			s.mu.Lock()
		}
		return true, nil
	}

	if v, ok := s.scriptResults[script]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unrecognized script %q", script)
}

// SwitchScope activates a context. A handle naming an element enters the
// document that element embeds, failing when it embeds none.
func (s *Session) SwitchScope(_ context.Context, handle session.ContextHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts[handle]; ok {
		s.current = handle
		return nil
	}

	if el := s.findByRef(string(handle)); el != nil {
		if el.Stale {
			return fmt.Errorf("switch to %q: %w", handle, session.ErrStaleReference)
		}
		if el.FrameTarget == "" {
			return fmt.Errorf("switch to %q: %w", handle, session.ErrNotAFrame)
		}
		if _, ok := s.contexts[el.FrameTarget]; !ok {
			return fmt.Errorf("switch to %q: %w", handle, session.ErrNoSuchContext)
		}
		s.current = el.FrameTarget
		return nil
	}

	return fmt.Errorf("switch to %q: %w", handle, session.ErrNoSuchContext)
}

// CurrentScope reports the active context
func (s *Session) CurrentScope(_ context.Context) (session.ContextHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == "" {
		return "", session.ErrNoSuchContext
	}
	return s.current, nil
}

// ListWindowHandles reports open windows in creation order
func (s *Session) ListWindowHandles(_ context.Context) ([]session.WindowHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]session.WindowHandle, len(s.windows))
	copy(out, s.windows)
	return out, nil
}

// SwitchWindow focuses a window and resets scope to its root document
func (s *Session) SwitchWindow(_ context.Context, handle session.WindowHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := s.windowRoots[handle]
	if !ok {
		return fmt.Errorf("switch to window %q: %w", handle, session.ErrNoSuchWindow)
	}
	s.currentWindow = handle
	s.current = root
	return nil
}

// findByRef scans all contexts for an element ref. Caller holds the lock.
func (s *Session) findByRef(ref string) *Element {
	for _, c := range s.contexts {
		for _, el := range c.elements {
			if el.Ref == ref {
				return el
			}
		}
	}
	return nil
}

// argElement resolves the first argument to a live element. Caller holds
// the lock.
func (s *Session) argElement(args []any) (*Element, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("script requires an element argument")
	}

	ref, ok := args[0].(session.ElementRef)
	if !ok {
		return nil, fmt.Errorf("script argument is %T, expected session.ElementRef", args[0])
	}

	el := s.findByRef(ref.ID)
	if el == nil || el.Stale {
		return nil, fmt.Errorf("element %q: %w", ref.ID, session.ErrStaleReference)
	}
	return el, nil
}
