package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/sync/session"
)

// locateDecl resolves a locator inside `this` (a document, frame document
// or shadow root) and returns the picked element or null.
const locateDecl = `function(sel, useId, pick, index) {
	const root = this;
	let matches;
	if (useId) {
		const el = root.getElementById
			? root.getElementById(sel)
			: root.querySelector('[id="' + CSS.escape(sel) + '"]');
		matches = el ? [el] : [];
	} else {
		matches = Array.from(root.querySelectorAll(sel));
	}
	if (matches.length === 0) return null;
	if (pick === 'last') return matches[matches.length - 1];
	if (pick === 'index') return index < matches.length ? matches[index] : null;
	return matches[0];
}`

// documentDecl resolves the document a frame element embeds, or null when
// `this` is not a frame (or its document is out of process).
const documentDecl = `function() {
	return this.contentDocument
		|| (this.contentWindow && this.contentWindow.document)
		|| null;
}`

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	root   session.ContextHandle
}

// Session implements the synchronization session interface over the Chrome
// DevTools Protocol. Context and element handles map to CDP remote object
// IDs held by this struct; the handles themselves stay opaque strings.
type Session struct {
	mu sync.Mutex

	baseCtx context.Context // chromedp context of the first tab
	logger  *zap.Logger

	tabs   map[session.WindowHandle]*tab
	curWin session.WindowHandle
	// seenWindows preserves first-seen order, which CDP target listings do
	// not guarantee.
	seenWindows []session.WindowHandle

	scopes   map[session.ContextHandle]runtime.RemoteObjectID
	elements map[string]runtime.RemoteObjectID
	current  session.ContextHandle
	seq      int
}

var _ session.Session = (*Session)(nil)

// NewSession wraps a chromedp tab context. The tab's document becomes the
// root scope of the original window.
func NewSession(tabCtx context.Context, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		baseCtx:  tabCtx,
		logger:   logger,
		tabs:     make(map[session.WindowHandle]*tab),
		scopes:   make(map[session.ContextHandle]runtime.RemoteObjectID),
		elements: make(map[string]runtime.RemoteObjectID),
	}

	// Make sure the tab is attached so its target ID is known
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, fmt.Errorf("attach tab: %w", err)
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return nil, ErrNoSuchTarget
	}

	win := session.WindowHandle(c.Target.TargetID)
	s.tabs[win] = &tab{ctx: tabCtx}
	s.curWin = win
	s.seenWindows = []session.WindowHandle{win}

	root, err := s.registerRoot(tabCtx, win)
	if err != nil {
		return nil, err
	}
	s.tabs[win].root = root
	s.current = root

	return s, nil
}

// Navigate loads a URL in the focused window. All scopes and element
// handles of that window are invalidated; the fresh document becomes the
// root scope again.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	t := s.tabs[s.curWin]
	win := s.curWin
	s.mu.Unlock()

	if err := chromedp.Run(t.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigateFailed, url, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropScopes()
	root, err := s.registerRoot(t.ctx, win)
	if err != nil {
		return err
	}
	t.root = root
	s.current = root

	s.logger.Debug("navigated", zap.String("url", url), zap.String("window", string(win)))
	return nil
}

// Locate resolves a locator against a scope
func (s *Session) Locate(ctx context.Context, scope session.ContextHandle, loc session.Locator) (session.ElementRef, error) {
	if err := loc.Validate(); err != nil {
		return session.ElementRef{}, err
	}

	s.mu.Lock()
	objID, ok := s.scopes[scope]
	tabCtx := s.tabCtx()
	s.mu.Unlock()
	if !ok {
		return session.ElementRef{}, fmt.Errorf("locate in %q: %w", scope, session.ErrNoSuchContext)
	}

	pick := "first"
	index := 0
	switch loc.Pick {
	case session.PickLast:
		pick = "last"
	case session.PickIndex:
		pick = "index"
		index = loc.Index
	}

	args, err := callArgs(loc.Value, loc.Strategy == session.ByID, pick, index)
	if err != nil {
		return session.ElementRef{}, err
	}

	res, err := s.callOn(tabCtx, objID, locateDecl, args, false)
	if err != nil {
		return session.ElementRef{}, fmt.Errorf("locate %s: %w", loc, translateCDPError(err))
	}

	if res == nil || res.ObjectID == "" {
		return session.ElementRef{}, fmt.Errorf("locate %s in %q: %w", loc, scope, session.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ref := session.ElementRef{ID: fmt.Sprintf("el-%d", s.seq), Scope: scope}
	s.elements[ref.ID] = res.ObjectID
	return ref, nil
}

// EvaluateScript runs a function declaration against a scope. ElementRef
// arguments are passed as live DOM nodes; everything else is passed by
// value. A DOM node result is registered as a context handle and returned
// as its string form, which is how shadow roots surface.
func (s *Session) EvaluateScript(ctx context.Context, scope session.ContextHandle, script string, args ...any) (any, error) {
	s.mu.Lock()
	objID, ok := s.scopes[scope]
	tabCtx := s.tabCtx()
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("evaluate in %q: %w", scope, session.ErrNoSuchContext)
	}

	cdpArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, a := range args {
		if ref, isRef := a.(session.ElementRef); isRef {
			s.mu.Lock()
			elID, found := s.elements[ref.ID]
			s.mu.Unlock()
			if !found {
				return nil, fmt.Errorf("element %q: %w", ref.ID, session.ErrStaleReference)
			}
			cdpArgs = append(cdpArgs, &runtime.CallArgument{ObjectID: elID})
			continue
		}

		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal script argument: %w", err)
		}
		cdpArgs = append(cdpArgs, &runtime.CallArgument{Value: raw})
	}

	res, err := s.callOn(tabCtx, objID, script, cdpArgs, false)
	if err != nil {
		return nil, translateCDPError(err)
	}

	if res == nil || res.Type == "undefined" {
		return nil, nil
	}

	// Object results become context handles so callers can switch into
	// them (shadow roots, frame documents).
	if res.ObjectID != "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.seq++
		handle := session.ContextHandle(fmt.Sprintf("ctx-%d", s.seq))
		s.scopes[handle] = res.ObjectID
		return string(handle), nil
	}

	if res.Value == nil {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(res.Value, &v); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	return v, nil
}

// SwitchScope activates a context. An element handle switches into the
// document that element embeds, failing with session.ErrNotAFrame when it
// embeds none.
func (s *Session) SwitchScope(ctx context.Context, handle session.ContextHandle) error {
	s.mu.Lock()
	if _, ok := s.scopes[handle]; ok {
		s.current = handle
		s.mu.Unlock()
		return nil
	}

	elID, isElement := s.elements[string(handle)]
	tabCtx := s.tabCtx()
	s.mu.Unlock()

	if !isElement {
		return fmt.Errorf("switch to %q: %w", handle, session.ErrNoSuchContext)
	}

	res, err := s.callOn(tabCtx, elID, documentDecl, nil, false)
	if err != nil {
		return fmt.Errorf("switch to %q: %w", handle, translateCDPError(err))
	}
	if res == nil || res.ObjectID == "" {
		return fmt.Errorf("switch to %q: %w", handle, session.ErrNotAFrame)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	frame := session.ContextHandle(fmt.Sprintf("ctx-%d", s.seq))
	s.scopes[frame] = res.ObjectID
	s.current = frame
	return nil
}

// CurrentScope reports the active context
func (s *Session) CurrentScope(ctx context.Context) (session.ContextHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == "" {
		return "", session.ErrNoSuchContext
	}
	return s.current, nil
}

// ListWindowHandles reports open page targets. First-seen order is
// preserved across calls so additions always land at the end.
//
// Target queries run on the browser's own chromedp context; the caller's
// ctx carries no chromedp state, so it gates the call via its cancellation
// state instead.
func (s *Session) ListWindowHandles(ctx context.Context) ([]session.WindowHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := chromedp.Targets(s.baseCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	live := make(map[session.WindowHandle]bool)
	var fresh []session.WindowHandle
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		h := session.WindowHandle(info.TargetID)
		live[h] = true
		fresh = append(fresh, h)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []session.WindowHandle
	known := make(map[session.WindowHandle]bool)
	for _, h := range s.seenWindows {
		known[h] = true
		if live[h] {
			out = append(out, h)
		}
	}
	for _, h := range fresh {
		if !known[h] {
			out = append(out, h)
			s.seenWindows = append(s.seenWindows, h)
		}
	}

	return out, nil
}

// SwitchWindow attaches to a page target and focuses it. Scope resets to
// that window's root document.
func (s *Session) SwitchWindow(ctx context.Context, handle session.WindowHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	t, attached := s.tabs[handle]
	s.mu.Unlock()

	if !attached {
		infos, err := chromedp.Targets(s.baseCtx)
		if err != nil {
			return fmt.Errorf("list targets: %w", err)
		}

		found := false
		for _, info := range infos {
			if info.Type == "page" && session.WindowHandle(info.TargetID) == handle {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("switch to window %q: %w", handle, session.ErrNoSuchWindow)
		}

		tabCtx, cancel := chromedp.NewContext(s.baseCtx, chromedp.WithTargetID(target.ID(handle)))
		if err := chromedp.Run(tabCtx); err != nil {
			cancel()
			return fmt.Errorf("attach window %q: %w", handle, err)
		}

		t = &tab{ctx: tabCtx, cancel: cancel}
		s.mu.Lock()
		s.tabs[handle] = t
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	root := t.root
	if root == "" {
		var err error
		root, err = s.registerRoot(t.ctx, handle)
		if err != nil {
			return err
		}
		t.root = root
	}

	s.curWin = handle
	s.current = root
	return nil
}

// Close detaches from all additional windows
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tabs {
		if t.cancel != nil {
			t.cancel()
		}
	}
}

// tabCtx returns the focused window's chromedp context. Caller holds the
// lock.
func (s *Session) tabCtx() context.Context {
	if t, ok := s.tabs[s.curWin]; ok {
		return t.ctx
	}
	return s.baseCtx
}

// registerRoot evaluates the window's document and stores it as a scope
func (s *Session) registerRoot(tabCtx context.Context, win session.WindowHandle) (session.ContextHandle, error) {
	var res *runtime.RemoteObject
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		r, exc, err := runtime.Evaluate("document").Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("%w: %s", ErrScriptFailed, exc.Error())
		}
		res = r
		return nil
	}))
	if err != nil {
		return "", fmt.Errorf("resolve root of %q: %w", win, translateCDPError(err))
	}
	if res == nil || res.ObjectID == "" {
		return "", fmt.Errorf("resolve root of %q: %w", win, session.ErrNoSuchContext)
	}

	s.seq++
	root := session.ContextHandle(fmt.Sprintf("root-%d", s.seq))
	s.scopes[root] = res.ObjectID
	return root, nil
}

// dropScopes invalidates all handles after a navigation. Caller holds the
// lock. Element and nested-context handles cannot survive a document
// swap, so everything goes; other windows re-register their roots lazily
// on the next switch.
func (s *Session) dropScopes() {
	s.scopes = make(map[session.ContextHandle]runtime.RemoteObjectID)
	s.elements = make(map[string]runtime.RemoteObjectID)
	for _, t := range s.tabs {
		t.root = ""
	}
}

// callOn invokes a function declaration on a remote object
func (s *Session) callOn(tabCtx context.Context, objID runtime.RemoteObjectID, decl string, args []*runtime.CallArgument, byValue bool) (*runtime.RemoteObject, error) {
	var res *runtime.RemoteObject
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		r, exc, err := runtime.CallFunctionOn(decl).
			WithObjectID(objID).
			WithArguments(args).
			WithReturnByValue(byValue).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("%w: %s", ErrScriptFailed, exc.Error())
		}
		res = r
		return nil
	}))
	return res, err
}

// callArgs marshals locate parameters into CDP call arguments
func callArgs(values ...any) ([]*runtime.CallArgument, error) {
	out := make([]*runtime.CallArgument, 0, len(values))
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, &runtime.CallArgument{Value: raw})
	}
	return out, nil
}

// translateCDPError maps protocol failures onto the session sentinels the
// poller classifies on.
func translateCDPError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "Could not find object with given id"),
		strings.Contains(msg, "Object couldn't be returned by value"),
		strings.Contains(msg, "node is detached"):
		return fmt.Errorf("%v: %w", err, session.ErrStaleReference)
	case strings.Contains(msg, "Cannot find context with specified id"),
		strings.Contains(msg, "Execution context was destroyed"):
		return fmt.Errorf("%v: %w", err, session.ErrNoSuchContext)
	default:
		return err
	}
}
