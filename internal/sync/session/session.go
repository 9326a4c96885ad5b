// Package session defines the narrow capability surface the sync core
// requires from a remote browser. Concrete automation protocols (CDP,
// WebDriver, ...) implement Session; everything above it is polymorphic
// over the protocol.
package session

import (
	"context"
)

// ContextHandle is an opaque identifier for a navigable scope: the top
// document, an iframe's inner document, or a shadow root. Handles are owned
// by the remote browser session; the core never holds DOM state, only
// references.
type ContextHandle string

// WindowHandle is an opaque identifier for a top-level window or tab.
type WindowHandle string

// ElementRef references a single element resolved inside a scope. The ID is
// owned by the browser session and may go stale when the page re-renders.
type ElementRef struct {
	ID    string
	Scope ContextHandle
}

// AsContext converts the element reference into a context handle. Passing
// the result to SwitchScope enters the document embedded by the element;
// the session reports ErrNotAFrame when the element embeds none.
func (r ElementRef) AsContext() ContextHandle {
	return ContextHandle(r.ID)
}

// Session is the external collaborator contract. Every method performs
// exactly one protocol round trip: no implicit waiting, no retries. Only
// one call may be in flight per session at a time; callers sequence their
// own use.
type Session interface {
	// Locate resolves a locator against the given scope. Returns
	// ErrNotFound when no element matches.
	Locate(ctx context.Context, scope ContextHandle, loc Locator) (ElementRef, error)

	// EvaluateScript runs a script in the given scope and returns its
	// value. Element arguments are passed as ElementRef. The well-known
	// scripts in scripts.go cover readiness, visibility and shadow-root
	// retrieval; sessions may reject scripts they do not recognize.
	EvaluateScript(ctx context.Context, scope ContextHandle, script string, args ...any) (any, error)

	// SwitchScope makes the given context the active one for subsequent
	// commands. Fails with ErrNotAFrame when the handle names an element
	// that embeds no document, and ErrNoSuchContext when the handle is
	// unknown or detached.
	SwitchScope(ctx context.Context, handle ContextHandle) error

	// CurrentScope reports the active context handle.
	CurrentScope(ctx context.Context) (ContextHandle, error)

	// ListWindowHandles reports all open windows/tabs. The returned slice
	// preserves the ordering the browser surfaces, oldest first where the
	// protocol guarantees one.
	ListWindowHandles(ctx context.Context) ([]WindowHandle, error)

	// SwitchWindow moves session focus to the given window. The context
	// scope becomes that window's top document.
	SwitchWindow(ctx context.Context, handle WindowHandle) error
}
