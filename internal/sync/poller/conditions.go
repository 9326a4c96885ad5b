package poller

import (
	"context"
	"fmt"
	"reflect"

	"github.com/sitegrab/engine/internal/sync/session"
)

// Condition builders. Each returns a predicate closure for Await; none of
// them carries its own loop, so every condition kind shares the same
// timeout, cadence and error-absorption semantics.

// ElementPresent resolves once the locator matches an element in scope.
func ElementPresent(sess session.Session, scope session.ContextHandle, loc session.Locator) func(context.Context) (session.ElementRef, error) {
	return func(ctx context.Context) (session.ElementRef, error) {
		return sess.Locate(ctx, scope, loc)
	}
}

// ElementVisible resolves once the located element takes up layout space
// and is not CSS-hidden.
func ElementVisible(sess session.Session, scope session.ContextHandle, loc session.Locator) func(context.Context) (session.ElementRef, error) {
	return elementState(sess, scope, loc, session.ScriptIsVisible, "visible")
}

// ElementClickable resolves once the located element is visible and
// enabled for pointer interaction.
func ElementClickable(sess session.Session, scope session.ContextHandle, loc session.Locator) func(context.Context) (session.ElementRef, error) {
	return elementState(sess, scope, loc, session.ScriptIsClickable, "clickable")
}

func elementState(sess session.Session, scope session.ContextHandle, loc session.Locator, script, state string) func(context.Context) (session.ElementRef, error) {
	return func(ctx context.Context) (session.ElementRef, error) {
		ref, err := sess.Locate(ctx, scope, loc)
		if err != nil {
			return session.ElementRef{}, err
		}

		ok, err := evalBool(ctx, sess, scope, script, ref)
		if err != nil {
			return session.ElementRef{}, err
		}
		if !ok {
			return session.ElementRef{}, fmt.Errorf("%w: %s not %s", ErrNotSatisfied, loc, state)
		}
		return ref, nil
	}
}

// ElementInvisible resolves once the locator matches nothing, or matches an
// element that is hidden. A stale reference counts as gone.
func ElementInvisible(sess session.Session, scope session.ContextHandle, loc session.Locator) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		ref, err := sess.Locate(ctx, scope, loc)
		if err != nil {
			if session.IsRetryable(err) {
				return true, nil
			}
			return false, err
		}

		visible, err := evalBool(ctx, sess, scope, session.ScriptIsVisible, ref)
		if err != nil {
			if session.IsRetryable(err) {
				return true, nil
			}
			return false, err
		}
		if visible {
			return false, fmt.Errorf("%w: %s still visible", ErrNotSatisfied, loc)
		}
		return true, nil
	}
}

// DocumentReady resolves once the scope's document has finished parsing.
// Context entry uses this as the readiness check at each hop.
func DocumentReady(sess session.Session, scope session.ContextHandle) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		ok, err := evalBool(ctx, sess, scope, session.ScriptDocumentReady)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("%w: document not ready", ErrNotSatisfied)
		}
		return true, nil
	}
}

// ScriptSatisfied resolves once the custom script evaluates to want.
func ScriptSatisfied(sess session.Session, scope session.ContextHandle, script string, want any, args ...any) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		got, err := sess.EvaluateScript(ctx, scope, script, args...)
		if err != nil {
			return nil, err
		}
		if !reflect.DeepEqual(got, want) {
			return nil, fmt.Errorf("%w: script returned %v, want %v", ErrNotSatisfied, got, want)
		}
		return got, nil
	}
}

// evalBool evaluates a script expected to return a boolean
func evalBool(ctx context.Context, sess session.Session, scope session.ContextHandle, script string, args ...any) (bool, error) {
	res, err := sess.EvaluateScript(ctx, scope, script, args...)
	if err != nil {
		return false, err
	}

	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("script returned %T, expected bool", res)
	}
	return b, nil
}
