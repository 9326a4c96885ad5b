package session

import (
	"fmt"

	"github.com/sitegrab/engine/pkg/types"
)

// Strategy selects how a locator value is interpreted.
type Strategy string

const (
	// ByID matches an element by its id attribute
	ByID Strategy = "id"
	// ByCSS matches elements by CSS selector
	ByCSS Strategy = "css"
)

// Pick selects which of several matches is returned. Repeated/templated UI
// elements (radio groups, option lists) are common, and the last occurrence
// is frequently the semantically correct one, so positional picking is a
// first-class mode.
type Pick int

const (
	// PickFirst returns the first match (default)
	PickFirst Pick = iota
	// PickLast returns the final match
	PickLast
	// PickIndex returns the match at Locator.Index (zero-based)
	PickIndex
)

// String returns the pick mode name for logs
func (p Pick) String() string {
	switch p {
	case PickFirst:
		return "first"
	case PickLast:
		return "last"
	case PickIndex:
		return "nth"
	default:
		return "unknown"
	}
}

// Locator describes how to find an element within a scope.
type Locator struct {
	Strategy Strategy
	Value    string
	Pick     Pick
	Index    int
}

// ID builds a by-id locator
func ID(id string) Locator {
	return Locator{Strategy: ByID, Value: id}
}

// CSS builds a CSS-selector locator
func CSS(selector string) Locator {
	return Locator{Strategy: ByCSS, Value: selector}
}

// Last returns a copy of the locator that picks the final match
func (l Locator) Last() Locator {
	l.Pick = PickLast
	return l
}

// Nth returns a copy of the locator that picks the match at index i
func (l Locator) Nth(i int) Locator {
	l.Pick = PickIndex
	l.Index = i
	return l
}

// String renders the locator for logging, e.g. "css:.menu li[last]"
func (l Locator) String() string {
	switch l.Pick {
	case PickLast:
		return fmt.Sprintf("%s:%s[last]", l.Strategy, l.Value)
	case PickIndex:
		return fmt.Sprintf("%s:%s[%d]", l.Strategy, l.Value, l.Index)
	default:
		return fmt.Sprintf("%s:%s", l.Strategy, l.Value)
	}
}

// Validate checks the locator before it is sent to a session
func (l Locator) Validate() error {
	switch l.Strategy {
	case ByID, ByCSS:
	default:
		return fmt.Errorf("unknown locator strategy %q", l.Strategy)
	}
	if l.Value == "" {
		return fmt.Errorf("locator value cannot be empty")
	}
	if l.Pick == PickIndex && l.Index < 0 {
		return fmt.Errorf("locator index must be non-negative")
	}
	return nil
}

// FromSpec converts a flow-level locator spec into a session locator.
func FromSpec(spec *types.LocatorSpec) (Locator, error) {
	if spec == nil {
		return Locator{}, fmt.Errorf("locator spec is required")
	}
	if err := spec.Validate(); err != nil {
		return Locator{}, err
	}

	loc := Locator{Value: spec.Value}

	switch spec.Strategy {
	case types.SelectByID:
		loc.Strategy = ByID
	case types.SelectByCSS:
		loc.Strategy = ByCSS
	}

	switch spec.Pick {
	case "", types.PickFirst:
		loc.Pick = PickFirst
	case types.PickLast:
		loc.Pick = PickLast
	case types.PickNth:
		loc.Pick = PickIndex
		loc.Index = spec.Index
	}

	return loc, nil
}
