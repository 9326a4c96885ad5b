package types

import (
	"fmt"
)

// Step kinds understood by the scrape runner. Each step maps onto one
// orchestrator operation.
const (
	StepNavigate    = "navigate"     // load a URL in the active window
	StepWaitElement = "wait_element" // wait until the locator resolves
	StepWaitVisible = "wait_visible" // wait until the located element is visible
	StepEnterFrame  = "enter_frame"  // descend into the iframe the locator resolves to
	StepEnterShadow = "enter_shadow" // descend into the shadow root of the located host
	StepExitContext = "exit_context" // pop one nesting level
	StepResetToRoot = "reset_root"   // pop to the top document
	StepOpenWindow  = "open_window"  // click the locator, then attach to the window it opens
)

// Locator selection strategies
const (
	SelectByID  = "id"
	SelectByCSS = "css"
)

// Positional pick modes for repeated elements
const (
	PickFirst = "first"
	PickLast  = "last"
	PickNth   = "nth"
)

// LocatorSpec describes how a flow step finds its target element.
type LocatorSpec struct {
	Strategy string `yaml:"strategy" json:"strategy"` // id | css
	Value    string `yaml:"value" json:"value"`
	Pick     string `yaml:"pick,omitempty" json:"pick,omitempty"` // first (default) | last | nth
	Index    int    `yaml:"index,omitempty" json:"index,omitempty"`
}

// Validate checks the locator spec for consistency
func (l *LocatorSpec) Validate() error {
	switch l.Strategy {
	case SelectByID, SelectByCSS:
	default:
		return fmt.Errorf("unknown locator strategy %q", l.Strategy)
	}

	if l.Value == "" {
		return fmt.Errorf("locator value cannot be empty")
	}

	switch l.Pick {
	case "", PickFirst, PickLast:
	case PickNth:
		if l.Index < 0 {
			return fmt.Errorf("locator index must be non-negative for pick %q", PickNth)
		}
	default:
		return fmt.Errorf("unknown locator pick mode %q", l.Pick)
	}

	return nil
}

// FlowStep is a single operation in a scrape flow.
type FlowStep struct {
	Kind    string       `yaml:"kind" json:"kind"`
	URL     string       `yaml:"url,omitempty" json:"url,omitempty"`
	Locator *LocatorSpec `yaml:"locator,omitempty" json:"locator,omitempty"`
	Timeout Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"` // per-step override
}

// Validate checks a single step
func (s *FlowStep) Validate() error {
	switch s.Kind {
	case StepNavigate:
		if s.URL == "" {
			return fmt.Errorf("%s step requires a url", StepNavigate)
		}
	case StepWaitElement, StepWaitVisible, StepEnterFrame, StepEnterShadow, StepOpenWindow:
		if s.Locator == nil {
			return fmt.Errorf("%s step requires a locator", s.Kind)
		}
		if err := s.Locator.Validate(); err != nil {
			return fmt.Errorf("%s step: %w", s.Kind, err)
		}
	case StepExitContext, StepResetToRoot:
		// no parameters
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}

	if s.Timeout < 0 {
		return fmt.Errorf("%s step: timeout cannot be negative", s.Kind)
	}

	return nil
}

// Flow is an ordered scrape routine executed by the runner. The flow owns
// application-level knobs (user agent, selectors); the sync core below it
// owns none of this.
type Flow struct {
	Name      string     `yaml:"name" json:"name"`
	UserAgent string     `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	Steps     []FlowStep `yaml:"steps" json:"steps"`
}

// Validate checks the whole flow definition
func (f *Flow) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("flow name cannot be empty")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %q has no steps", f.Name)
	}

	for i := range f.Steps {
		if err := f.Steps[i].Validate(); err != nil {
			return fmt.Errorf("flow %q step %d: %w", f.Name, i, err)
		}
	}

	return nil
}
