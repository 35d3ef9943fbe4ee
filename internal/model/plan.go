package model

import (
	"fmt"
)

// ActionKind enumerates the closed set of executable step actions. Unknown
// kinds are rejected at plan validation time, not at execution time.
type ActionKind string

const (
	// ActionNavigate loads a URL.
	ActionNavigate ActionKind = "navigate"
	// ActionClick clicks an element.
	ActionClick ActionKind = "click"
	// ActionFill fills an input with a value.
	ActionFill ActionKind = "fill"
	// ActionSelect selects a dropdown option.
	ActionSelect ActionKind = "select"
	// ActionWait waits for a selector or a fixed duration.
	ActionWait ActionKind = "wait"
	// ActionScroll scrolls an element into view.
	ActionScroll ActionKind = "scroll"
	// ActionPressKey sends a keyboard key press.
	ActionPressKey ActionKind = "press_key"
)

// Known reports whether the action kind is part of the executable set.
func (k ActionKind) Known() bool {
	switch k {
	case ActionNavigate, ActionClick, ActionFill, ActionSelect, ActionWait, ActionScroll, ActionPressKey:
		return true
	}
	return false
}

// PlannedStep is one action of a plan.
type PlannedStep struct {
	Number          int
	Kind            ActionKind
	Description     string
	Selector        string
	AltSelectors    []string
	Value           string
	ExpectedOutcome string
}

// Validate validates a planned step.
func (s *PlannedStep) Validate() error {
	if s.Number <= 0 {
		return fmt.Errorf("step number must be positive: %w", ErrNotValid)
	}
	if !s.Kind.Known() {
		return fmt.Errorf("unknown action kind %q: %w", s.Kind, ErrNotValid)
	}
	if s.Description == "" {
		return fmt.Errorf("step %d description is required: %w", s.Number, ErrNotValid)
	}

	switch s.Kind {
	case ActionNavigate:
		if s.Selector == "" && s.Value == "" {
			return fmt.Errorf("step %d navigate needs a url: %w", s.Number, ErrNotValid)
		}
	case ActionClick, ActionSelect, ActionScroll:
		if s.Selector == "" {
			return fmt.Errorf("step %d %s needs a selector: %w", s.Number, s.Kind, ErrNotValid)
		}
	case ActionFill:
		if s.Selector == "" {
			return fmt.Errorf("step %d fill needs a selector: %w", s.Number, ErrNotValid)
		}
	case ActionPressKey:
		if s.Value == "" {
			return fmt.Errorf("step %d press_key needs a key value: %w", s.Number, ErrNotValid)
		}
	}

	return nil
}

// AuthKind classifies the authentication a plan expects.
type AuthKind string

const (
	// AuthKindNone means no authentication is expected.
	AuthKindNone AuthKind = "none"
	// AuthKindOAuth means a third-party sign-in flow is expected.
	AuthKindOAuth AuthKind = "oauth"
	// AuthKindCredentials means a traditional login form is expected.
	AuthKindCredentials AuthKind = "credentials"
	// AuthKindUnknown means the planner could not tell.
	AuthKindUnknown AuthKind = "unknown"
)

// AuthRequirement is the planner's verdict on whether the task needs
// authentication before any step executes.
type AuthRequirement struct {
	Required bool
	Kind     AuthKind
}

// Plan is the ordered action list produced by the planning collaborator.
// Immutable after creation.
type Plan struct {
	Target Target
	Steps  []PlannedStep
	Auth   AuthRequirement

	// Complexity is the planner's own estimate (low, medium, high). Carried
	// for diagnostics only.
	Complexity string
}

// Validate validates the whole plan: non-empty, known action kinds and
// strictly increasing step numbers.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps: %w", ErrNotValid)
	}

	prev := 0
	for i := range p.Steps {
		if err := p.Steps[i].Validate(); err != nil {
			return err
		}
		if p.Steps[i].Number <= prev {
			return fmt.Errorf("step numbers must be strictly increasing: %w", ErrNotValid)
		}
		prev = p.Steps[i].Number
	}

	return nil
}

// Copy returns a deep copy of the plan.
func (p *Plan) Copy() Plan {
	c := *p
	c.Steps = make([]PlannedStep, len(p.Steps))
	copy(c.Steps, p.Steps)
	for i := range c.Steps {
		if p.Steps[i].AltSelectors != nil {
			c.Steps[i].AltSelectors = make([]string, len(p.Steps[i].AltSelectors))
			copy(c.Steps[i].AltSelectors, p.Steps[i].AltSelectors)
		}
	}
	return c
}
