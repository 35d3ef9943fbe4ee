package vision

import (
	"context"

	"github.com/flowforge/flowforge/internal/model"
)

// StepContext describes the failed step a recovery suggestion is asked for.
type StepContext struct {
	Description     string
	ExpectedOutcome string
	PageURL         string
	// RemainingSteps are the descriptions of the steps still to run, they give
	// the model the bigger picture.
	RemainingSteps []string
}

// RecoveryAction is a corrective action suggested from a failure screenshot,
// executed immediately against the session.
type RecoveryAction struct {
	Kind     model.ActionKind
	Selector string
	Value    string
}

// Suggestion is the outcome of a recovery round-trip: either a corrective
// action, or the signal that an authentication blocker is in the way.
type Suggestion struct {
	// AuthBlocker is set when the screenshot shows a login wall. The caller
	// must run the authentication negotiation and retry the step.
	AuthBlocker bool
	Action      *RecoveryAction
	Observation string
}

// Recovery proposes corrective actions from failure screenshots.
//
// Implementations return an error wrapping model.ErrBackendUnavailable when
// the vision backend fails or times out. Callers treat that as step-local.
type Recovery interface {
	Suggest(ctx context.Context, screenshotRef string, stepCtx StepContext) (*Suggestion, error)
}

// Validator annotates a finished guide against the captured step history.
// Best-effort, failures never gate the job.
type Validator interface {
	Validate(ctx context.Context, guide *model.GuideArtifact, attempts []model.ExecutionAttempt) (string, error)
}
