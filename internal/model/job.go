package model

import (
	"fmt"
	"time"
)

// JobPhase represents the phase a job is in.
type JobPhase string

const (
	// JobPhasePending indicates the job is queued waiting for a worker slot.
	JobPhasePending JobPhase = "pending"
	// JobPhasePlanning indicates the plan is being produced.
	JobPhasePlanning JobPhase = "planning"
	// JobPhaseAuthenticating indicates the authentication negotiation runs.
	JobPhaseAuthenticating JobPhase = "authenticating"
	// JobPhaseExecuting indicates planned steps are being executed.
	JobPhaseExecuting JobPhase = "executing"
	// JobPhaseValidating indicates the guide is being assembled and validated.
	JobPhaseValidating JobPhase = "validating"
	// JobPhaseCompleted indicates the job finished and produced a guide.
	JobPhaseCompleted JobPhase = "completed"
	// JobPhaseFailed indicates the job reached a terminal failure.
	JobPhaseFailed JobPhase = "failed"
)

// Terminal returns true when no further phase transition is possible.
func (p JobPhase) Terminal() bool {
	return p == JobPhaseCompleted || p == JobPhaseFailed
}

// phaseSuccessors is the fixed directed path of the job state machine.
// JobPhaseFailed is reachable from every non-terminal phase and is handled
// separately in CanTransition.
var phaseSuccessors = map[JobPhase][]JobPhase{
	JobPhasePending:        {JobPhasePlanning},
	JobPhasePlanning:       {JobPhaseAuthenticating, JobPhaseExecuting},
	JobPhaseAuthenticating: {JobPhaseExecuting},
	JobPhaseExecuting:      {JobPhaseValidating},
	JobPhaseValidating:     {JobPhaseCompleted},
}

// CanTransition reports whether moving from p to next respects the monotonic
// phase path.
func (p JobPhase) CanTransition(next JobPhase) bool {
	if p.Terminal() {
		return false
	}
	if next == JobPhaseFailed {
		return true
	}
	for _, s := range phaseSuccessors[p] {
		if s == next {
			return true
		}
	}
	return false
}

// FailureReason classifies why a job failed. Callers never see raw
// collaborator errors, only one of these.
type FailureReason string

const (
	// FailureReasonNone is set on jobs that did not fail.
	FailureReasonNone FailureReason = ""
	// FailureReasonPlanningFailed indicates the planner errored or returned
	// an empty plan.
	FailureReasonPlanningFailed FailureReason = "planning_failed"
	// FailureReasonAuthenticationFailed indicates all authentication tiers
	// failed or the manual tier timed out.
	FailureReasonAuthenticationFailed FailureReason = "authentication_failed"
	// FailureReasonCancelled indicates the job was cancelled.
	FailureReasonCancelled FailureReason = "cancelled"
	// FailureReasonInternal indicates an unexpected internal error.
	FailureReasonInternal FailureReason = "internal_error"
)

// Target identifies the web application a job runs against. Both fields are
// optional on submission, the planner infers missing ones.
type Target struct {
	Name string
	URL  string
}

// Job is one end-to-end request to produce a workflow guide.
type Job struct {
	ID     string
	Task   string
	Target Target

	Phase    JobPhase
	Reason   FailureReason
	Degraded bool

	CreatedAt      time.Time
	PhaseEnteredAt time.Time
	CompletedAt    *time.Time

	Plan     *Plan
	Steps    []ExecutionAttempt
	Auth     *AuthOutcome
	GuideRef string
	Error    string
}

// Validate validates the job submission fields.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if j.Task == "" {
		return fmt.Errorf("task is required: %w", ErrNotValid)
	}
	return nil
}

// Copy returns a deep copy of the job so readers get a consistent snapshot
// that cannot observe later mutations by the owning pipeline.
func (j *Job) Copy() Job {
	c := *j

	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Plan != nil {
		p := j.Plan.Copy()
		c.Plan = &p
	}
	if j.Steps != nil {
		c.Steps = make([]ExecutionAttempt, len(j.Steps))
		copy(c.Steps, j.Steps)
	}
	if j.Auth != nil {
		a := j.Auth.Copy()
		c.Auth = &a
	}

	return c
}
