package model

import "time"

// EventKind classifies progress events.
type EventKind string

const (
	// EventPhaseChanged is emitted on every phase entry, before any phase
	// work begins.
	EventPhaseChanged EventKind = "phase-changed"
	// EventStepCaptured is emitted after each step screenshot capture. The
	// payload carries a preview reference, not the image.
	EventStepCaptured EventKind = "step-captured"
	// EventAuthRequired is emitted when the manual authentication tier starts
	// waiting for the user.
	EventAuthRequired EventKind = "auth-required"
	// EventAuthResolved is emitted when any tier resolves authentication.
	EventAuthResolved EventKind = "auth-resolved"
	// EventError is emitted for step-local and collaborator errors that do
	// not fail the job.
	EventError EventKind = "error"
	// EventDropped marks that a slow subscriber lost events. It replaces the
	// oldest buffered events, never blocks the publisher.
	EventDropped EventKind = "events-dropped"
)

// StepCapture is the payload of a step-captured event.
type StepCapture struct {
	Number        int    `json:"number"`
	Description   string `json:"description"`
	Success       bool   `json:"success"`
	Recovery      bool   `json:"recovery"`
	ScreenshotRef string `json:"screenshot_ref"`
}

// AuthNotice is the payload of auth-required and auth-resolved events.
type AuthNotice struct {
	Summary  string     `json:"summary"`
	Deadline time.Time  `json:"deadline,omitzero"`
	Method   AuthMethod `json:"method,omitempty"`
	Manual   bool       `json:"manual"`
}

// ProgressEvent is one entry of a job's ordered event stream. Sequence
// numbers are dense and strictly increasing per job.
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Sequence  uint64    `json:"sequence"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Phase   JobPhase      `json:"phase,omitempty"`
	Reason  FailureReason `json:"reason,omitempty"`
	Step    *StepCapture  `json:"step,omitempty"`
	Auth    *AuthNotice   `json:"auth,omitempty"`
	Dropped int           `json:"dropped,omitempty"`
	Message string        `json:"message,omitempty"`
}
