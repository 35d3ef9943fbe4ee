package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrPlanningFailed is returned when the planner fails or produces an
	// empty plan. Fatal for the job.
	ErrPlanningFailed = errors.New("planning failed")
	// ErrAuthFailed is returned when the authentication negotiation exhausts
	// all tiers without success. Fatal for the job.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrAuthTimedOut is returned when the manual authentication tier reaches
	// its deadline with neither waiter completing. Fatal for the job.
	ErrAuthTimedOut = errors.New("authentication timed out")
	// ErrCancelled is returned when a job is cancelled cooperatively.
	ErrCancelled = errors.New("cancelled")
	// ErrSelectorExhausted is returned by a step when the primary selector and
	// every alternative failed. Step-local, the job continues degraded.
	ErrSelectorExhausted = errors.New("all selectors exhausted")
	// ErrRecoveryExhausted is returned by a step when the vision recovery
	// budget ran out without fixing it. Step-local.
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")
	// ErrBackendUnavailable is returned when an external collaborator call
	// fails or times out. Classification depends on the call site.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
