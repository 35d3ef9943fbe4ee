package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/flowforge/internal/model"
)

func TestJobPhaseCanTransition(t *testing.T) {
	tests := map[string]struct {
		from   model.JobPhase
		to     model.JobPhase
		expVal bool
	}{
		"Pending moves to planning": {
			from: model.JobPhasePending, to: model.JobPhasePlanning, expVal: true,
		},
		"Planning moves to authenticating": {
			from: model.JobPhasePlanning, to: model.JobPhaseAuthenticating, expVal: true,
		},
		"Planning skips authenticating when not required": {
			from: model.JobPhasePlanning, to: model.JobPhaseExecuting, expVal: true,
		},
		"Authenticating moves to executing": {
			from: model.JobPhaseAuthenticating, to: model.JobPhaseExecuting, expVal: true,
		},
		"Executing moves to validating": {
			from: model.JobPhaseExecuting, to: model.JobPhaseValidating, expVal: true,
		},
		"Validating moves to completed": {
			from: model.JobPhaseValidating, to: model.JobPhaseCompleted, expVal: true,
		},
		"Failure is reachable from pending": {
			from: model.JobPhasePending, to: model.JobPhaseFailed, expVal: true,
		},
		"Failure is reachable from validating": {
			from: model.JobPhaseValidating, to: model.JobPhaseFailed, expVal: true,
		},
		"Phases never move backwards": {
			from: model.JobPhaseExecuting, to: model.JobPhasePlanning, expVal: false,
		},
		"Phases never skip forward past the next hop": {
			from: model.JobPhasePending, to: model.JobPhaseExecuting, expVal: false,
		},
		"Completed is terminal": {
			from: model.JobPhaseCompleted, to: model.JobPhaseFailed, expVal: false,
		},
		"Failed is terminal": {
			from: model.JobPhaseFailed, to: model.JobPhasePlanning, expVal: false,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expVal, tt.from.CanTransition(tt.to))
		})
	}
}

func TestJobCopyIsolation(t *testing.T) {
	job := model.Job{
		ID:   "01JOB",
		Task: "export the monthly report",
		Plan: &model.Plan{
			Steps: []model.PlannedStep{
				{Number: 1, Kind: model.ActionNavigate, Description: "Open app", Value: "https://app.example.com"},
			},
		},
		Steps: []model.ExecutionAttempt{{StepNumber: 1, Success: true}},
		Auth:  &model.AuthOutcome{Success: true, Method: model.AuthMethodExistingSession},
	}

	snap := job.Copy()

	// Mutations on the original must not be visible through the snapshot.
	job.Steps[0].Success = false
	job.Plan.Steps[0].Description = "changed"
	job.Auth.Success = false

	assert.True(t, snap.Steps[0].Success)
	assert.Equal(t, "Open app", snap.Plan.Steps[0].Description)
	assert.True(t, snap.Auth.Success)
}
