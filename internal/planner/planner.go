package planner

import (
	"context"

	"github.com/flowforge/flowforge/internal/model"
)

// Planner turns a task description into a structured plan.
//
// Implementations must return an error wrapping model.ErrPlanningFailed when
// the task cannot be planned, and model.ErrBackendUnavailable when the
// planning backend itself is unreachable. Both are fatal for the job.
type Planner interface {
	Plan(ctx context.Context, task string, target model.Target) (*model.Plan, error)
}
