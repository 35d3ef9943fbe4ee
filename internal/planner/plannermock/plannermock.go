package plannermock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/planner"
)

// MockPlanner is a mock implementation of planner.Planner.
type MockPlanner struct {
	mock.Mock
}

var _ planner.Planner = (*MockPlanner)(nil)

func (m *MockPlanner) Plan(ctx context.Context, task string, target model.Target) (*model.Plan, error) {
	args := m.Called(ctx, task, target)
	plan, _ := args.Get(0).(*model.Plan)
	return plan, args.Error(1)
}
