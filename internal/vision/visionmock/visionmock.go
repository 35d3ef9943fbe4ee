package visionmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/vision"
)

// MockRecovery is a mock implementation of vision.Recovery.
type MockRecovery struct {
	mock.Mock
}

var _ vision.Recovery = (*MockRecovery)(nil)

func (m *MockRecovery) Suggest(ctx context.Context, screenshotRef string, stepCtx vision.StepContext) (*vision.Suggestion, error) {
	args := m.Called(ctx, screenshotRef, stepCtx)
	suggestion, _ := args.Get(0).(*vision.Suggestion)
	return suggestion, args.Error(1)
}

// MockValidator is a mock implementation of vision.Validator.
type MockValidator struct {
	mock.Mock
}

var _ vision.Validator = (*MockValidator)(nil)

func (m *MockValidator) Validate(ctx context.Context, guide *model.GuideArtifact, attempts []model.ExecutionAttempt) (string, error) {
	args := m.Called(ctx, guide, attempts)
	return args.String(0), args.Error(1)
}
