package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/storage"
)

// MockRepository is a mock implementation of storage.Repository.
type MockRepository struct {
	mock.Mock
}

var _ storage.Repository = (*MockRepository)(nil)

func (m *MockRepository) SaveGuide(ctx context.Context, g model.GuideArtifact) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *MockRepository) GetGuide(ctx context.Context, jobID string) (*model.GuideArtifact, error) {
	args := m.Called(ctx, jobID)
	g, _ := args.Get(0).(*model.GuideArtifact)
	return g, args.Error(1)
}

func (m *MockRepository) ListGuides(ctx context.Context) ([]model.GuideArtifact, error) {
	args := m.Called(ctx)
	guides, _ := args.Get(0).([]model.GuideArtifact)
	return guides, args.Error(1)
}

func (m *MockRepository) DeleteGuide(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockRepository) ArchiveJob(ctx context.Context, j model.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *MockRepository) GetArchivedJob(ctx context.Context, id string) (*model.Job, error) {
	args := m.Called(ctx, id)
	j, _ := args.Get(0).(*model.Job)
	return j, args.Error(1)
}

func (m *MockRepository) ListArchivedJobs(ctx context.Context) ([]model.Job, error) {
	args := m.Called(ctx)
	jobs, _ := args.Get(0).([]model.Job)
	return jobs, args.Error(1)
}
