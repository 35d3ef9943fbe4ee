package storage

import (
	"context"

	"github.com/flowforge/flowforge/internal/model"
)

// GuideRepository is the interface for guide artifact persistence.
type GuideRepository interface {
	SaveGuide(ctx context.Context, g model.GuideArtifact) error
	GetGuide(ctx context.Context, jobID string) (*model.GuideArtifact, error)
	ListGuides(ctx context.Context) ([]model.GuideArtifact, error)
	DeleteGuide(ctx context.Context, jobID string) error
}

// JobArchive is the interface for finished job persistence. Jobs land here
// when they leave the live registry.
type JobArchive interface {
	ArchiveJob(ctx context.Context, j model.Job) error
	GetArchivedJob(ctx context.Context, id string) (*model.Job, error)
	ListArchivedJobs(ctx context.Context) ([]model.Job, error)
}

// Repository is the combined persistence surface.
type Repository interface {
	GuideRepository
	JobArchive
}

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name Repository
