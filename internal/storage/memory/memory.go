package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	guides map[string]model.GuideArtifact
	jobs   map[string]model.Job
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		guides: make(map[string]model.GuideArtifact),
		jobs:   make(map[string]model.Job),
		logger: cfg.Logger,
	}, nil
}

// SaveGuide stores a guide artifact, replacing any previous one for the job.
func (r *Repository) SaveGuide(ctx context.Context, g model.GuideArtifact) error {
	if err := g.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.guides[g.JobID] = g
	r.logger.Debugf("Saved guide for job %s", g.JobID)

	return nil
}

// GetGuide retrieves a guide by job ID.
func (r *Repository) GetGuide(ctx context.Context, jobID string) (*model.GuideArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guides[jobID]
	if !ok {
		return nil, fmt.Errorf("guide for job %s: %w", jobID, model.ErrNotFound)
	}

	// Return a copy
	guideCopy := g
	return &guideCopy, nil
}

// ListGuides returns all guides, newest first.
func (r *Repository) ListGuides(ctx context.Context) ([]model.GuideArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	guides := make([]model.GuideArtifact, 0, len(r.guides))
	for _, g := range r.guides {
		guides = append(guides, g)
	}
	sort.Slice(guides, func(i, j int) bool { return guides[i].CreatedAt.After(guides[j].CreatedAt) })

	return guides, nil
}

// DeleteGuide deletes a guide.
func (r *Repository) DeleteGuide(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.guides[jobID]; !ok {
		return fmt.Errorf("guide for job %s: %w", jobID, model.ErrNotFound)
	}

	delete(r.guides, jobID)
	r.logger.Debugf("Deleted guide for job %s", jobID)

	return nil
}

// ArchiveJob stores a finished job, replacing any previous version.
func (r *Repository) ArchiveJob(ctx context.Context, j model.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if !j.Phase.Terminal() {
		return fmt.Errorf("only terminal jobs can be archived: %w", model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[j.ID] = j.Copy()
	r.logger.Debugf("Archived job %s", j.ID)

	return nil
}

// GetArchivedJob retrieves an archived job by ID.
func (r *Repository) GetArchivedJob(ctx context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	jobCopy := j.Copy()
	return &jobCopy, nil
}

// ListArchivedJobs returns all archived jobs, newest first.
func (r *Repository) ListArchivedJobs(ctx context.Context) ([]model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]model.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j.Copy())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })

	return jobs, nil
}
