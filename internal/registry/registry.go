package registry

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/flowforge/flowforge/internal/browser"
	"github.com/flowforge/flowforge/internal/eventbus"
	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/storage"
)

// PipelineRunner drives one admitted job to a terminal phase.
// pipeline.Pipeline satisfies it.
type PipelineRunner interface {
	Run(ctx context.Context, job model.Job, session browser.Session) error
}

// RegistryConfig is the configuration for the job registry.
type RegistryConfig struct {
	Launcher browser.Launcher
	Pipeline PipelineRunner
	Bus      *eventbus.Bus
	// Archive receives terminal jobs once their grace period elapses.
	// Optional, without it evicted jobs are simply dropped.
	Archive storage.JobArchive

	// MaxConcurrent caps the jobs running a browser at once. Admission is
	// first-come first-served.
	MaxConcurrent int
	// ArchiveGrace is how long a terminal job stays queryable in the live set
	// before moving to the archive.
	ArchiveGrace time.Duration
	// SessionCloseTimeout bounds the browser teardown after a run.
	SessionCloseTimeout time.Duration

	Logger log.Logger
}

func (c *RegistryConfig) defaults() error {
	if c.Launcher == nil {
		return fmt.Errorf("browser launcher is required")
	}
	if c.Pipeline == nil {
		return fmt.Errorf("pipeline is required")
	}
	if c.Bus == nil {
		return fmt.Errorf("event bus is required")
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent can't be negative")
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 3
	}
	if c.ArchiveGrace <= 0 {
		c.ArchiveGrace = 15 * time.Minute
	}
	if c.SessionCloseTimeout <= 0 {
		c.SessionCloseTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "registry.Registry"})
	return nil
}

// entry is the registry's live record of a job.
type entry struct {
	job     model.Job
	cancel  context.CancelFunc
	confirm chan struct{}
	once    sync.Once
	archive *time.Timer
}

// Registry owns the full job lifecycle: admission, worker slots, the live
// record, cancellation, the manual-login confirmation hub and eviction to the
// archive. It satisfies pipeline.JobUpdater and auth.ConfirmationSource.
type Registry struct {
	launcher browser.Launcher
	pipeline PipelineRunner
	bus      *eventbus.Bus
	archive  storage.JobArchive

	slots        *semaphore.Weighted
	archiveGrace time.Duration
	closeTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	stopped bool

	wg     sync.WaitGroup
	logger log.Logger
}

// NewRegistry creates a new job registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Registry{
		launcher:     cfg.Launcher,
		pipeline:     cfg.Pipeline,
		bus:          cfg.Bus,
		archive:      cfg.Archive,
		slots:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		archiveGrace: cfg.ArchiveGrace,
		closeTimeout: cfg.SessionCloseTimeout,
		entries:      map[string]*entry{},
		logger:       cfg.Logger,
	}, nil
}

// Submit admits a new job. It returns immediately with the pending snapshot;
// the job runs as soon as a worker slot frees up.
func (r *Registry) Submit(ctx context.Context, task string, target model.Target) (*model.Job, error) {
	job := model.Job{
		ID:             ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		Task:           task,
		Target:         target,
		Phase:          model.JobPhasePending,
		CreatedAt:      time.Now().UTC(),
		PhaseEnteredAt: time.Now().UTC(),
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("registry is stopped: %w", model.ErrBackendUnavailable)
	}
	r.entries[job.ID] = &entry{
		job:     job,
		cancel:  cancel,
		confirm: make(chan struct{}),
	}
	r.wg.Add(1)
	r.mu.Unlock()

	r.bus.Publish(job.ID, model.ProgressEvent{
		Kind:  model.EventPhaseChanged,
		Phase: model.JobPhasePending,
	})

	go r.run(runCtx, job)

	snapshot := job.Copy()
	return &snapshot, nil
}

// run waits for a worker slot, owns the browser session and drives the
// pipeline. One goroutine per job.
func (r *Registry) run(ctx context.Context, job model.Job) {
	defer r.wg.Done()
	logger := r.logger.WithValues(log.Kv{"job": job.ID})

	if err := r.slots.Acquire(ctx, 1); err != nil {
		logger.Infof("Cancelled while waiting for a worker slot")
		r.finishOutside(job.ID, model.FailureReasonCancelled, fmt.Errorf("%w: %w", model.ErrCancelled, err))
		return
	}
	defer r.slots.Release(1)

	session, err := r.launcher.Launch(ctx, job.ID)
	if err != nil {
		logger.Errorf("Could not launch browser session: %v", err)
		reason := model.FailureReasonInternal
		if ctx.Err() != nil {
			reason = model.FailureReasonCancelled
		}
		r.finishOutside(job.ID, reason, fmt.Errorf("browser launch failed: %w", err))
		return
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), r.closeTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			logger.Warningf("Browser session teardown failed: %v", err)
		}
	}()

	if err := r.pipeline.Run(ctx, job, session); err != nil {
		logger.Infof("Job finished with failure: %v", err)
	}

	r.scheduleArchive(job.ID)
}

// finishOutside marks terminal failure for jobs that never reached the
// pipeline (cancelled while pending, browser launch failures).
func (r *Registry) finishOutside(jobID string, reason model.FailureReason, err error) {
	now := time.Now().UTC()
	r.UpdateJob(jobID, func(j *model.Job) {
		if j.Phase.Terminal() {
			return
		}
		j.Phase = model.JobPhaseFailed
		j.Reason = reason
		j.Error = err.Error()
		j.CompletedAt = &now
	})

	r.bus.Publish(jobID, model.ProgressEvent{
		Kind:    model.EventPhaseChanged,
		Phase:   model.JobPhaseFailed,
		Reason:  reason,
		Message: err.Error(),
	})

	r.scheduleArchive(jobID)
}

// UpdateJob applies a mutation to the live record under the registry lock.
func (r *Registry) UpdateJob(jobID string, mutate func(*model.Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok {
		return
	}
	mutate(&e.job)
}

// GetJob returns a consistent snapshot of a job, looking at the live set
// first and the archive second.
func (r *Registry) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	r.mu.RLock()
	e, ok := r.entries[jobID]
	if ok {
		snapshot := e.job.Copy()
		r.mu.RUnlock()
		return &snapshot, nil
	}
	r.mu.RUnlock()

	if r.archive != nil {
		return r.archive.GetArchivedJob(ctx, jobID)
	}
	return nil, fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
}

// ListJobs returns all known jobs, live and archived, newest first.
func (r *Registry) ListJobs(ctx context.Context) ([]model.Job, error) {
	r.mu.RLock()
	jobs := make([]model.Job, 0, len(r.entries))
	live := make(map[string]bool, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job.Copy())
		live[e.job.ID] = true
	}
	r.mu.RUnlock()

	if r.archive != nil {
		archived, err := r.archive.ListArchivedJobs(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not list archived jobs: %w", err)
		}
		for _, j := range archived {
			if !live[j.ID] {
				jobs = append(jobs, j)
			}
		}
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

// Cancel requests cancellation of a live job. Cancelling an already terminal
// job is a no-op; unknown jobs return not found.
func (r *Registry) Cancel(ctx context.Context, jobID string) error {
	r.mu.RLock()
	e, ok := r.entries[jobID]
	r.mu.RUnlock()

	if !ok {
		if r.archive != nil {
			if _, err := r.archive.GetArchivedJob(ctx, jobID); err == nil {
				return nil
			}
		}
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}

	e.cancel()
	r.logger.WithValues(log.Kv{"job": jobID}).Infof("Cancellation requested")
	return nil
}

// Confirm delivers the manual-login confirmation signal for a job. Repeated
// confirmations are a no-op.
func (r *Registry) Confirm(jobID string) error {
	r.mu.RLock()
	e, ok := r.entries[jobID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}

	e.once.Do(func() { close(e.confirm) })
	return nil
}

// AwaitConfirmation blocks until the job's confirmation arrives or the
// context is done. It implements the manual tier's confirmation source.
func (r *Registry) AwaitConfirmation(ctx context.Context, jobID string) error {
	r.mu.RLock()
	e, ok := r.entries[jobID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}

	select {
	case <-e.confirm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe attaches to a job's progress stream.
func (r *Registry) Subscribe(jobID string) (<-chan model.ProgressEvent, func(), error) {
	r.mu.RLock()
	_, ok := r.entries[jobID]
	r.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}

	ch, cancel := r.bus.Subscribe(jobID)
	return ch, cancel, nil
}

// scheduleArchive starts the grace timer that moves a terminal job out of
// the live set.
func (r *Registry) scheduleArchive(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok || e.archive != nil {
		return
	}
	e.archive = time.AfterFunc(r.archiveGrace, func() { r.evict(jobID) })
}

// evict moves a job to the archive and closes its event stream.
func (r *Registry) evict(jobID string) {
	r.mu.Lock()
	e, ok := r.entries[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	job := e.job.Copy()
	delete(r.entries, jobID)
	r.mu.Unlock()

	if r.archive != nil && job.Phase.Terminal() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.archive.ArchiveJob(ctx, job); err != nil {
			r.logger.Errorf("Could not archive job %s: %v", jobID, err)
		}
	}

	r.bus.Close(jobID)
	r.logger.WithValues(log.Kv{"job": jobID}).Debugf("Job evicted from live set")
}

// Stop cancels every live job and waits for the workers to drain. No new
// submissions are admitted afterwards.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	for _, e := range r.entries {
		e.cancel()
		if e.archive != nil {
			e.archive.Stop()
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All workers drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers did not drain in time: %w", ctx.Err())
	}
}
