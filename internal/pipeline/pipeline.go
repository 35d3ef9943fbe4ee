package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowforge/flowforge/internal/browser"
	"github.com/flowforge/flowforge/internal/eventbus"
	"github.com/flowforge/flowforge/internal/executor"
	"github.com/flowforge/flowforge/internal/guide"
	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/planner"
	"github.com/flowforge/flowforge/internal/storage"
	"github.com/flowforge/flowforge/internal/vision"
)

// JobUpdater applies a mutation to the live job record. The owner of the
// record (the registry) serializes mutations against concurrent readers.
type JobUpdater interface {
	UpdateJob(jobID string, mutate func(*model.Job))
}

// StepRunner executes a plan's steps. executor.Executor satisfies it.
type StepRunner interface {
	Execute(ctx context.Context, jobID string, session browser.Session, plan model.Plan) (*executor.Result, error)
}

// PipelineConfig is the configuration for the job pipeline.
type PipelineConfig struct {
	Planner planner.Planner
	Auth    executor.Authenticator
	Runner  StepRunner
	Builder *guide.Builder
	// Validator annotates finished guides. Optional, best-effort.
	Validator vision.Validator
	// Guides persists finished guides. Optional, best-effort.
	Guides storage.GuideRepository
	Bus    *eventbus.Bus
	Jobs   JobUpdater
	Logger log.Logger
}

func (c *PipelineConfig) defaults() error {
	if c.Planner == nil {
		return fmt.Errorf("planner is required")
	}
	if c.Auth == nil {
		return fmt.Errorf("authenticator is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("step runner is required")
	}
	if c.Builder == nil {
		return fmt.Errorf("guide builder is required")
	}
	if c.Bus == nil {
		return fmt.Errorf("event bus is required")
	}
	if c.Jobs == nil {
		return fmt.Errorf("job updater is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "pipeline.Pipeline"})
	return nil
}

// Pipeline drives one job through its phases: planning, optional
// authentication, execution and validation. Phases are strictly ordered and
// never revisited; failures collapse straight to the failed phase with a
// classified reason.
type Pipeline struct {
	planner   planner.Planner
	auth      executor.Authenticator
	runner    StepRunner
	builder   *guide.Builder
	validator vision.Validator
	guides    storage.GuideRepository
	bus       *eventbus.Bus
	jobs      JobUpdater
	logger    log.Logger
}

// NewPipeline creates a new job pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Pipeline{
		planner:   cfg.Planner,
		auth:      cfg.Auth,
		runner:    cfg.Runner,
		builder:   cfg.Builder,
		validator: cfg.Validator,
		guides:    cfg.Guides,
		bus:       cfg.Bus,
		jobs:      cfg.Jobs,
		logger:    cfg.Logger,
	}, nil
}

// Run drives the job to a terminal phase. The passed job is the submission
// snapshot; all mutations go through the updater so concurrent status reads
// stay consistent. The returned error mirrors the terminal failure, nil on
// completion (degraded runs included).
func (p *Pipeline) Run(ctx context.Context, job model.Job, session browser.Session) error {
	logger := p.logger.WithValues(log.Kv{"job": job.ID})

	// Phase: planning.
	p.enterPhase(&job, model.JobPhasePlanning)
	plan, err := p.planner.Plan(ctx, job.Task, job.Target)
	if err == nil {
		err = plan.Validate()
	}
	if err != nil {
		if ctx.Err() != nil {
			return p.fail(&job, model.FailureReasonCancelled, err)
		}
		logger.Errorf("Planning failed: %v", err)
		return p.fail(&job, model.FailureReasonPlanningFailed, fmt.Errorf("%w: %w", model.ErrPlanningFailed, err))
	}

	p.apply(&job, func(j *model.Job) {
		planCopy := plan.Copy()
		j.Plan = &planCopy
		j.Target = plan.Target
	})
	logger.Infof("Plan ready: %d steps, auth required: %t", len(plan.Steps), plan.Auth.Required)

	// Phase: authenticating, only when the plan demands it.
	if plan.Auth.Required {
		p.enterPhase(&job, model.JobPhaseAuthenticating)
		outcome, err := p.auth.Authenticate(ctx, job.ID, session)
		if outcome != nil {
			p.apply(&job, func(j *model.Job) {
				o := outcome.Copy()
				j.Auth = &o
			})
		}
		if err != nil {
			if errors.Is(err, model.ErrCancelled) {
				return p.fail(&job, model.FailureReasonCancelled, err)
			}
			logger.Errorf("Authentication failed: %v", err)
			return p.fail(&job, model.FailureReasonAuthenticationFailed, err)
		}
	}

	// Phase: executing.
	p.enterPhase(&job, model.JobPhaseExecuting)
	result, err := p.runner.Execute(ctx, job.ID, session, *job.Plan)
	if result != nil {
		p.apply(&job, func(j *model.Job) {
			j.Steps = append([]model.ExecutionAttempt{}, result.Attempts...)
			j.Degraded = j.Degraded || result.Degraded
			if result.Auth != nil {
				o := result.Auth.Copy()
				j.Auth = mergeAuth(j.Auth, &o)
			}
		})
	}
	if err != nil {
		return p.fail(&job, model.FailureReasonCancelled, err)
	}

	// Phase: validating. The guide is assembled from whatever was captured;
	// annotation and persistence are best-effort and never fail the job.
	p.enterPhase(&job, model.JobPhaseValidating)
	artifact, err := p.builder.Build(&job, job.Steps, job.Auth)
	if err != nil {
		logger.Errorf("Guide assembly failed: %v", err)
		return p.fail(&job, model.FailureReasonInternal, err)
	}

	if p.validator != nil {
		annotation, err := p.validator.Validate(ctx, artifact, job.Steps)
		if err != nil {
			logger.Warningf("Guide validation unavailable: %v", err)
			p.bus.Publish(job.ID, model.ProgressEvent{
				Kind:    model.EventError,
				Message: fmt.Sprintf("guide validation unavailable: %s", err),
			})
		} else {
			guide.Annotate(artifact, annotation)
		}
	}

	guideRef := ""
	if p.guides != nil {
		if err := p.guides.SaveGuide(ctx, *artifact); err != nil {
			logger.Errorf("Could not persist guide: %v", err)
			p.bus.Publish(job.ID, model.ProgressEvent{
				Kind:    model.EventError,
				Message: fmt.Sprintf("guide persistence failed: %s", err),
			})
		} else {
			guideRef = artifact.JobID
		}
	}

	now := time.Now().UTC()
	p.apply(&job, func(j *model.Job) {
		j.GuideRef = guideRef
		j.CompletedAt = &now
	})
	p.enterPhase(&job, model.JobPhaseCompleted)
	logger.Infof("Job completed, degraded: %t", job.Degraded)

	return nil
}

// enterPhase moves the job to the next phase and announces it before any
// phase work starts.
func (p *Pipeline) enterPhase(job *model.Job, phase model.JobPhase) {
	now := time.Now().UTC()
	p.apply(job, func(j *model.Job) {
		if !j.Phase.CanTransition(phase) {
			// The phase path is fixed, a bad transition is a programming error.
			p.logger.Errorf("Invalid phase transition %s -> %s on job %s", j.Phase, phase, j.ID)
			return
		}
		j.Phase = phase
		j.PhaseEnteredAt = now
	})

	p.bus.Publish(job.ID, model.ProgressEvent{
		Kind:  model.EventPhaseChanged,
		Phase: phase,
	})
}

// fail collapses the job to the failed phase with a classified reason. The
// raw error is kept on the record, callers only branch on the reason.
func (p *Pipeline) fail(job *model.Job, reason model.FailureReason, err error) error {
	now := time.Now().UTC()
	p.apply(job, func(j *model.Job) {
		j.Phase = model.JobPhaseFailed
		j.Reason = reason
		j.Error = err.Error()
		j.CompletedAt = &now
	})

	p.bus.Publish(job.ID, model.ProgressEvent{
		Kind:    model.EventPhaseChanged,
		Phase:   model.JobPhaseFailed,
		Reason:  reason,
		Message: err.Error(),
	})

	return err
}

// apply mutates both the live record and the local working copy so later
// phases see the accumulated state.
func (p *Pipeline) apply(job *model.Job, mutate func(*model.Job)) {
	mutate(job)
	p.jobs.UpdateJob(job.ID, mutate)
}

// mergeAuth folds a mid-execution negotiation into the job's existing
// outcome, keeping the full attempt history. Appended attempts get the next
// negotiation number so tier order stays readable per negotiation.
func mergeAuth(existing, latest *model.AuthOutcome) *model.AuthOutcome {
	if existing == nil {
		return latest
	}
	merged := existing.Copy()
	merged.Success = latest.Success
	merged.Method = latest.Method
	merged.ManualInterventionRequired = merged.ManualInterventionRequired || latest.ManualInterventionRequired

	next := 0
	for _, a := range merged.Attempts {
		if a.Negotiation >= next {
			next = a.Negotiation + 1
		}
	}
	for _, a := range latest.Attempts {
		a.Negotiation = next
		merged.Attempts = append(merged.Attempts, a)
	}

	return &merged
}
