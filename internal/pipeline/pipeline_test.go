package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/browser"
	"github.com/flowforge/flowforge/internal/browser/fake"
	"github.com/flowforge/flowforge/internal/eventbus"
	"github.com/flowforge/flowforge/internal/executor"
	"github.com/flowforge/flowforge/internal/guide"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/pipeline"
	"github.com/flowforge/flowforge/internal/planner/plannermock"
	"github.com/flowforge/flowforge/internal/storage/memory"
	"github.com/flowforge/flowforge/internal/vision/visionmock"
)

// fakeJobs is a JobUpdater that keeps the live record like the registry does.
type fakeJobs struct {
	mu  sync.Mutex
	job model.Job
}

func (f *fakeJobs) UpdateJob(jobID string, mutate func(*model.Job)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(&f.job)
}

func (f *fakeJobs) snapshot() model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job.Copy()
}

type stubAuth struct {
	outcome *model.AuthOutcome
	err     error
}

func (s *stubAuth) Authenticate(ctx context.Context, jobID string, session browser.Session) (*model.AuthOutcome, error) {
	return s.outcome, s.err
}

type pipelineDeps struct {
	planner *plannermock.MockPlanner
	auth    *stubAuth
	repo    *memory.Repository
	jobs    *fakeJobs
	bus     *eventbus.Bus
	session *fake.Session
}

func newTestPipeline(t *testing.T, mutate func(*pipeline.PipelineConfig)) (*pipeline.Pipeline, *pipelineDeps) {
	t.Helper()

	bus, err := eventbus.NewBus(eventbus.BusConfig{})
	require.NoError(t, err)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	builder, err := guide.NewBuilder(guide.BuilderConfig{})
	require.NoError(t, err)

	session, err := fake.NewSession(fake.SessionConfig{StartURL: "https://acme.test/dashboard"})
	require.NoError(t, err)
	session.AddSelector("#export")

	deps := &pipelineDeps{
		planner: &plannermock.MockPlanner{},
		jobs:    &fakeJobs{job: submittedJob()},
		auth:    &stubAuth{outcome: &model.AuthOutcome{Success: true, Method: model.AuthMethodExistingSession}},
		repo:    repo,
		bus:     bus,
		session: session,
	}

	runner, err := executor.NewExecutor(executor.ExecutorConfig{
		Bus:      bus,
		StepWait: time.Millisecond,
	})
	require.NoError(t, err)

	cfg := pipeline.PipelineConfig{
		Planner: deps.planner,
		Auth:    deps.auth,
		Runner:  runner,
		Builder: builder,
		Guides:  repo,
		Bus:     bus,
		Jobs:    deps.jobs,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := pipeline.NewPipeline(cfg)
	require.NoError(t, err)

	return p, deps
}

func submittedJob() model.Job {
	return model.Job{
		ID:        "job-1",
		Task:      "export a report",
		Target:    model.Target{Name: "Acme", URL: "https://acme.test"},
		Phase:     model.JobPhasePending,
		CreatedAt: time.Now().UTC(),
	}
}

func testPlan(authRequired bool) *model.Plan {
	return &model.Plan{
		Target: model.Target{Name: "Acme", URL: "https://acme.test"},
		Steps: []model.PlannedStep{
			{Number: 1, Kind: model.ActionNavigate, Description: "Open the site", Value: "https://acme.test/dashboard"},
			{Number: 2, Kind: model.ActionClick, Description: "Click export", Selector: "#export"},
		},
		Auth: model.AuthRequirement{Required: authRequired, Kind: model.AuthKindCredentials},
	}
}

func phasesOf(events []model.ProgressEvent) []model.JobPhase {
	var phases []model.JobPhase
	for _, ev := range events {
		if ev.Kind == model.EventPhaseChanged {
			phases = append(phases, ev.Phase)
		}
	}
	return phases
}

func collectEvents(events <-chan model.ProgressEvent, until model.JobPhase) []model.ProgressEvent {
	var got []model.ProgressEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
			if ev.Kind == model.EventPhaseChanged && ev.Phase == until {
				return got
			}
		case <-timeout:
			return got
		}
	}
}

func TestRunCompletes(t *testing.T) {
	p, deps := newTestPipeline(t, nil)
	deps.planner.On("Plan", mock.Anything, "export a report", mock.Anything).Return(testPlan(true), nil)

	events, cancelSub := deps.bus.Subscribe("job-1")
	defer cancelSub()

	err := p.Run(context.Background(), submittedJob(), deps.session)
	require.NoError(t, err)

	job := deps.jobs.snapshot()
	assert.Equal(t, model.JobPhaseCompleted, job.Phase)
	assert.Equal(t, model.FailureReasonNone, job.Reason)
	assert.False(t, job.Degraded)
	assert.NotNil(t, job.CompletedAt)
	assert.Len(t, job.Steps, 2)
	require.NotNil(t, job.Auth)
	assert.Equal(t, model.AuthMethodExistingSession, job.Auth.Method)
	assert.Equal(t, "job-1", job.GuideRef)

	// The guide was persisted.
	g, err := deps.repo.GetGuide(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Contains(t, g.Markdown, "How to export a report")

	got := collectEvents(events, model.JobPhaseCompleted)
	assert.Equal(t, []model.JobPhase{
		model.JobPhasePlanning,
		model.JobPhaseAuthenticating,
		model.JobPhaseExecuting,
		model.JobPhaseValidating,
		model.JobPhaseCompleted,
	}, phasesOf(got))
}

func TestRunSkipsAuthWhenNotRequired(t *testing.T) {
	p, deps := newTestPipeline(t, nil)
	deps.planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return(testPlan(false), nil)

	events, cancelSub := deps.bus.Subscribe("job-1")
	defer cancelSub()

	err := p.Run(context.Background(), submittedJob(), deps.session)
	require.NoError(t, err)

	got := collectEvents(events, model.JobPhaseCompleted)
	assert.NotContains(t, phasesOf(got), model.JobPhaseAuthenticating)
	assert.Nil(t, deps.jobs.snapshot().Auth)
}

func TestRunPlanningFailure(t *testing.T) {
	p, deps := newTestPipeline(t, nil)
	deps.planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return(nil,
		fmt.Errorf("task too vague: %w", model.ErrPlanningFailed))

	events, cancelSub := deps.bus.Subscribe("job-1")
	defer cancelSub()

	err := p.Run(context.Background(), submittedJob(), deps.session)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPlanningFailed)

	job := deps.jobs.snapshot()
	assert.Equal(t, model.JobPhaseFailed, job.Phase)
	assert.Equal(t, model.FailureReasonPlanningFailed, job.Reason)
	assert.NotEmpty(t, job.Error)
	assert.NotNil(t, job.CompletedAt)

	got := collectEvents(events, model.JobPhaseFailed)
	assert.Equal(t, []model.JobPhase{model.JobPhasePlanning, model.JobPhaseFailed}, phasesOf(got))
	assert.Equal(t, model.FailureReasonPlanningFailed, got[len(got)-1].Reason)
}

func TestRunEmptyPlanFails(t *testing.T) {
	p, deps := newTestPipeline(t, nil)
	deps.planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return(&model.Plan{}, nil)

	err := p.Run(context.Background(), submittedJob(), deps.session)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPlanningFailed)
	assert.Equal(t, model.FailureReasonPlanningFailed, deps.jobs.snapshot().Reason)
}

func TestRunAuthFailure(t *testing.T) {
	p, deps := newTestPipeline(t, nil)
	deps.planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return(testPlan(true), nil)
	deps.auth.outcome = &model.AuthOutcome{Success: false, Attempts: []model.AuthAttemptRecord{
		{Tier: model.AuthTierManual, Method: model.AuthMethodManual, Result: model.AuthAttemptFailed},
	}}
	deps.auth.err = fmt.Errorf("manual login deadline reached: %w", model.ErrAuthTimedOut)

	err := p.Run(context.Background(), submittedJob(), deps.session)
	require.Error(t, err)

	job := deps.jobs.snapshot()
	assert.Equal(t, model.JobPhaseFailed, job.Phase)
	assert.Equal(t, model.FailureReasonAuthenticationFailed, job.Reason)
	require.NotNil(t, job.Auth, "the attempt history is kept even on failure")
	assert.Len(t, job.Auth.Attempts, 1)
}

func TestRunCancelledDuringAuth(t *testing.T) {
	p, deps := newTestPipeline(t, nil)
	deps.planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return(testPlan(true), nil)
	deps.auth.err = fmt.Errorf("%w: context canceled", model.ErrCancelled)

	err := p.Run(context.Background(), submittedJob(), deps.session)
	require.Error(t, err)
	assert.Equal(t, model.FailureReasonCancelled, deps.jobs.snapshot().Reason)
}

func TestRunDegradedStillCompletes(t *testing.T) {
	p, deps := newTestPipeline(t, nil)

	plan := testPlan(false)
	plan.Steps[1].Selector = "#missing"
	deps.planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return(plan, nil)

	err := p.Run(context.Background(), submittedJob(), deps.session)
	require.NoError(t, err, "degraded execution still produces a guide")

	job := deps.jobs.snapshot()
	assert.Equal(t, model.JobPhaseCompleted, job.Phase)
	assert.True(t, job.Degraded)

	g, err := deps.repo.GetGuide(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Contains(t, g.Markdown, "## Caveats")
}

func TestRunValidatorBestEffort(t *testing.T) {
	mv := &visionmock.MockValidator{}
	mv.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return("",
		fmt.Errorf("vision call failed: %w", model.ErrBackendUnavailable))

	p, deps := newTestPipeline(t, func(cfg *pipeline.PipelineConfig) {
		cfg.Validator = mv
	})
	deps.planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return(testPlan(false), nil)

	err := p.Run(context.Background(), submittedJob(), deps.session)
	require.NoError(t, err, "a validator outage never fails the job")
	assert.Equal(t, model.JobPhaseCompleted, deps.jobs.snapshot().Phase)
	mv.AssertExpectations(t)
}

func TestRunValidatorAnnotates(t *testing.T) {
	mv := &visionmock.MockValidator{}
	mv.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return("Step 2 may need a scroll first.", nil)

	p, deps := newTestPipeline(t, func(cfg *pipeline.PipelineConfig) {
		cfg.Validator = mv
	})
	deps.planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return(testPlan(false), nil)

	err := p.Run(context.Background(), submittedJob(), deps.session)
	require.NoError(t, err)

	g, err := deps.repo.GetGuide(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Contains(t, g.Markdown, "## Review notes")
	assert.Contains(t, g.Markdown, "scroll first")
}

func TestRunCancelledBeforePlanning(t *testing.T) {
	p, deps := newTestPipeline(t, nil)
	deps.planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return(nil, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, submittedJob(), deps.session)
	require.Error(t, err)
	assert.Equal(t, model.FailureReasonCancelled, deps.jobs.snapshot().Reason)
}
