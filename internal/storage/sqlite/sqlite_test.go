package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/storage/sqlite"
)

func guideFixture(jobID string) model.GuideArtifact {
	return model.GuideArtifact{
		JobID:       jobID,
		Title:       "How to export a report",
		Task:        "export a report",
		Target:      model.Target{Name: "Acme", URL: "https://acme.test"},
		Markdown:    "# How to export a report\n",
		TotalSteps:  3,
		FailedSteps: 1,
		Degraded:    true,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func jobFixture(id string) model.Job {
	now := time.Now().UTC().Truncate(time.Second)
	completed := now.Add(time.Minute)
	return model.Job{
		ID:          id,
		Task:        "export a report",
		Target:      model.Target{Name: "Acme", URL: "https://acme.test"},
		Phase:       model.JobPhaseCompleted,
		Degraded:    true,
		CreatedAt:   now,
		CompletedAt: &completed,
		GuideRef:    id,
		Plan: &model.Plan{
			Target: model.Target{Name: "Acme", URL: "https://acme.test"},
			Steps: []model.PlannedStep{
				{Number: 1, Kind: model.ActionNavigate, Description: "Open the site", Value: "https://acme.test"},
			},
		},
		Steps: []model.ExecutionAttempt{
			{StepNumber: 1, Kind: model.ActionNavigate, Description: "Open the site", Success: true, ScreenshotRef: "step_1.png"},
		},
		Auth: &model.AuthOutcome{
			Success: true,
			Method:  model.AuthMethodManual,
			Attempts: []model.AuthAttemptRecord{
				{Tier: model.AuthTierSession, Method: model.AuthMethodExistingSession, Result: model.AuthAttemptFailed},
				{Tier: model.AuthTierManual, Method: model.AuthMethodManual, Result: model.AuthAttemptSuccess},
			},
		},
	}
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestGuideLifecycle(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	g := guideFixture("job-1")
	require.NoError(t, repo.SaveGuide(ctx, g))

	got, err := repo.GetGuide(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, g, *got)

	// Saving again replaces.
	g.Markdown = "# Updated\n"
	require.NoError(t, repo.SaveGuide(ctx, g))
	got, err = repo.GetGuide(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "# Updated\n", got.Markdown)

	require.NoError(t, repo.DeleteGuide(ctx, "job-1"))
	_, err = repo.GetGuide(ctx, "job-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteGuide(ctx, "job-1"), model.ErrNotFound)
}

func TestListGuidesOrder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	older := guideFixture("job-1")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := guideFixture("job-2")

	require.NoError(t, repo.SaveGuide(ctx, older))
	require.NoError(t, repo.SaveGuide(ctx, newer))

	guides, err := repo.ListGuides(ctx)
	require.NoError(t, err)
	require.Len(t, guides, 2)
	assert.Equal(t, "job-2", guides[0].JobID)
	assert.Equal(t, "job-1", guides[1].JobID)
}

func TestJobArchiveRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	j := jobFixture("job-1")
	require.NoError(t, repo.ArchiveJob(ctx, j))

	got, err := repo.GetArchivedJob(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, j.Phase, got.Phase)
	assert.Equal(t, j.Target, got.Target)
	assert.Equal(t, j.CreatedAt, got.CreatedAt)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, *j.CompletedAt, *got.CompletedAt)

	// The JSON documents survive whole.
	require.NotNil(t, got.Plan)
	assert.Equal(t, *j.Plan, *got.Plan)
	assert.Equal(t, j.Steps, got.Steps)
	require.NotNil(t, got.Auth)
	assert.Equal(t, j.Auth.Method, got.Auth.Method)
	assert.Len(t, got.Auth.Attempts, 2)
}

func TestJobArchiveMinimal(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	// A failed job may carry no plan, steps nor auth outcome.
	j := model.Job{
		ID:        "job-1",
		Task:      "export a report",
		Phase:     model.JobPhaseFailed,
		Reason:    model.FailureReasonPlanningFailed,
		Error:     "planner returned no steps",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.ArchiveJob(ctx, j))

	got, err := repo.GetArchivedJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, got.Plan)
	assert.Nil(t, got.Steps)
	assert.Nil(t, got.Auth)
	assert.Equal(t, model.FailureReasonPlanningFailed, got.Reason)
}

func TestJobArchiveDuplicate(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.ArchiveJob(ctx, jobFixture("job-1")))
	err := repo.ArchiveJob(ctx, jobFixture("job-1"))
	assert.ErrorIs(t, err, model.ErrAlreadyExists)
}

func TestJobArchiveRejectsLiveJobs(t *testing.T) {
	repo := newRepo(t)

	j := jobFixture("job-1")
	j.Phase = model.JobPhaseExecuting

	err := repo.ArchiveJob(context.Background(), j)
	assert.ErrorIs(t, err, model.ErrNotValid)
}
