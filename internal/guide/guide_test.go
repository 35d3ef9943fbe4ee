package guide_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/guide"
	"github.com/flowforge/flowforge/internal/model"
)

func testJob() *model.Job {
	return &model.Job{
		ID:     "job-1",
		Task:   "export my monthly report",
		Target: model.Target{Name: "Acme Reports", URL: "https://reports.acme.test"},
	}
}

func TestBuild(t *testing.T) {
	b, err := guide.NewBuilder(guide.BuilderConfig{})
	require.NoError(t, err)

	attempts := []model.ExecutionAttempt{
		{StepNumber: 1, Description: "Open the reports page", Kind: model.ActionNavigate, Success: true, URL: "https://reports.acme.test/monthly", ScreenshotRef: "step_1.png"},
		{StepNumber: 2, Description: "Click the export button", Kind: model.ActionClick, Success: true, SelectorUsed: "#export", SelectorIndex: 1, RecoveryUsed: true, RecoveryAction: "click #dismiss", ScreenshotRef: "step_2.png"},
		{StepNumber: 3, Description: "Pick the PDF format", Kind: model.ActionSelect, Success: false, SelectorIndex: -1, Error: "all selectors failed", ScreenshotRef: "step_3_error.png"},
	}
	auth := &model.AuthOutcome{Success: true, Method: model.AuthMethodCredentials}

	artifact, err := b.Build(testJob(), attempts, auth)

	require.NoError(t, err)
	assert.Equal(t, "job-1", artifact.JobID)
	assert.Equal(t, "How to export my monthly report", artifact.Title)
	assert.Equal(t, 3, artifact.TotalSteps)
	assert.Equal(t, 1, artifact.FailedSteps)
	assert.True(t, artifact.Degraded)

	md := artifact.Markdown
	assert.Contains(t, md, "# How to export my monthly report")
	assert.Contains(t, md, "Acme Reports")
	assert.Contains(t, md, "log in with your email and password")
	assert.Contains(t, md, "### Step 1: Open the reports page")
	assert.Contains(t, md, "Open `https://reports.acme.test/monthly`")
	assert.Contains(t, md, "![Step 1](step_1.png)")
	assert.Contains(t, md, "An extra action was needed first: click #dismiss")
	assert.Contains(t, md, "could not be completed automatically")
	assert.Contains(t, md, "## Caveats")
	assert.Contains(t, md, "1 of 3 steps")
}

func TestBuildCleanRun(t *testing.T) {
	b, err := guide.NewBuilder(guide.BuilderConfig{})
	require.NoError(t, err)

	attempts := []model.ExecutionAttempt{
		{StepNumber: 1, Description: "Open the site", Kind: model.ActionNavigate, Success: true, URL: "https://reports.acme.test"},
	}

	artifact, err := b.Build(testJob(), attempts, nil)

	require.NoError(t, err)
	assert.False(t, artifact.Degraded)
	assert.NotContains(t, artifact.Markdown, "## Caveats")
	assert.NotContains(t, artifact.Markdown, "## Before you start")
}

func TestBuildNoHistory(t *testing.T) {
	b, err := guide.NewBuilder(guide.BuilderConfig{})
	require.NoError(t, err)

	_, err = b.Build(testJob(), nil, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestTitleDerivation(t *testing.T) {
	tests := map[string]struct {
		task     string
		expTitle string
	}{
		"A plain task gets the how-to prefix.": {
			task:     "export my monthly report",
			expTitle: "How to export my monthly report",
		},
		"A task already phrased as how-to is not doubled.": {
			task:     "How to invite a teammate",
			expTitle: "How to invite a teammate",
		},
		"Trailing periods are trimmed.": {
			task:     "Show me how to change my avatar.",
			expTitle: "How to change my avatar",
		},
		"An empty task falls back to a generic title.": {
			task:     "   ",
			expTitle: "Workflow guide",
		},
	}

	b, err := guide.NewBuilder(guide.BuilderConfig{})
	require.NoError(t, err)

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			job := testJob()
			job.Task = test.task
			artifact, err := b.Build(job, []model.ExecutionAttempt{
				{StepNumber: 1, Description: "Open the site", Kind: model.ActionNavigate, Success: true},
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, test.expTitle, artifact.Title)
		})
	}
}

func TestAnnotate(t *testing.T) {
	artifact := &model.GuideArtifact{Markdown: "# Guide\n"}

	guide.Annotate(artifact, "Step 3 may need a second confirmation click.")
	assert.Contains(t, artifact.Markdown, "## Review notes")
	assert.Contains(t, artifact.Markdown, "second confirmation click")

	before := artifact.Markdown
	guide.Annotate(artifact, "   ")
	assert.Equal(t, before, artifact.Markdown)
}
