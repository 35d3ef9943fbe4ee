package model

import (
	"fmt"
	"time"
)

// GuideArtifact is the finished, screenshot-backed step-by-step guide a job
// produces.
type GuideArtifact struct {
	JobID  string
	Title  string
	Task   string
	Target Target

	Markdown string

	TotalSteps  int
	FailedSteps int
	Degraded    bool

	CreatedAt time.Time
}

// Validate validates the guide artifact.
func (g *GuideArtifact) Validate() error {
	if g.JobID == "" {
		return fmt.Errorf("job id is required: %w", ErrNotValid)
	}
	if g.Markdown == "" {
		return fmt.Errorf("markdown body is required: %w", ErrNotValid)
	}
	return nil
}
