package guide

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
)

// BuilderConfig is the configuration for the guide builder.
type BuilderConfig struct {
	Logger log.Logger
}

func (c *BuilderConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "guide.Builder"})
	return nil
}

// Builder assembles the markdown guide artifact from a job's captured step
// history. Rendering is deterministic: same history, same document.
type Builder struct {
	logger log.Logger
}

// NewBuilder creates a new guide builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Builder{logger: cfg.Logger}, nil
}

// Build renders the guide for a finished execution. Failed steps are kept in
// the document with an explicit warning rather than silently dropped.
func (b *Builder) Build(job *model.Job, attempts []model.ExecutionAttempt, auth *model.AuthOutcome) (*model.GuideArtifact, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required: %w", model.ErrNotValid)
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("no step history to render: %w", model.ErrNotValid)
	}

	failed := 0
	for _, a := range attempts {
		if !a.Success {
			failed++
		}
	}

	artifact := &model.GuideArtifact{
		JobID:       job.ID,
		Title:       title(job.Task),
		Task:        job.Task,
		Target:      job.Target,
		TotalSteps:  len(attempts),
		FailedSteps: failed,
		Degraded:    failed > 0,
		CreatedAt:   time.Now().UTC(),
	}
	artifact.Markdown = b.render(artifact, attempts, auth)

	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("rendered guide is invalid: %w", err)
	}

	b.logger.WithValues(log.Kv{"job": job.ID}).Infof("Guide rendered: %d steps, %d failed", len(attempts), failed)
	return artifact, nil
}

func (b *Builder) render(artifact *model.GuideArtifact, attempts []model.ExecutionAttempt, auth *model.AuthOutcome) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", artifact.Title)
	fmt.Fprintf(&sb, "_Captured on %s against %s (%s)._\n\n",
		artifact.CreatedAt.Format("January 2, 2006"), artifact.Target.Name, artifact.Target.URL)

	if auth != nil && auth.Success && auth.Method != model.AuthMethodExistingSession {
		sb.WriteString("## Before you start\n\n")
		switch auth.Method {
		case model.AuthMethodOAuth:
			sb.WriteString("You need to sign in with a third-party account (for example Google or GitHub).\n\n")
		case model.AuthMethodCredentials:
			sb.WriteString("You need to log in with your email and password.\n\n")
		case model.AuthMethodManual:
			sb.WriteString("You need to log in to your account before following these steps.\n\n")
		}
	}

	sb.WriteString("## Steps\n\n")
	for _, a := range attempts {
		fmt.Fprintf(&sb, "### Step %d: %s\n\n", a.StepNumber, a.Description)

		if !a.Success {
			sb.WriteString("> **Note:** this step could not be completed automatically during capture. ")
			sb.WriteString("You may need to adapt it to the current page layout.\n\n")
		}
		if a.RecoveryUsed {
			fmt.Fprintf(&sb, "> An extra action was needed first: %s.\n\n", a.RecoveryAction)
		}

		if line := actionLine(a); line != "" {
			sb.WriteString(line + "\n\n")
		}
		if a.ScreenshotRef != "" {
			fmt.Fprintf(&sb, "![Step %d](%s)\n\n", a.StepNumber, a.ScreenshotRef)
		}
	}

	if artifact.Degraded {
		fmt.Fprintf(&sb, "## Caveats\n\n%d of %d steps could not be verified during capture. ", artifact.FailedSteps, artifact.TotalSteps)
		sb.WriteString("The remaining steps were captured live and are accurate as of the date above.\n")
	}

	return sb.String()
}

// actionLine renders one attempt as an imperative instruction.
func actionLine(a model.ExecutionAttempt) string {
	switch a.Kind {
	case model.ActionNavigate:
		if a.URL != "" {
			return fmt.Sprintf("Open `%s` in your browser.", a.URL)
		}
		return "Open the page in your browser."
	case model.ActionClick:
		return format("Click the element", a)
	case model.ActionFill:
		return format("Fill in the field", a)
	case model.ActionSelect:
		return format("Choose the option in", a)
	case model.ActionScroll:
		return format("Scroll to", a)
	case model.ActionWait:
		return "Wait for the page to finish loading."
	case model.ActionPressKey:
		return "Press the key shown in the screenshot."
	}
	return ""
}

func format(verb string, a model.ExecutionAttempt) string {
	if a.SelectorUsed != "" {
		return fmt.Sprintf("%s `%s` shown in the screenshot below.", verb, a.SelectorUsed)
	}
	return fmt.Sprintf("%s shown in the screenshot below.", verb)
}

// title derives the guide title from the task phrasing.
func title(task string) string {
	t := strings.TrimSpace(task)
	if t == "" {
		return "Workflow guide"
	}
	t = strings.TrimSuffix(t, ".")
	lower := strings.ToLower(t)
	for _, prefix := range []string{"how to ", "show me how to ", "guide me through "} {
		if strings.HasPrefix(lower, prefix) {
			t = t[len(prefix):]
			break
		}
	}
	if t == "" {
		return "Workflow guide"
	}
	return "How to " + strings.ToLower(t[:1]) + t[1:]
}

// Annotate appends the validator's annotation as a review section. A missing
// annotation leaves the document untouched.
func Annotate(artifact *model.GuideArtifact, annotation string) {
	annotation = strings.TrimSpace(annotation)
	if artifact == nil || annotation == "" {
		return
	}
	artifact.Markdown += fmt.Sprintf("\n## Review notes\n\n%s\n", annotation)
}
