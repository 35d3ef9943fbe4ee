package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/vision"
)

const defaultModel = "gemini-2.0-flash"

// RecoveryConfig is the configuration for the Gemini recovery guide.
type RecoveryConfig struct {
	Client *genai.Client
	Model  string
	// ScreenshotDir is the root directory screenshot references resolve
	// against.
	ScreenshotDir string
	Logger        log.Logger
}

func (c *RecoveryConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("genai client is required")
	}
	if c.ScreenshotDir == "" {
		return fmt.Errorf("screenshot dir is required")
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "vision.Gemini"})
	return nil
}

// Recovery implements vision.Recovery with Gemini multimodal calls: the
// failure screenshot plus the step context go in, a corrective action or an
// auth-blocker verdict comes out.
type Recovery struct {
	client        *genai.Client
	model         string
	screenshotDir string
	logger        log.Logger
}

var _ vision.Recovery = (*Recovery)(nil)

// NewRecovery creates a new Gemini recovery guide.
func NewRecovery(cfg RecoveryConfig) (*Recovery, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Recovery{
		client:        cfg.Client,
		model:         cfg.Model,
		screenshotDir: cfg.ScreenshotDir,
		logger:        cfg.Logger,
	}, nil
}

type rawSuggestion struct {
	Status      string `json:"status"`
	Blocker     string `json:"blocker"`
	Observation string `json:"observation"`
	Action      *struct {
		Action   string `json:"action"`
		Selector string `json:"selector"`
		Value    string `json:"value"`
	} `json:"action"`
}

// Suggest implements vision.Recovery.
func (r *Recovery) Suggest(ctx context.Context, screenshotRef string, stepCtx vision.StepContext) (*vision.Suggestion, error) {
	img, err := os.ReadFile(filepath.Join(r.screenshotDir, filepath.Clean(screenshotRef)))
	if err != nil {
		return nil, fmt.Errorf("could not read screenshot %q: %w: %w", screenshotRef, model.ErrBackendUnavailable, err)
	}

	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(img, "image/png"),
		genai.NewPartFromText(r.prompt(stepCtx)),
	}, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	resp, err := r.client.Models.GenerateContent(ctx, r.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("vision call failed: %w: %w", model.ErrBackendUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("vision call returned nothing: %w", model.ErrBackendUnavailable)
	}

	var raw rawSuggestion
	text := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("could not decode vision response: %w: %w", model.ErrBackendUnavailable, err)
	}

	suggestion := &vision.Suggestion{Observation: raw.Observation}

	if raw.Status == "blocked" && raw.Blocker == "authentication" {
		suggestion.AuthBlocker = true
		return suggestion, nil
	}

	if raw.Action != nil {
		kind := model.ActionKind(raw.Action.Action)
		if raw.Action.Action == "goto" {
			kind = model.ActionNavigate
		}
		if !kind.Known() {
			return nil, fmt.Errorf("vision suggested unknown action %q: %w", raw.Action.Action, model.ErrBackendUnavailable)
		}
		suggestion.Action = &vision.RecoveryAction{
			Kind:     kind,
			Selector: raw.Action.Selector,
			Value:    raw.Action.Value,
		}
	}

	return suggestion, nil
}

func (r *Recovery) prompt(stepCtx vision.StepContext) string {
	var b strings.Builder

	b.WriteString("A browser automation step failed, the screenshot shows the page at the moment of failure.\n\n")
	fmt.Fprintf(&b, "FAILED STEP: %s\n", stepCtx.Description)
	if stepCtx.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "EXPECTED OUTCOME: %s\n", stepCtx.ExpectedOutcome)
	}
	if stepCtx.PageURL != "" {
		fmt.Fprintf(&b, "CURRENT URL: %s\n", stepCtx.PageURL)
	}
	if len(stepCtx.RemainingSteps) > 0 {
		fmt.Fprintf(&b, "REMAINING STEPS:\n- %s\n", strings.Join(stepCtx.RemainingSteps, "\n- "))
	}

	b.WriteString(`
Decide what blocks the step. Return ONLY a JSON object:
{
  "status": "ok" or "blocked",
  "blocker": "authentication" when a login wall blocks progress, otherwise omit,
  "observation": "one sentence on what the page shows",
  "action": {"action": "click|fill|select|wait|scroll|press_key|goto", "selector": "...", "value": "..."}
}

Rules:
- If a login page, sign-in form or account wall is visible, set status "blocked" and blocker "authentication" and omit "action".
- Otherwise suggest exactly one corrective action (dismiss an overlay, scroll the target into view, retry via a better selector).
`)

	return b.String()
}

// ValidatorConfig is the configuration for the Gemini guide validator.
type ValidatorConfig struct {
	Client *genai.Client
	Model  string
	Logger log.Logger
}

func (c *ValidatorConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("genai client is required")
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "vision.Validator"})
	return nil
}

// Validator annotates finished guides with a short model-written review of how
// well the captured steps match their expected outcomes.
type Validator struct {
	client *genai.Client
	model  string
	logger log.Logger
}

var _ vision.Validator = (*Validator)(nil)

// NewValidator creates a new Gemini guide validator.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Validator{client: cfg.Client, model: cfg.Model, logger: cfg.Logger}, nil
}

// Validate implements vision.Validator.
func (v *Validator) Validate(ctx context.Context, guide *model.GuideArtifact, attempts []model.ExecutionAttempt) (string, error) {
	var b strings.Builder
	b.WriteString("Review this captured workflow run and write a short validation note (3 sentences max) on whether the run matches the task. Mention failed steps explicitly.\n\n")
	fmt.Fprintf(&b, "TASK: %s\n\nSTEPS:\n", guide.Task)
	for _, a := range attempts {
		status := "ok"
		if !a.Success {
			status = "FAILED: " + a.Error
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n", a.StepNumber, a.Description, status)
	}

	resp, err := v.client.Models.GenerateContent(ctx, v.model, genai.Text(b.String()), nil)
	if err != nil {
		return "", fmt.Errorf("validation call failed: %w: %w", model.ErrBackendUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("validation call returned nothing: %w", model.ErrBackendUnavailable)
	}

	return strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text), nil
}
