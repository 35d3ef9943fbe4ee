package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/genai"

	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/planner"
)

//go:embed plan_schema.json
var planSchemaJSON string

const defaultModel = "gemini-2.0-flash"

// PlannerConfig is the configuration for the Gemini planner.
type PlannerConfig struct {
	Client *genai.Client
	Model  string
	// MaxAttempts bounds the generate calls per plan request.
	MaxAttempts int
	// MaxSteps caps how many steps a plan may have.
	MaxSteps int
	Logger   log.Logger
}

func (c *PlannerConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("genai client is required")
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 15
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "planner.Gemini"})
	return nil
}

// Planner produces plans with the Gemini API. The model is forced into JSON
// output and the result is validated against an embedded schema before it is
// decoded, so malformed plans and unknown action kinds never reach execution.
type Planner struct {
	client      *genai.Client
	model       string
	maxAttempts int
	maxSteps    int
	schema      *jsonschema.Schema
	logger      log.Logger
}

var _ planner.Planner = (*Planner)(nil)

// NewPlanner creates a new Gemini planner.
func NewPlanner(cfg PlannerConfig) (*Planner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	schema, err := jsonschema.CompileString("plan_schema.json", planSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("could not compile plan schema: %w", err)
	}

	return &Planner{
		client:      cfg.Client,
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		maxSteps:    cfg.MaxSteps,
		schema:      schema,
		logger:      cfg.Logger,
	}, nil
}

// Plan implements planner.Planner.
func (p *Planner) Plan(ctx context.Context, task string, target model.Target) (*model.Plan, error) {
	prompt := p.prompt(task, target)

	raw, err := p.generateWithRetry(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("could not generate plan: %w: %w", model.ErrBackendUnavailable, err)
	}

	plan, err := p.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrPlanningFailed, err)
	}

	// Callers may know the target better than the model.
	if target.Name != "" {
		plan.Target.Name = target.Name
	}
	if target.URL != "" {
		plan.Target.URL = target.URL
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: generated plan is invalid: %w", model.ErrPlanningFailed, err)
	}

	p.logger.Infof("Plan generated: %d steps, auth required: %t", len(plan.Steps), plan.Auth.Required)

	return plan, nil
}

func (p *Planner) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	backoff := 2 * time.Second
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), cfg)
		if err == nil {
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
				lastErr = fmt.Errorf("empty response")
			} else {
				return resp.Candidates[0].Content.Parts[0].Text, nil
			}
		} else {
			lastErr = err
		}

		p.logger.Warningf("Plan generation attempt %d/%d failed: %s", attempt, p.maxAttempts, lastErr)

		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}

	return "", lastErr
}

// rawPlan is the wire format the model is asked to produce.
type rawPlan struct {
	App struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"app"`
	Auth struct {
		Required bool   `json:"required"`
		Kind     string `json:"kind"`
	} `json:"auth"`
	Complexity string `json:"complexity"`
	Steps      []struct {
		StepNumber           int      `json:"step_number"`
		Action               string   `json:"action"`
		Description          string   `json:"description"`
		Selector             string   `json:"selector"`
		AlternativeSelectors []string `json:"alternative_selectors"`
		Value                string   `json:"value"`
		ExpectedOutcome      string   `json:"expected_outcome"`
	} `json:"steps"`
}

func (p *Planner) decode(raw string) (*model.Plan, error) {
	raw = stripCodeFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("plan does not match schema: %w", err)
	}

	var rp rawPlan
	if err := json.Unmarshal([]byte(raw), &rp); err != nil {
		return nil, fmt.Errorf("could not decode plan: %w", err)
	}

	if len(rp.Steps) > p.maxSteps {
		rp.Steps = rp.Steps[:p.maxSteps]
	}

	plan := &model.Plan{
		Target: model.Target{Name: rp.App.Name, URL: rp.App.URL},
		Auth: model.AuthRequirement{
			Required: rp.Auth.Required,
			Kind:     authKind(rp.Auth.Kind),
		},
		Complexity: rp.Complexity,
	}

	for _, s := range rp.Steps {
		plan.Steps = append(plan.Steps, model.PlannedStep{
			Number:          s.StepNumber,
			Kind:            actionKind(s.Action),
			Description:     s.Description,
			Selector:        s.Selector,
			AltSelectors:    s.AlternativeSelectors,
			Value:           s.Value,
			ExpectedOutcome: s.ExpectedOutcome,
		})
	}

	return plan, nil
}

func actionKind(action string) model.ActionKind {
	// The model is prompted with the original action vocabulary where
	// navigation is called "goto".
	if action == "goto" {
		return model.ActionNavigate
	}
	return model.ActionKind(action)
}

func authKind(kind string) model.AuthKind {
	switch model.AuthKind(kind) {
	case model.AuthKindNone, model.AuthKindOAuth, model.AuthKindCredentials:
		return model.AuthKind(kind)
	default:
		return model.AuthKindUnknown
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (p *Planner) prompt(task string, target model.Target) string {
	var b strings.Builder

	b.WriteString("You are an expert web automation planner. Produce a step-by-step browser workflow plan as a single JSON object.\n\n")
	fmt.Fprintf(&b, "TASK: %s\n", task)
	if target.Name != "" {
		fmt.Fprintf(&b, "APPLICATION: %s\n", target.Name)
	}
	if target.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", target.URL)
	} else {
		b.WriteString("The application is not specified, infer the most likely one and set app.name and app.url.\n")
	}

	fmt.Fprintf(&b, `
Return ONLY a JSON object with this shape:
{
  "app": {"name": "...", "url": "https://..."},
  "auth": {"required": true, "kind": "none|oauth|credentials|unknown"},
  "complexity": "low|medium|high",
  "steps": [
    {
      "step_number": 1,
      "action": "goto|click|fill|select|wait|scroll|press_key",
      "description": "What this step does, user facing",
      "selector": "CSS selector of the target element",
      "alternative_selectors": ["fallback selector", "..."],
      "value": "input value, url or key when applicable",
      "expected_outcome": "what the page should show afterwards"
    }
  ]
}

Rules:
- At most %d steps, the first step is always a "goto" to the application URL.
- Give 2-3 alternative_selectors per element action, most specific first.
- auth.required is true when the task touches account-scoped data.
- No text outside the JSON object.
`, p.maxSteps)

	return b.String()
}
