package executor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/flowforge/flowforge/internal/browser"
	"github.com/flowforge/flowforge/internal/eventbus"
	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/vision"
)

// Authenticator resolves an authentication wall hit mid-execution.
// auth.Coordinator satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, jobID string, session browser.Session) (*model.AuthOutcome, error)
}

//go:generate mockery --case underscore --output executormock --outpkg executormock --name Authenticator

// ExecutorConfig is the configuration for the step executor.
type ExecutorConfig struct {
	Bus *eventbus.Bus
	// Recovery is the optional vision collaborator consulted after every
	// selector is exhausted. Without it failed steps degrade immediately.
	Recovery vision.Recovery
	// Auth handles login walls flagged by the recovery collaborator. Without
	// it an auth blocker degrades the step.
	Auth Authenticator

	// PrimaryTimeout bounds the primary selector attempt.
	PrimaryTimeout time.Duration
	// AlternativeTimeout bounds each alternative selector attempt.
	AlternativeTimeout time.Duration
	// StepWait is the settle pause between steps.
	StepWait time.Duration
	// RecoveryBudget caps vision consultations per step.
	RecoveryBudget int

	Logger log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.Bus == nil {
		return fmt.Errorf("event bus is required")
	}
	if c.PrimaryTimeout <= 0 {
		c.PrimaryTimeout = 5 * time.Second
	}
	if c.AlternativeTimeout <= 0 {
		c.AlternativeTimeout = 3 * time.Second
	}
	if c.StepWait < 0 {
		return fmt.Errorf("step wait can't be negative")
	}
	if c.StepWait == 0 {
		c.StepWait = 2 * time.Second
	}
	if c.RecoveryBudget < 0 {
		return fmt.Errorf("recovery budget can't be negative")
	}
	if c.RecoveryBudget == 0 {
		c.RecoveryBudget = 2
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Executor"})
	return nil
}

// Result is the outcome of a full plan execution. Execution is tolerant:
// individual step failures degrade the run instead of aborting it, so a nil
// error does not mean every step succeeded.
type Result struct {
	Attempts []model.ExecutionAttempt
	Degraded bool
	// Auth is the mid-execution authentication outcome, nil when no login
	// wall interrupted the run.
	Auth *model.AuthOutcome
}

// Executor runs a plan's steps against a browser session, one at a time, with
// a per-step fallback ladder: primary selector, alternatives in order, then
// vision recovery within a bounded budget.
type Executor struct {
	bus      *eventbus.Bus
	recovery vision.Recovery
	auth     Authenticator

	primaryTimeout     time.Duration
	alternativeTimeout time.Duration
	stepWait           time.Duration
	recoveryBudget     int

	logger log.Logger
}

// NewExecutor creates a new step executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Executor{
		bus:                cfg.Bus,
		recovery:           cfg.Recovery,
		auth:               cfg.Auth,
		primaryTimeout:     cfg.PrimaryTimeout,
		alternativeTimeout: cfg.AlternativeTimeout,
		stepWait:           cfg.StepWait,
		recoveryBudget:     cfg.RecoveryBudget,
		logger:             cfg.Logger,
	}, nil
}

// Execute runs every step of the plan in order. It only returns an error on
// cancellation; step failures are recorded in the result and mark it degraded.
func (e *Executor) Execute(ctx context.Context, jobID string, session browser.Session, plan model.Plan) (*Result, error) {
	logger := e.logger.WithValues(log.Kv{"job": jobID})
	result := &Result{}

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %w", model.ErrCancelled, err)
		}

		remaining := make([]string, 0, len(plan.Steps)-i-1)
		for _, s := range plan.Steps[i+1:] {
			remaining = append(remaining, s.Description)
		}

		attempt := e.runStep(ctx, jobID, session, step, remaining, result)
		result.Attempts = append(result.Attempts, attempt)
		if !attempt.Success {
			result.Degraded = true
			logger.Warningf("Step %d failed, continuing degraded: %s", step.Number, attempt.Error)
		}

		e.publishStep(jobID, step, attempt)

		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %w", model.ErrCancelled, err)
		}
		if i < len(plan.Steps)-1 {
			if err := sleepCtx(ctx, e.stepWait); err != nil {
				return result, fmt.Errorf("%w: %w", model.ErrCancelled, err)
			}
		}
	}

	return result, nil
}

// runStep runs the fallback ladder for one step and returns its record.
func (e *Executor) runStep(ctx context.Context, jobID string, session browser.Session, step model.PlannedStep, remaining []string, result *Result) model.ExecutionAttempt {
	logger := e.logger.WithValues(log.Kv{"job": jobID, "step": step.Number})

	attempt := model.ExecutionAttempt{
		StepNumber:    step.Number,
		Description:   step.Description,
		Kind:          step.Kind,
		SelectorIndex: -1,
		Timestamp:     time.Now().UTC(),
	}

	selIdx, lastErr := e.trySelectors(ctx, session, step)
	if lastErr == nil {
		return e.finishStep(ctx, session, step, attempt, selIdx)
	}
	if ctx.Err() != nil {
		attempt.Error = lastErr.Error()
		return attempt
	}

	logger.Debugf("Selectors exhausted: %v", lastErr)
	errRef := e.screenshot(ctx, session, fmt.Sprintf("step_%d_error", step.Number))
	attempt.ScreenshotRef = errRef

	// Vision recovery rounds, bounded. An authentication blocker re-runs the
	// login negotiation and grants the step a single clean retry.
	authRetried := false
	round := 0
	for ; round < e.recoveryBudget && e.recovery != nil; round++ {
		suggestion, err := e.recovery.Suggest(ctx, errRef, vision.StepContext{
			Description:     step.Description,
			ExpectedOutcome: step.ExpectedOutcome,
			PageURL:         currentURL(ctx, session),
			RemainingSteps:  remaining,
		})
		if err != nil {
			if ctx.Err() != nil {
				attempt.Error = err.Error()
				return attempt
			}
			logger.Warningf("Vision recovery unavailable: %v", err)
			e.bus.Publish(jobID, model.ProgressEvent{
				Kind:    model.EventError,
				Message: fmt.Sprintf("step %d: vision recovery unavailable: %s", step.Number, err),
			})
			break
		}

		switch {
		case suggestion.AuthBlocker && e.auth != nil && !authRetried:
			authRetried = true
			attempt.RecoveryUsed = true
			attempt.RecoveryAction = "renegotiated authentication"
			logger.Infof("Login wall mid-execution, renegotiating authentication")
			outcome, err := e.auth.Authenticate(ctx, jobID, session)
			if outcome != nil {
				result.Auth = outcome
			}
			if err != nil {
				attempt.Error = fmt.Sprintf("authentication blocker not resolved: %s", err)
				return attempt
			}

		case suggestion.Action != nil:
			attempt.RecoveryUsed = true
			attempt.RecoveryAction = describeAction(*suggestion.Action)
			if err := e.applyRecovery(ctx, session, *suggestion.Action); err != nil {
				logger.Debugf("Recovery action failed: %v", err)
				continue
			}

		default:
			attempt.Error = fmt.Sprintf("no recovery available: %s", suggestion.Observation)
			return attempt
		}

		// Whatever unblocked us, the step gets retried on its own selectors.
		selIdx, lastErr = e.trySelectors(ctx, session, step)
		if lastErr == nil {
			return e.finishStep(ctx, session, step, attempt, selIdx)
		}
		if ctx.Err() != nil {
			attempt.Error = lastErr.Error()
			return attempt
		}
	}

	if e.recovery != nil && round == e.recoveryBudget {
		lastErr = fmt.Errorf("%w: %w", model.ErrRecoveryExhausted, lastErr)
	}
	attempt.Error = lastErr.Error()
	attempt.URL = currentURL(ctx, session)
	return attempt
}

// trySelectors runs the action with the primary selector, then each
// alternative in order. Returns the index of the selector that worked.
func (e *Executor) trySelectors(ctx context.Context, session browser.Session, step model.PlannedStep) (int, error) {
	err := e.apply(ctx, session, step, step.Selector, e.primaryTimeout)
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, err
	}

	for i, alt := range step.AltSelectors {
		err = e.apply(ctx, session, step, alt, e.alternativeTimeout)
		if err == nil {
			return i + 1, nil
		}
		if ctx.Err() != nil {
			return -1, err
		}
	}

	return -1, fmt.Errorf("%w, %d tried, last: %w", model.ErrSelectorExhausted, 1+len(step.AltSelectors), err)
}

// apply performs one action with one selector under a timeout.
func (e *Executor) apply(ctx context.Context, session browser.Session, step model.PlannedStep, selector string, timeout time.Duration) error {
	actCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch step.Kind {
	case model.ActionNavigate:
		url := step.Value
		if url == "" {
			url = step.Selector
		}
		return session.Navigate(actCtx, url)
	case model.ActionClick:
		return session.Click(actCtx, selector)
	case model.ActionFill:
		return session.Fill(actCtx, selector, step.Value)
	case model.ActionSelect:
		return session.SelectOption(actCtx, selector, step.Value)
	case model.ActionScroll:
		return session.Scroll(actCtx, selector)
	case model.ActionPressKey:
		return session.PressKey(actCtx, step.Value)
	case model.ActionWait:
		if selector != "" {
			return session.WaitFor(actCtx, selector)
		}
		return sleepCtx(ctx, waitDuration(step.Value, e.stepWait))
	default:
		return fmt.Errorf("unknown action kind %q: %w", step.Kind, model.ErrNotValid)
	}
}

func (e *Executor) applyRecovery(ctx context.Context, session browser.Session, action vision.RecoveryAction) error {
	step := model.PlannedStep{
		Kind:     action.Kind,
		Selector: action.Selector,
		Value:    action.Value,
	}
	return e.apply(ctx, session, step, action.Selector, e.alternativeTimeout)
}

// finishStep captures the success screenshot and closes the record.
func (e *Executor) finishStep(ctx context.Context, session browser.Session, step model.PlannedStep, attempt model.ExecutionAttempt, selIdx int) model.ExecutionAttempt {
	attempt.Success = true
	attempt.SelectorIndex = selIdx
	if selIdx == 0 {
		attempt.SelectorUsed = step.Selector
	} else if selIdx > 0 && selIdx <= len(step.AltSelectors) {
		attempt.SelectorUsed = step.AltSelectors[selIdx-1]
	}
	attempt.ScreenshotRef = e.screenshot(ctx, session, fmt.Sprintf("step_%d", step.Number))
	attempt.URL = currentURL(ctx, session)
	return attempt
}

func (e *Executor) publishStep(jobID string, step model.PlannedStep, attempt model.ExecutionAttempt) {
	e.bus.Publish(jobID, model.ProgressEvent{
		Kind: model.EventStepCaptured,
		Step: &model.StepCapture{
			Number:        step.Number,
			Description:   step.Description,
			Success:       attempt.Success,
			Recovery:      attempt.RecoveryUsed,
			ScreenshotRef: attempt.ScreenshotRef,
		},
	})
	if !attempt.Success {
		e.bus.Publish(jobID, model.ProgressEvent{
			Kind:    model.EventError,
			Message: fmt.Sprintf("step %d failed: %s", step.Number, attempt.Error),
		})
	}
}

// screenshot is best-effort, a capture failure never fails the step.
func (e *Executor) screenshot(ctx context.Context, session browser.Session, name string) string {
	ref, err := session.Screenshot(ctx, name)
	if err != nil {
		e.logger.Warningf("Screenshot %s failed: %v", name, err)
		return ""
	}
	return ref
}

func currentURL(ctx context.Context, session browser.Session) string {
	state, err := session.State(ctx)
	if err != nil || state == nil {
		return ""
	}
	return state.URL
}

func describeAction(a vision.RecoveryAction) string {
	s := string(a.Kind)
	if a.Selector != "" {
		s += " " + a.Selector
	}
	if a.Value != "" {
		s += " " + strconv.Quote(a.Value)
	}
	return s
}

func waitDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
