package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flowforge/flowforge/internal/browser"
	"github.com/flowforge/flowforge/internal/eventbus"
	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
)

// ConfirmationSource delivers the external "user finished logging in" signal
// used by the manual tier.
type ConfirmationSource interface {
	// AwaitConfirmation blocks until a confirmation for the job arrives or the
	// context is done. Returns the context error when cancelled; the waiter
	// registration is released either way.
	AwaitConfirmation(ctx context.Context, jobID string) error
}

// Credentials are the optional configured login credentials for the
// credential auto-fill tier.
type Credentials struct {
	Email    string
	Password string
}

// CoordinatorConfig is the configuration for the authentication coordinator.
type CoordinatorConfig struct {
	Bus           *eventbus.Bus
	Confirmations ConfirmationSource
	// Credentials enables the credential auto-fill tier when set.
	Credentials *Credentials

	// OAuthRedirectTimeout bounds the wait for the post-login state after
	// invoking an OAuth affordance.
	OAuthRedirectTimeout time.Duration
	// CredentialTimeout bounds the wait for the post-login state after
	// auto-filling the login form.
	CredentialTimeout time.Duration
	// ManualDeadline bounds the whole manual tier.
	ManualDeadline time.Duration
	// PollInterval is the cadence of the navigation state polls.
	PollInterval time.Duration

	Logger log.Logger
}

func (c *CoordinatorConfig) defaults() error {
	if c.Bus == nil {
		return fmt.Errorf("event bus is required")
	}
	if c.Confirmations == nil {
		return fmt.Errorf("confirmation source is required")
	}
	if c.OAuthRedirectTimeout <= 0 {
		c.OAuthRedirectTimeout = 15 * time.Second
	}
	if c.CredentialTimeout <= 0 {
		c.CredentialTimeout = 15 * time.Second
	}
	if c.ManualDeadline <= 0 {
		c.ManualDeadline = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "auth.Coordinator"})
	return nil
}

// Coordinator negotiates authentication through a tiered ladder: existing
// session, assisted OAuth, credential auto-fill and finally manual
// intervention. Tier failures below the manual one are expected and advance
// the ladder; only the manual tier can fail the job.
type Coordinator struct {
	bus           *eventbus.Bus
	confirmations ConfirmationSource
	credentials   *Credentials

	oauthRedirectTimeout time.Duration
	credentialTimeout    time.Duration
	manualDeadline       time.Duration
	pollInterval         time.Duration

	logger log.Logger
}

// NewCoordinator creates a new authentication coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Coordinator{
		bus:                  cfg.Bus,
		confirmations:        cfg.Confirmations,
		credentials:          cfg.Credentials,
		oauthRedirectTimeout: cfg.OAuthRedirectTimeout,
		credentialTimeout:    cfg.CredentialTimeout,
		manualDeadline:       cfg.ManualDeadline,
		pollInterval:         cfg.PollInterval,
		logger:               cfg.Logger,
	}, nil
}

// Authenticate runs the ladder for the job's session. It is re-entrant: the
// pipeline runs it before execution when the plan demands it, and the step
// executor runs it again when vision detects a login wall mid-execution.
//
// The outcome with its full attempt history is returned even on failure.
// A nil error means the session is authenticated. Errors wrap
// model.ErrAuthTimedOut, model.ErrAuthFailed or model.ErrCancelled.
func (c *Coordinator) Authenticate(ctx context.Context, jobID string, session browser.Session) (*model.AuthOutcome, error) {
	logger := c.logger.WithValues(log.Kv{"job": jobID})
	start := time.Now()

	outcome := &model.AuthOutcome{}
	record := func(tier int, method model.AuthMethod, result model.AuthAttemptResult, detail string) {
		outcome.Attempts = append(outcome.Attempts, model.AuthAttemptRecord{
			Tier:      tier,
			Method:    method,
			Result:    result,
			Detail:    detail,
			Timestamp: time.Now().UTC(),
		})
	}
	finish := func(method model.AuthMethod, manual bool) (*model.AuthOutcome, error) {
		outcome.Success = true
		outcome.Method = method
		outcome.ManualInterventionRequired = manual
		outcome.Elapsed = time.Since(start)
		c.bus.Publish(jobID, model.ProgressEvent{
			Kind: model.EventAuthResolved,
			Auth: &model.AuthNotice{Method: method, Manual: manual},
		})
		logger.Infof("Authentication resolved via %s in %s", method, outcome.Elapsed)
		return outcome, nil
	}
	fail := func(err error) (*model.AuthOutcome, error) {
		outcome.Elapsed = time.Since(start)
		return outcome, err
	}

	// Tier 1: session check. Always recorded, whatever the outcome.
	state, err := session.State(ctx)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			record(model.AuthTierSession, model.AuthMethodExistingSession, model.AuthAttemptFailed, "cancelled")
			return fail(fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err()))
		}
		record(model.AuthTierSession, model.AuthMethodExistingSession, model.AuthAttemptFailed, fmt.Sprintf("state read failed: %s", err))
	case !OnLoginPage(state):
		record(model.AuthTierSession, model.AuthMethodExistingSession, model.AuthAttemptSuccess, "no login indicators")
		return finish(model.AuthMethodExistingSession, false)
	default:
		record(model.AuthTierSession, model.AuthMethodExistingSession, model.AuthAttemptFailed, fmt.Sprintf("login page detected at %s", state.URL))
	}

	logger.Debugf("Tier 1 did not resolve, trying assisted OAuth")

	// Tier 2a: assisted OAuth.
	tierErr := c.tryOAuth(ctx, session, state, record)
	if tierErr == nil {
		return finish(model.AuthMethodOAuth, false)
	}
	if errors.Is(tierErr, context.Canceled) || errors.Is(tierErr, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return fail(fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err()))
		}
	}

	// Tier 2b: credential auto-fill.
	tierErr = c.tryCredentials(ctx, session, record)
	if tierErr == nil {
		return finish(model.AuthMethodCredentials, false)
	}
	if ctx.Err() != nil {
		return fail(fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err()))
	}

	// Tier 3: manual intervention.
	winner, tierErr := c.manualTier(ctx, jobID, session, outcome, record)
	if tierErr != nil {
		return fail(tierErr)
	}
	logger.Debugf("Manual tier resolved by %s", winner)
	return finish(model.AuthMethodManual, true)
}

// tryOAuth searches for a known third-party sign-in affordance and invokes
// it. Returns nil on resolution, an error otherwise.
func (c *Coordinator) tryOAuth(ctx context.Context, session browser.Session, state *browser.NavigationState, record func(int, model.AuthMethod, model.AuthAttemptResult, string)) error {
	var providers []string
	if state != nil {
		providers = InspectHTML(state.HTML).OAuthProviders
	}
	if len(providers) == 0 {
		record(model.AuthTierOAuth, model.AuthMethodOAuth, model.AuthAttemptNotFound, "no third-party sign-in affordances found")
		return fmt.Errorf("no oauth affordances")
	}

	for _, provider := range providers {
		for _, selector := range oauthClickCandidates[provider] {
			if err := session.Click(ctx, selector); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}

			// Clicked. Wait for the post-login state.
			if err := c.waitOffLoginPage(ctx, session, c.oauthRedirectTimeout); err == nil {
				record(model.AuthTierOAuth, model.AuthMethodOAuth, model.AuthAttemptSuccess, provider)
				return nil
			} else if ctx.Err() != nil {
				return ctx.Err()
			}

			record(model.AuthTierOAuth, model.AuthMethodOAuth, model.AuthAttemptFailed,
				fmt.Sprintf("%s sign-in did not leave the login page within %s", provider, c.oauthRedirectTimeout))
			return fmt.Errorf("oauth redirect timed out")
		}
	}

	record(model.AuthTierOAuth, model.AuthMethodOAuth, model.AuthAttemptFailed, "sign-in affordance could not be clicked")
	return fmt.Errorf("oauth affordance not clickable")
}

// tryCredentials locates a login form and fills the configured credentials.
func (c *Coordinator) tryCredentials(ctx context.Context, session browser.Session, record func(int, model.AuthMethod, model.AuthAttemptResult, string)) error {
	if c.credentials == nil {
		record(model.AuthTierCredentials, model.AuthMethodCredentials, model.AuthAttemptSkipped, "no credentials configured")
		return fmt.Errorf("no credentials configured")
	}

	fill := func(candidates []string, value string) bool {
		for _, selector := range candidates {
			if err := session.Fill(ctx, selector, value); err == nil {
				return true
			}
		}
		return false
	}

	if !fill(emailFieldCandidates, c.credentials.Email) {
		record(model.AuthTierCredentials, model.AuthMethodCredentials, model.AuthAttemptNotFound, "no email field found")
		return fmt.Errorf("no email field")
	}
	if !fill(passwordFieldCandidates, c.credentials.Password) {
		record(model.AuthTierCredentials, model.AuthMethodCredentials, model.AuthAttemptNotFound, "no password field found")
		return fmt.Errorf("no password field")
	}

	submitted := false
	for _, selector := range submitCandidates {
		if err := session.Click(ctx, selector); err == nil {
			submitted = true
			break
		}
	}
	if !submitted {
		record(model.AuthTierCredentials, model.AuthMethodCredentials, model.AuthAttemptFailed, "no submit control found")
		return fmt.Errorf("no submit control")
	}

	if err := c.waitOffLoginPage(ctx, session, c.credentialTimeout); err != nil {
		record(model.AuthTierCredentials, model.AuthMethodCredentials, model.AuthAttemptFailed,
			fmt.Sprintf("still on the login page after submit (waited %s)", c.credentialTimeout))
		return fmt.Errorf("credential login did not complete: %w", err)
	}

	record(model.AuthTierCredentials, model.AuthMethodCredentials, model.AuthAttemptSuccess, "login form auto-filled")
	return nil
}

// tier3Winner tags which waiter won the manual tier race.
type tier3Winner string

const (
	winnerDetector     tier3Winner = "automatic-detection"
	winnerConfirmation tier3Winner = "confirmation-signal"
)

// manualTier publishes the auth-required event and races the automatic
// navigation detector against the external confirmation signal under the
// manual deadline. The loser is cancelled before the method returns; neither
// waiter outlives it.
func (c *Coordinator) manualTier(ctx context.Context, jobID string, session browser.Session, outcome *model.AuthOutcome, record func(int, model.AuthMethod, model.AuthAttemptResult, string)) (tier3Winner, error) {
	deadline := time.Now().Add(c.manualDeadline)

	c.bus.Publish(jobID, model.ProgressEvent{
		Kind: model.EventAuthRequired,
		Auth: &model.AuthNotice{
			Summary:  attemptSummary(outcome.Attempts),
			Deadline: deadline,
			Manual:   true,
		},
	})

	raceCtx, cancelRace := context.WithDeadline(ctx, deadline)
	defer cancelRace()

	results := make(chan tier3Winner, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	// Waiter 1: automatic detector polling the navigation state.
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-raceCtx.Done():
				return
			case <-ticker.C:
			}
			state, err := session.State(raceCtx)
			if err != nil {
				continue
			}
			if !OnLoginPage(state) {
				results <- winnerDetector
				return
			}
		}
	}()

	// Waiter 2: external confirmation signal.
	go func() {
		defer wg.Done()
		if err := c.confirmations.AwaitConfirmation(raceCtx, jobID); err == nil {
			results <- winnerConfirmation
		}
	}()

	var winner tier3Winner
	select {
	case winner = <-results:
	case <-raceCtx.Done():
		cancelRace()
		wg.Wait()
		if ctx.Err() != nil {
			record(model.AuthTierManual, model.AuthMethodManual, model.AuthAttemptFailed, "cancelled")
			return "", fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err())
		}
		record(model.AuthTierManual, model.AuthMethodManual, model.AuthAttemptFailed,
			fmt.Sprintf("timed-out after %s", c.manualDeadline))
		return "", fmt.Errorf("manual login deadline reached: %w", model.ErrAuthTimedOut)
	}

	// Cancel the loser and prove both waiters are gone before moving on.
	cancelRace()
	wg.Wait()

	// Never trust a confirmation blindly: re-verify the login page is gone.
	state, err := session.State(ctx)
	if err != nil || OnLoginPage(state) {
		record(model.AuthTierManual, model.AuthMethodManual, model.AuthAttemptFailed,
			fmt.Sprintf("%s reported success but login indicators are still present", winner))
		return "", fmt.Errorf("manual login not verified: %w", model.ErrAuthFailed)
	}

	record(model.AuthTierManual, model.AuthMethodManual, model.AuthAttemptSuccess, string(winner))
	return winner, nil
}

// waitOffLoginPage polls the navigation state until the login indicators are
// gone or the timeout elapses.
func (c *Coordinator) waitOffLoginPage(ctx context.Context, session browser.Session, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		state, err := session.State(waitCtx)
		if err == nil && !OnLoginPage(state) {
			return nil
		}

		select {
		case <-waitCtx.Done():
			return waitCtx.Err()
		case <-ticker.C:
		}
	}
}

// attemptSummary renders the attempt history into the human-readable summary
// carried by the auth-required event.
func attemptSummary(attempts []model.AuthAttemptRecord) string {
	parts := make([]string, 0, len(attempts)+1)
	for _, a := range attempts {
		detail := a.Detail
		if detail != "" {
			detail = ": " + detail
		}
		parts = append(parts, fmt.Sprintf("tier %d (%s) %s%s", a.Tier, a.Method, a.Result, detail))
	}
	parts = append(parts, "manual login required, complete it in the browser or confirm when done")
	return strings.Join(parts, "; ")
}
