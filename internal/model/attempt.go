package model

import "time"

// ExecutionAttempt is the record of one planned step's execution. Append-only,
// never mutated after creation.
type ExecutionAttempt struct {
	StepNumber  int
	Description string
	Kind        ActionKind

	// SelectorUsed is the selector that finally worked, empty if none did.
	SelectorUsed string
	// SelectorIndex is 0 for the primary selector, 1..N for an alternative
	// and -1 when every selector failed.
	SelectorIndex int

	RecoveryUsed   bool
	RecoveryAction string

	Success       bool
	Error         string
	ScreenshotRef string
	URL           string
	Timestamp     time.Time
}

// AuthMethod tags how an authentication tier attempted to resolve.
type AuthMethod string

const (
	// AuthMethodExistingSession means the session was already authenticated.
	AuthMethodExistingSession AuthMethod = "existing-session"
	// AuthMethodOAuth means a third-party sign-in affordance was invoked.
	AuthMethodOAuth AuthMethod = "oauth"
	// AuthMethodCredentials means a login form was auto-filled.
	AuthMethodCredentials AuthMethod = "credentials"
	// AuthMethodManual means the user completed the login themselves.
	AuthMethodManual AuthMethod = "manual"
)

// Tier numbers of the authentication ladder. The OAuth and credential tiers
// share a number, the method tag tells them apart.
const (
	AuthTierSession     = 1
	AuthTierOAuth       = 2
	AuthTierCredentials = 2
	AuthTierManual      = 3
)

// AuthAttemptResult is the outcome of a single tier attempt.
type AuthAttemptResult string

const (
	// AuthAttemptSuccess means the tier resolved authentication.
	AuthAttemptSuccess AuthAttemptResult = "success"
	// AuthAttemptFailed means the tier ran and did not resolve.
	AuthAttemptFailed AuthAttemptResult = "failed"
	// AuthAttemptNotFound means the tier found nothing to act on (no OAuth
	// button, no login form).
	AuthAttemptNotFound AuthAttemptResult = "not_found"
	// AuthAttemptSkipped means the tier was not applicable (for example no
	// credentials configured).
	AuthAttemptSkipped AuthAttemptResult = "skipped"
)

// AuthAttemptRecord is one entry of the tier negotiation history. Appended in
// strict tier order.
type AuthAttemptRecord struct {
	// Negotiation is 0 for the login negotiation that opened the job and
	// increments for each mid-execution renegotiation. Tier order is
	// non-decreasing within one negotiation.
	Negotiation int
	Tier        int
	Method      AuthMethod
	Result      AuthAttemptResult
	Detail      string
	Timestamp   time.Time
}

// AuthOutcome summarizes the whole authentication negotiation, attached once
// to the job.
type AuthOutcome struct {
	Success                    bool
	Method                     AuthMethod
	ManualInterventionRequired bool
	Elapsed                    time.Duration
	Attempts                   []AuthAttemptRecord
}

// Copy returns a deep copy of the outcome.
func (o *AuthOutcome) Copy() AuthOutcome {
	c := *o
	if o.Attempts != nil {
		c.Attempts = make([]AuthAttemptRecord, len(o.Attempts))
		copy(c.Attempts, o.Attempts)
	}
	return c
}
