package model

import "time"

// ServiceConfig is the validated runtime configuration of the capture
// service. Zero values mean "use the component default".
type ServiceConfig struct {
	ListenAddr string

	MaxConcurrentJobs int
	ArchiveGrace      time.Duration

	Auth     AuthConfig
	Executor ExecutorTimings
	AI       AIConfig
}

// AuthConfig holds the tiered-authentication timings and optional
// stored credentials.
type AuthConfig struct {
	OAuthRedirectTimeout time.Duration
	CredentialTimeout    time.Duration
	ManualDeadline       time.Duration
	PollInterval         time.Duration

	CredentialsEmail    string
	CredentialsPassword string
}

// ExecutorTimings holds the step execution budgets.
type ExecutorTimings struct {
	PrimaryTimeout     time.Duration
	AlternativeTimeout time.Duration
	StepWait           time.Duration
	RecoveryBudget     int
}

// AIConfig selects the model used for planning and vision.
type AIConfig struct {
	Model    string
	MaxSteps int
}
