package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowforge/flowforge/internal/model"
)

// ConfigYAMLRepository loads service configuration from YAML files.
type ConfigYAMLRepository struct {
	fs fs.FS
}

// NewConfigYAMLRepository creates a new YAML config repository.
func NewConfigYAMLRepository(filesystem fs.FS) *ConfigYAMLRepository {
	return &ConfigYAMLRepository{fs: filesystem}
}

// GetConfig loads a service configuration from a YAML file and returns a validated domain model.
func (r *ConfigYAMLRepository) GetConfig(ctx context.Context, path string) (model.ServiceConfig, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.ServiceConfig{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return model.ServiceConfig{}, ctx.Err()
	}

	var cfg ServiceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.ServiceConfig{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return model.ServiceConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg.toModel()
}

// ServiceConfig represents the YAML structure for service configuration.
// Durations are Go duration strings ("15s", "5m").
type ServiceConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Auth     AuthConfig     `yaml:"auth"`
	Executor ExecutorConfig `yaml:"executor"`
	AI       AIConfig       `yaml:"ai"`
}

// ServerConfig represents the YAML structure for the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// JobsConfig represents the YAML structure for job admission and retention.
type JobsConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	ArchiveGrace  string `yaml:"archive_grace"`
}

// AuthConfig represents the YAML structure for the authentication tiers.
type AuthConfig struct {
	OAuthRedirectTimeout string `yaml:"oauth_redirect_timeout"`
	CredentialTimeout    string `yaml:"credential_timeout"`
	ManualDeadline       string `yaml:"manual_deadline"`
	PollInterval         string `yaml:"poll_interval"`
}

// ExecutorConfig represents the YAML structure for step execution budgets.
type ExecutorConfig struct {
	PrimaryTimeout     string `yaml:"primary_timeout"`
	AlternativeTimeout string `yaml:"alternative_timeout"`
	StepWait           string `yaml:"step_wait"`
	RecoveryBudget     int    `yaml:"recovery_budget"`
}

// AIConfig represents the YAML structure for model selection.
type AIConfig struct {
	Model    string `yaml:"model"`
	MaxSteps int    `yaml:"max_steps"`
}

func (c ServiceConfig) validate() error {
	if c.Jobs.MaxConcurrent < 0 {
		return fmt.Errorf("jobs max_concurrent can't be negative, got: %d", c.Jobs.MaxConcurrent)
	}
	if c.Executor.RecoveryBudget < 0 {
		return fmt.Errorf("executor recovery_budget can't be negative, got: %d", c.Executor.RecoveryBudget)
	}
	if c.AI.MaxSteps < 0 {
		return fmt.Errorf("ai max_steps can't be negative, got: %d", c.AI.MaxSteps)
	}

	durations := map[string]string{
		"jobs archive_grace":          c.Jobs.ArchiveGrace,
		"auth oauth_redirect_timeout": c.Auth.OAuthRedirectTimeout,
		"auth credential_timeout":     c.Auth.CredentialTimeout,
		"auth manual_deadline":        c.Auth.ManualDeadline,
		"auth poll_interval":          c.Auth.PollInterval,
		"executor primary_timeout":    c.Executor.PrimaryTimeout,
		"executor alternative_timeout": c.Executor.AlternativeTimeout,
		"executor step_wait":          c.Executor.StepWait,
	}
	for field, raw := range durations {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", field, raw)
		}
		if d <= 0 {
			return fmt.Errorf("%s: duration must be positive, got: %s", field, raw)
		}
	}

	return nil
}

func (c ServiceConfig) toModel() (model.ServiceConfig, error) {
	cfg := model.ServiceConfig{
		ListenAddr:        c.Server.Addr,
		MaxConcurrentJobs: c.Jobs.MaxConcurrent,
		ArchiveGrace:      duration(c.Jobs.ArchiveGrace),
		Auth: model.AuthConfig{
			OAuthRedirectTimeout: duration(c.Auth.OAuthRedirectTimeout),
			CredentialTimeout:    duration(c.Auth.CredentialTimeout),
			ManualDeadline:       duration(c.Auth.ManualDeadline),
			PollInterval:         duration(c.Auth.PollInterval),
		},
		Executor: model.ExecutorTimings{
			PrimaryTimeout:     duration(c.Executor.PrimaryTimeout),
			AlternativeTimeout: duration(c.Executor.AlternativeTimeout),
			StepWait:           duration(c.Executor.StepWait),
			RecoveryBudget:     c.Executor.RecoveryBudget,
		},
		AI: model.AIConfig{
			Model:    c.AI.Model,
			MaxSteps: c.AI.MaxSteps,
		},
	}

	return cfg, nil
}

// duration parses an already validated duration string, empty means zero.
func duration(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, _ := time.ParseDuration(raw)
	return d
}
