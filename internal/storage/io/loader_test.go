package io

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/model"
)

func TestConfigYAMLRepository_GetConfig(t *testing.T) {
	tests := map[string]struct {
		fs     fstest.MapFS
		path   string
		expCfg model.ServiceConfig
		expErr bool
		errMsg string
	}{
		"Full config should load successfully": {
			fs: fstest.MapFS{
				"flowforge.yaml": &fstest.MapFile{
					Data: []byte(`server:
  addr: ":9090"
jobs:
  max_concurrent: 5
  archive_grace: 10m
auth:
  oauth_redirect_timeout: 20s
  credential_timeout: 12s
  manual_deadline: 5m
  poll_interval: 1s
executor:
  primary_timeout: 4s
  alternative_timeout: 2s
  step_wait: 500ms
  recovery_budget: 3
ai:
  model: gemini-2.0-flash
  max_steps: 20
`),
				},
			},
			path: "flowforge.yaml",
			expCfg: model.ServiceConfig{
				ListenAddr:        ":9090",
				MaxConcurrentJobs: 5,
				ArchiveGrace:      10 * time.Minute,
				Auth: model.AuthConfig{
					OAuthRedirectTimeout: 20 * time.Second,
					CredentialTimeout:    12 * time.Second,
					ManualDeadline:       5 * time.Minute,
					PollInterval:         time.Second,
				},
				Executor: model.ExecutorTimings{
					PrimaryTimeout:     4 * time.Second,
					AlternativeTimeout: 2 * time.Second,
					StepWait:           500 * time.Millisecond,
					RecoveryBudget:     3,
				},
				AI: model.AIConfig{
					Model:    "gemini-2.0-flash",
					MaxSteps: 20,
				},
			},
			expErr: false,
		},

		"Empty config should load successfully with zero values": {
			fs: fstest.MapFS{
				"empty.yaml": &fstest.MapFile{
					Data: []byte(`---
`),
				},
			},
			path:   "empty.yaml",
			expCfg: model.ServiceConfig{},
			expErr: false,
		},

		"Partial config should leave the rest zero": {
			fs: fstest.MapFS{
				"partial.yaml": &fstest.MapFile{
					Data: []byte(`jobs:
  max_concurrent: 1
`),
				},
			},
			path: "partial.yaml",
			expCfg: model.ServiceConfig{
				MaxConcurrentJobs: 1,
			},
			expErr: false,
		},

		"Missing file should return error": {
			fs:     fstest.MapFS{},
			path:   "nonexistent.yaml",
			expErr: true,
			errMsg: "reading config file",
		},

		"Invalid YAML should return error": {
			fs: fstest.MapFS{
				"bad.yaml": &fstest.MapFile{
					Data: []byte(`server: [`),
				},
			},
			path:   "bad.yaml",
			expErr: true,
			errMsg: "parsing YAML",
		},

		"Unparseable duration should return error": {
			fs: fstest.MapFS{
				"bad.yaml": &fstest.MapFile{
					Data: []byte(`auth:
  manual_deadline: five minutes
`),
				},
			},
			path:   "bad.yaml",
			expErr: true,
			errMsg: "invalid duration",
		},

		"Negative duration should return error": {
			fs: fstest.MapFS{
				"bad.yaml": &fstest.MapFile{
					Data: []byte(`executor:
  step_wait: -2s
`),
				},
			},
			path:   "bad.yaml",
			expErr: true,
			errMsg: "must be positive",
		},

		"Negative max_concurrent should return error": {
			fs: fstest.MapFS{
				"bad.yaml": &fstest.MapFile{
					Data: []byte(`jobs:
  max_concurrent: -1
`),
				},
			},
			path:   "bad.yaml",
			expErr: true,
			errMsg: "can't be negative",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := NewConfigYAMLRepository(test.fs)

			cfg, err := repo.GetConfig(context.Background(), test.path)

			if test.expErr {
				require.Error(t, err)
				if test.errMsg != "" {
					assert.Contains(t, err.Error(), test.errMsg)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expCfg, cfg)
		})
	}
}
