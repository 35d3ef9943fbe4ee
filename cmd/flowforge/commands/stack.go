package commands

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"github.com/flowforge/flowforge/internal/auth"
	"github.com/flowforge/flowforge/internal/browser/fake"
	"github.com/flowforge/flowforge/internal/eventbus"
	"github.com/flowforge/flowforge/internal/executor"
	"github.com/flowforge/flowforge/internal/guide"
	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/pipeline"
	plannergemini "github.com/flowforge/flowforge/internal/planner/gemini"
	"github.com/flowforge/flowforge/internal/registry"
	"github.com/flowforge/flowforge/internal/storage"
	visiongemini "github.com/flowforge/flowforge/internal/vision/gemini"
)

// registryHandle breaks the construction cycle between the registry and the
// collaborators that need it: the auth coordinator and the pipeline reach the
// registry's confirmation hub and live records through the handle, which is
// pointed at the registry once it exists. No job runs before that happens.
type registryHandle struct {
	mu  sync.RWMutex
	reg *registry.Registry
}

func (h *registryHandle) set(r *registry.Registry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reg = r
}

func (h *registryHandle) get() *registry.Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reg
}

// AwaitConfirmation implements auth.ConfirmationSource.
func (h *registryHandle) AwaitConfirmation(ctx context.Context, jobID string) error {
	reg := h.get()
	if reg == nil {
		return fmt.Errorf("registry is not ready")
	}
	return reg.AwaitConfirmation(ctx, jobID)
}

// UpdateJob implements pipeline.JobUpdater.
func (h *registryHandle) UpdateJob(jobID string, mutate func(*model.Job)) {
	if reg := h.get(); reg != nil {
		reg.UpdateJob(jobID, mutate)
	}
}

// newAIClient creates the Gemini client shared by the planner and the vision
// helpers. The API key comes from GEMINI_API_KEY, a .env file is honored when
// present.
func newAIClient(ctx context.Context) (*genai.Client, error) {
	_ = godotenv.Load()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create Gemini client: %w", err)
	}

	return client, nil
}

// credentialsFromEnv returns stored login credentials when both variables are
// set, enabling the credential auto-fill tier.
func credentialsFromEnv() *auth.Credentials {
	email := os.Getenv("FLOWFORGE_AUTH_EMAIL")
	password := os.Getenv("FLOWFORGE_AUTH_PASSWORD")
	if email == "" || password == "" {
		return nil
	}
	return &auth.Credentials{Email: email, Password: password}
}

// stackConfig carries everything buildRegistry needs to assemble a full
// capture stack.
type stackConfig struct {
	Config        model.ServiceConfig
	Bus           *eventbus.Bus
	Guides        storage.GuideRepository
	Archive       storage.JobArchive
	ScreenshotDir string
	Logger        log.Logger
}

// buildRegistry wires planner, authentication, executor, guide builder,
// validator and pipeline into a ready job registry.
func buildRegistry(ctx context.Context, cfg stackConfig) (*registry.Registry, error) {
	client, err := newAIClient(ctx)
	if err != nil {
		return nil, err
	}

	plnr, err := plannergemini.NewPlanner(plannergemini.PlannerConfig{
		Client:   client,
		Model:    cfg.Config.AI.Model,
		MaxSteps: cfg.Config.AI.MaxSteps,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create planner: %w", err)
	}

	recovery, err := visiongemini.NewRecovery(visiongemini.RecoveryConfig{
		Client:        client,
		Model:         cfg.Config.AI.Model,
		ScreenshotDir: cfg.ScreenshotDir,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create vision recovery: %w", err)
	}

	validator, err := visiongemini.NewValidator(visiongemini.ValidatorConfig{
		Client: client,
		Model:  cfg.Config.AI.Model,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create validator: %w", err)
	}

	handle := &registryHandle{}

	coordinator, err := auth.NewCoordinator(auth.CoordinatorConfig{
		Bus:                  cfg.Bus,
		Confirmations:        handle,
		Credentials:          credentialsFromEnv(),
		OAuthRedirectTimeout: cfg.Config.Auth.OAuthRedirectTimeout,
		CredentialTimeout:    cfg.Config.Auth.CredentialTimeout,
		ManualDeadline:       cfg.Config.Auth.ManualDeadline,
		PollInterval:         cfg.Config.Auth.PollInterval,
		Logger:               cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create auth coordinator: %w", err)
	}

	exec, err := executor.NewExecutor(executor.ExecutorConfig{
		Bus:                cfg.Bus,
		Recovery:           recovery,
		Auth:               coordinator,
		PrimaryTimeout:     cfg.Config.Executor.PrimaryTimeout,
		AlternativeTimeout: cfg.Config.Executor.AlternativeTimeout,
		StepWait:           cfg.Config.Executor.StepWait,
		RecoveryBudget:     cfg.Config.Executor.RecoveryBudget,
		Logger:             cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create executor: %w", err)
	}

	builder, err := guide.NewBuilder(guide.BuilderConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create guide builder: %w", err)
	}

	pipe, err := pipeline.NewPipeline(pipeline.PipelineConfig{
		Planner:   plnr,
		Auth:      coordinator,
		Runner:    exec,
		Builder:   builder,
		Validator: validator,
		Guides:    cfg.Guides,
		Bus:       cfg.Bus,
		Jobs:      handle,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create pipeline: %w", err)
	}

	launcher, err := fake.NewLauncher(fake.LauncherConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create browser launcher: %w", err)
	}

	reg, err := registry.NewRegistry(registry.RegistryConfig{
		Launcher:      launcher,
		Pipeline:      pipe,
		Bus:           cfg.Bus,
		Archive:       cfg.Archive,
		MaxConcurrent: cfg.Config.MaxConcurrentJobs,
		ArchiveGrace:  cfg.Config.ArchiveGrace,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create registry: %w", err)
	}
	handle.set(reg)

	return reg, nil
}
