package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/flowforge/flowforge/internal/conventions"
	"github.com/flowforge/flowforge/internal/eventbus"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/storage/memory"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	task          string
	targetName    string
	targetURL     string
	timeout       time.Duration
	screenshotDir string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Capture a single workflow in the foreground and print the guide.")
	c.Cmd.Flag("task", "Natural language task to capture.").Required().StringVar(&c.task)
	c.Cmd.Flag("target-name", "Name of the target application.").StringVar(&c.targetName)
	c.Cmd.Flag("target-url", "URL of the target application.").StringVar(&c.targetURL)
	c.Cmd.Flag("timeout", "Give up on the job after this long.").Default("10m").DurationVar(&c.timeout)

	defaultScreenshotDir := conventions.ScreenshotsPath(filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir))
	c.Cmd.Flag("screenshot-dir", "Directory where step screenshots are stored.").Default(defaultScreenshotDir).StringVar(&c.screenshotDir)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := os.MkdirAll(c.screenshotDir, 0o755); err != nil {
		return fmt.Errorf("could not create screenshot dir: %w", err)
	}

	// One-shot runs keep everything in memory, nothing outlives the process
	// except the printed guide.
	repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	bus, err := eventbus.NewBus(eventbus.BusConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create event bus: %w", err)
	}

	reg, err := buildRegistry(ctx, stackConfig{
		Bus:           bus,
		Guides:        repo,
		Archive:       repo,
		ScreenshotDir: c.screenshotDir,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("could not build capture stack: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = reg.Stop(stopCtx)
	}()

	job, err := reg.Submit(ctx, c.task, model.Target{Name: c.targetName, URL: c.targetURL})
	if err != nil {
		return fmt.Errorf("could not submit job: %w", err)
	}

	events, unsubscribe, err := reg.Subscribe(job.ID)
	if err != nil {
		return fmt.Errorf("could not subscribe to job events: %w", err)
	}
	defer unsubscribe()

	fmt.Fprintf(c.rootCmd.Stdout, "Job %s submitted\n", job.ID)

	if err := c.watch(ctx, job.ID, reg, events); err != nil {
		return err
	}

	final, err := reg.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("could not fetch final job state: %w", err)
	}

	if final.Phase == model.JobPhaseFailed {
		return fmt.Errorf("job failed: %s: %s", final.Reason, final.Error)
	}

	artifact, err := repo.GetGuide(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("could not fetch guide: %w", err)
	}

	fmt.Fprintln(c.rootCmd.Stdout)
	fmt.Fprintln(c.rootCmd.Stdout, artifact.Markdown)

	return nil
}

// watch prints progress events until the job reaches a terminal phase. While
// the manual login tier is waiting, a line on stdin confirms the login.
func (c RunCommand) watch(ctx context.Context, jobID string, reg confirmer, events <-chan model.ProgressEvent) error {
	var confirmOnce sync.Once

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for the job: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			c.printEvent(ev)

			if ev.Kind == model.EventAuthRequired {
				confirmOnce.Do(func() {
					go func() {
						scanner := bufio.NewScanner(c.rootCmd.Stdin)
						if scanner.Scan() {
							_ = reg.Confirm(jobID)
						}
					}()
				})
			}

			if ev.Kind == model.EventPhaseChanged && ev.Phase.Terminal() {
				return nil
			}
		}
	}
}

func (c RunCommand) printEvent(ev model.ProgressEvent) {
	out := c.rootCmd.Stdout

	switch ev.Kind {
	case model.EventPhaseChanged:
		if ev.Reason != model.FailureReasonNone {
			fmt.Fprintf(out, "==> %s (%s)\n", ev.Phase, ev.Reason)
			return
		}
		fmt.Fprintf(out, "==> %s\n", ev.Phase)
	case model.EventStepCaptured:
		status := "ok"
		if !ev.Step.Success {
			status = "failed"
		}
		fmt.Fprintf(out, "    step %d: %s [%s]\n", ev.Step.Number, ev.Step.Description, status)
	case model.EventAuthRequired:
		fmt.Fprintf(out, "    login required: %s\n", ev.Auth.Summary)
		fmt.Fprintf(out, "    press Enter once you have logged in (deadline %s)\n", ev.Auth.Deadline.Format(time.Kitchen))
	case model.EventAuthResolved:
		fmt.Fprintf(out, "    authenticated via %s\n", ev.Auth.Method)
	case model.EventError:
		fmt.Fprintf(out, "    warning: %s\n", ev.Message)
	case model.EventDropped:
		fmt.Fprintf(out, "    (%d events dropped)\n", ev.Dropped)
	}
}

// confirmer is the slice of the registry the event watcher needs.
type confirmer interface {
	Confirm(jobID string) error
}
