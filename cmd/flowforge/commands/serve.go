package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"k8s.io/client-go/util/homedir"

	"github.com/flowforge/flowforge/internal/conventions"
	"github.com/flowforge/flowforge/internal/eventbus"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/server"
	storageio "github.com/flowforge/flowforge/internal/storage/io"
	"github.com/flowforge/flowforge/internal/storage/sqlite"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listen        string
	configPath    string
	browser       string
	screenshotDir string
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the workflow capture HTTP service.")
	c.Cmd.Flag("listen", "Address to listen on.").StringVar(&c.listen)
	c.Cmd.Flag("config", "Path to a YAML configuration file.").StringVar(&c.configPath)
	c.Cmd.Flag("browser", "Browser automation backend.").Default("scripted").EnumVar(&c.browser, "scripted")

	defaultScreenshotDir := conventions.ScreenshotsPath(filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir))
	c.Cmd.Flag("screenshot-dir", "Directory where step screenshots are stored.").Default(defaultScreenshotDir).StringVar(&c.screenshotDir)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Load optional configuration file.
	cfg := model.ServiceConfig{}
	if c.configPath != "" {
		repo := storageio.NewConfigYAMLRepository(os.DirFS(filepath.Dir(c.configPath)))
		loaded, err := repo.GetConfig(ctx, filepath.Base(c.configPath))
		if err != nil {
			return fmt.Errorf("could not load configuration: %w", err)
		}
		cfg = loaded
	}
	if c.listen != "" {
		cfg.ListenAddr = c.listen
	}

	if err := os.MkdirAll(c.screenshotDir, 0o755); err != nil {
		return fmt.Errorf("could not create screenshot dir: %w", err)
	}

	// Initialize storage (SQLite).
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	bus, err := eventbus.NewBus(eventbus.BusConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create event bus: %w", err)
	}

	reg, err := buildRegistry(ctx, stackConfig{
		Config:        cfg,
		Bus:           bus,
		Guides:        repo,
		Archive:       repo,
		ScreenshotDir: c.screenshotDir,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("could not build capture stack: %w", err)
	}

	srv, err := server.NewServer(server.ServerConfig{
		Addr:   cfg.ListenAddr,
		Jobs:   reg,
		Guides: repo,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}

	var g run.Group

	// Context watcher.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// HTTP server.
	{
		g.Add(
			func() error {
				logger.Infof("HTTP server listening")
				return srv.ListenAndServe()
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warningf("HTTP server shutdown: %s", err)
				}
			},
		)
	}

	err = g.Run()

	// Drain running jobs before exiting so terminal records reach the archive.
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if stopErr := reg.Stop(stopCtx); stopErr != nil {
		logger.Warningf("Registry stop: %s", stopErr)
	}

	return err
}
