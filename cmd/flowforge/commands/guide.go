package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/flowforge/flowforge/internal/storage/sqlite"
)

type GuideCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobID string
}

// NewGuideCommand returns the guide command.
func NewGuideCommand(rootCmd *RootCommand, app *kingpin.Application) *GuideCommand {
	c := &GuideCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("guide", "Print the markdown guide captured by a job.")
	c.Cmd.Arg("job-id", "Job ID.").Required().StringVar(&c.jobID)

	return c
}

func (c GuideCommand) Name() string { return c.Cmd.FullCommand() }

func (c GuideCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Initialize storage (SQLite).
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	artifact, err := repo.GetGuide(ctx, c.jobID)
	if err != nil {
		return fmt.Errorf("could not get guide: %w", err)
	}

	fmt.Fprintln(c.rootCmd.Stdout, artifact.Markdown)

	return nil
}
