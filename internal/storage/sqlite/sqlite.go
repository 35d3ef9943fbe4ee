package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// SaveGuide stores a guide artifact, replacing any previous one for the job.
func (r *Repository) SaveGuide(ctx context.Context, g model.GuideArtifact) error {
	if err := g.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO guides (
			job_id, title, task,
			target_name, target_url,
			markdown,
			total_steps, failed_steps, degraded,
			created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			title = excluded.title,
			task = excluded.task,
			target_name = excluded.target_name,
			target_url = excluded.target_url,
			markdown = excluded.markdown,
			total_steps = excluded.total_steps,
			failed_steps = excluded.failed_steps,
			degraded = excluded.degraded,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		g.JobID,
		g.Title,
		g.Task,
		g.Target.Name,
		g.Target.URL,
		g.Markdown,
		g.TotalSteps,
		g.FailedSteps,
		g.Degraded,
		g.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("could not insert guide: %w", err)
	}

	r.logger.Debugf("Saved guide for job %s", g.JobID)
	return nil
}

// GetGuide retrieves a guide by job ID.
func (r *Repository) GetGuide(ctx context.Context, jobID string) (*model.GuideArtifact, error) {
	row := r.db.QueryRowContext(ctx, guideSelect+` WHERE job_id = ?`, jobID)

	g, err := scanGuide(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("guide for job %s: %w", jobID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query guide: %w", err)
	}

	return &g, nil
}

// ListGuides returns all guides, newest first.
func (r *Repository) ListGuides(ctx context.Context) ([]model.GuideArtifact, error) {
	rows, err := r.db.QueryContext(ctx, guideSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("could not query guides: %w", err)
	}
	defer rows.Close()

	var guides []model.GuideArtifact
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		guides = append(guides, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return guides, nil
}

// DeleteGuide deletes a guide.
func (r *Repository) DeleteGuide(ctx context.Context, jobID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM guides WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("could not delete guide: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("guide for job %s: %w", jobID, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted guide for job %s", jobID)
	return nil
}

// ArchiveJob stores a finished job. The plan, step history and authentication
// outcome are stored as JSON documents, they are read back whole, never
// queried by field.
func (r *Repository) ArchiveJob(ctx context.Context, j model.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if !j.Phase.Terminal() {
		return fmt.Errorf("only terminal jobs can be archived: %w", model.ErrNotValid)
	}

	plan, err := marshalNullable(j.Plan)
	if err != nil {
		return fmt.Errorf("could not marshal plan: %w", err)
	}
	steps, err := marshalNullable(j.Steps)
	if err != nil {
		return fmt.Errorf("could not marshal steps: %w", err)
	}
	auth, err := marshalNullable(j.Auth)
	if err != nil {
		return fmt.Errorf("could not marshal auth outcome: %w", err)
	}

	var completedAt *int64
	if j.CompletedAt != nil {
		u := j.CompletedAt.Unix()
		completedAt = &u
	}

	query := `
		INSERT INTO jobs (
			id, task,
			target_name, target_url,
			phase, reason, degraded,
			plan, steps, auth,
			guide_ref, error,
			created_at, completed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		j.ID,
		j.Task,
		j.Target.Name,
		j.Target.URL,
		j.Phase,
		j.Reason,
		j.Degraded,
		plan,
		steps,
		auth,
		j.GuideRef,
		j.Error,
		j.CreatedAt.Unix(),
		completedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: jobs.") {
			return fmt.Errorf("job already archived: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert job: %w", err)
	}

	r.logger.Debugf("Archived job %s", j.ID)
	return nil
}

// GetArchivedJob retrieves an archived job by ID.
func (r *Repository) GetArchivedJob(ctx context.Context, id string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query job: %w", err)
	}

	return &j, nil
}

// ListArchivedJobs returns all archived jobs, newest first.
func (r *Repository) ListArchivedJobs(ctx context.Context) ([]model.Job, error) {
	rows, err := r.db.QueryContext(ctx, jobSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("could not query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return jobs, nil
}

const guideSelect = `
	SELECT
		job_id, title, task,
		target_name, target_url,
		markdown,
		total_steps, failed_steps, degraded,
		created_at
	FROM guides`

const jobSelect = `
	SELECT
		id, task,
		target_name, target_url,
		phase, reason, degraded,
		plan, steps, auth,
		guide_ref, error,
		created_at, completed_at
	FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanGuide(s scanner) (model.GuideArtifact, error) {
	var g model.GuideArtifact
	var createdAt int64

	err := s.Scan(
		&g.JobID,
		&g.Title,
		&g.Task,
		&g.Target.Name,
		&g.Target.URL,
		&g.Markdown,
		&g.TotalSteps,
		&g.FailedSteps,
		&g.Degraded,
		&createdAt,
	)
	if err != nil {
		return model.GuideArtifact{}, err
	}

	g.CreatedAt = timeFromUnix(createdAt)
	return g, nil
}

func scanJob(s scanner) (model.Job, error) {
	var j model.Job
	var plan, steps, auth sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64

	err := s.Scan(
		&j.ID,
		&j.Task,
		&j.Target.Name,
		&j.Target.URL,
		&j.Phase,
		&j.Reason,
		&j.Degraded,
		&plan,
		&steps,
		&auth,
		&j.GuideRef,
		&j.Error,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return model.Job{}, err
	}

	j.CreatedAt = timeFromUnix(createdAt)
	if completedAt.Valid {
		t := timeFromUnix(completedAt.Int64)
		j.CompletedAt = &t
	}

	if err := unmarshalNullable(plan, &j.Plan); err != nil {
		return model.Job{}, fmt.Errorf("could not unmarshal plan: %w", err)
	}
	if err := unmarshalNullable(steps, &j.Steps); err != nil {
		return model.Job{}, fmt.Errorf("could not unmarshal steps: %w", err)
	}
	if err := unmarshalNullable(auth, &j.Auth); err != nil {
		return model.Job{}, fmt.Errorf("could not unmarshal auth outcome: %w", err)
	}

	return j, nil
}

func marshalNullable(v any) (*string, error) {
	switch t := v.(type) {
	case *model.Plan:
		if t == nil {
			return nil, nil
		}
	case *model.AuthOutcome:
		if t == nil {
			return nil, nil
		}
	case []model.ExecutionAttempt:
		if t == nil {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func unmarshalNullable(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}

func timeFromUnix(unix int64) time.Time { return time.Unix(unix, 0).UTC() }
