// Package reaper provides the adapter that runs the assessment reaper loop.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/data"
	"github.com/psyassess/assessd/internal/observability/statsd"
	"github.com/psyassess/assessd/internal/service"
)

// Runner constructs the reaper service and runs its cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB        *sql.DB
	Config    config.ReaperConfig
	Logger    *slog.Logger
	Publisher *service.OutcomePublisher

	// Optional dependency injection for testing/decoupling
	Repo    core.ReaperRepository
	Queue   core.QueueMaintainer
	Metrics statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	reaper, err := wireReaperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{
		reaper: reaper,
		logger: opts.Logger,
	}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.Repo == nil || opts.Queue == nil) {
		return errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

func wireReaperService(opts RunnerOptions) (*service.ReaperService, error) {
	repoCfg := data.RepoConfig{Logger: opts.Logger}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewAssessmentRepo(opts.DB, repoCfg)
	}
	queue := opts.Queue
	if queue == nil {
		queue = data.NewQueueRepo(opts.DB, repoCfg)
	}

	return service.NewReaperService(service.ReaperServiceOptions{
		Repo:      repo,
		Config:    opts.Config,
		Queue:     queue,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}

// RunOnce performs a single cleanup pass, used by the admin CLI.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.reaper.RunOnce(ctx)
}
