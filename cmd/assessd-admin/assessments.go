package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/adapters/reaper"
	"github.com/psyassess/assessd/internal/data"
	"github.com/psyassess/assessd/internal/domain/assessment"
	"github.com/psyassess/assessd/internal/domain/model"
	"github.com/psyassess/assessd/internal/service"
)

var errNotFinished = errors.New("assessment has not finished")

func runStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseIDFlags("status", args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, infra *adminInfra) error {
		rec, getErr := infra.repo().GetByID(ctx, opts.ID)
		if getErr != nil {
			return fmt.Errorf("get assessment %s: %w", opts.ID, getErr)
		}
		return printAssessment(cmdCtx.Out, rec)
	})
}

func printAssessment(out io.Writer, rec *model.Assessment) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	reportLen := 0
	if rec.ReportText != nil {
		reportLen = len([]rune(*rec.ReportText))
	}
	rows := [][2]string{
		{"ID", rec.ID},
		{"Status", string(rec.Status)},
		{"Subject", rec.SubjectName},
		{"Created", rec.CreatedAt.UTC().Format(time.RFC3339)},
		{"Updated", rec.UpdatedAt.UTC().Format(time.RFC3339)},
		{"Report", fmt.Sprintf("%d chars", reportLen)},
	}
	for _, row := range rows {
		if err := writef(w, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	if rec.Status == model.AssessmentStatusFailed && rec.ReportText != nil {
		if err := writef(w, "Failure:\t%s\n", assessment.Truncate(*rec.ReportText, 200)); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runEnqueue(cmdCtx *commandContext, args []string) error {
	opts, err := parseIDFlags("enqueue", args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, infra *adminInfra) error {
		rec, getErr := infra.repo().GetByID(ctx, opts.ID)
		if getErr != nil {
			return fmt.Errorf("get assessment %s: %w", opts.ID, getErr)
		}
		if assessment.IsTerminal(rec.Status) {
			return fmt.Errorf("assessment %s is %s: %w", rec.ID, rec.Status, model.ErrAssessmentTerminal)
		}
		if enqErr := infra.queue().Enqueue(ctx, rec.ID); enqErr != nil {
			return fmt.Errorf("enqueue %s: %w", rec.ID, enqErr)
		}
		return writef(cmdCtx.Out, "queued %s (status %s)\n", rec.ID, rec.Status)
	})
}

// runRepublish re-announces a finished assessment. The executor replays the stored
// outcome for terminal records without calling the analysis backend.
func runRepublish(cmdCtx *commandContext, args []string) error {
	opts, err := parseIDFlags("republish", args)
	if err != nil {
		return err
	}
	infraOpts := connectInfraOptions{WantDB: true, WantBroker: true}
	return withInfra(cmdCtx, opts.Timeout, infraOpts, func(ctx context.Context, infra *adminInfra) error {
		repo := infra.repo()
		rec, getErr := repo.GetByID(ctx, opts.ID)
		if getErr != nil {
			return fmt.Errorf("get assessment %s: %w", opts.ID, getErr)
		}
		if !assessment.IsTerminal(rec.Status) {
			return fmt.Errorf("assessment %s is %s: %w", rec.ID, rec.Status, errNotFinished)
		}

		executor, buildErr := newReplayExecutor(&cmdCtx.Config, repo, infra)
		if buildErr != nil {
			return buildErr
		}
		res := executor.Execute(ctx, rec.ID)
		if res.Err != nil {
			return res.Err
		}
		if res.PublishErr != nil {
			return fmt.Errorf("publish outcome: %w", res.PublishErr)
		}
		return writef(cmdCtx.Out, "republished %s outcome for %s\n", res.Outcome, rec.ID)
	})
}

func newReplayExecutor(cfg *config.AppConfig, repo *data.AssessmentRepo, infra *adminInfra) (*service.AnalysisExecutor, error) {
	publisher, err := service.NewOutcomePublisher(service.OutcomePublisherOptions{
		Broker:        infra.broker,
		ChannelPrefix: cfg.Broker.ChannelPrefix,
		Timeout:       cfg.Broker.PublishTimeout,
		Logger:        infra.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create outcome publisher: %w", err)
	}
	return service.NewAnalysisExecutor(service.AnalysisExecutorOptions{
		Repo:      repo,
		Publisher: publisher,
		Logger:    infra.logger,
	})
}

func runRequeueExpired(cmdCtx *commandContext, args []string) error {
	timeout, err := parseTimeoutFlags("requeue-expired", args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, timeout, func(ctx context.Context, infra *adminInfra) error {
		released, reqErr := infra.queue().RequeueExpired(ctx)
		if reqErr != nil {
			return fmt.Errorf("requeue expired: %w", reqErr)
		}
		return writef(cmdCtx.Out, "released %d expired leases\n", released)
	})
}

func runQueueStats(cmdCtx *commandContext, args []string) error {
	timeout, err := parseTimeoutFlags("queue-stats", args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, timeout, func(ctx context.Context, infra *adminInfra) error {
		stats, statsErr := infra.queue().Stats(ctx)
		if statsErr != nil {
			return statsErr
		}
		counts, countErr := infra.repo().CountByStatus(ctx)
		if countErr != nil {
			return fmt.Errorf("count assessments: %w", countErr)
		}
		return printQueueStats(cmdCtx.Out, stats, counts)
	})
}

func printQueueStats(out io.Writer, stats data.QueueStats, counts map[model.AssessmentStatus]int64) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writef(w, "QUEUE\tCOUNT\n"); err != nil {
		return err
	}
	for _, row := range []struct {
		name  string
		value int64
	}{
		{"queued", stats.Queued},
		{"leased", stats.Leased},
		{"expired", stats.Expired},
	} {
		if err := writef(w, "%s\t%d\n", row.name, row.value); err != nil {
			return err
		}
	}
	if err := writef(w, "\nSTATUS\tCOUNT\n"); err != nil {
		return err
	}
	for _, status := range []model.AssessmentStatus{
		model.AssessmentStatusPending,
		model.AssessmentStatusProcessing,
		model.AssessmentStatusComplete,
		model.AssessmentStatusFailed,
	} {
		if err := writef(w, "%s\t%d\n", status, counts[status]); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runReap(cmdCtx *commandContext, args []string) error {
	timeout, err := parseTimeoutFlags("reap", args)
	if err != nil {
		return err
	}
	infraOpts := connectInfraOptions{WantDB: true, WantBroker: true}
	return withInfra(cmdCtx, timeout, infraOpts, func(ctx context.Context, infra *adminInfra) error {
		publisher, pubErr := service.NewOutcomePublisher(service.OutcomePublisherOptions{
			Broker:        infra.broker,
			ChannelPrefix: cmdCtx.Config.Broker.ChannelPrefix,
			Timeout:       cmdCtx.Config.Broker.PublishTimeout,
			Logger:        infra.logger,
		})
		if pubErr != nil {
			return fmt.Errorf("create outcome publisher: %w", pubErr)
		}
		runner, runErr := reaper.NewRunner(reaper.RunnerOptions{
			DB:        infra.db,
			Config:    cmdCtx.Config.Reaper,
			Logger:    infra.logger,
			Publisher: publisher,
		})
		if runErr != nil {
			return fmt.Errorf("create reaper: %w", runErr)
		}
		if onceErr := runner.RunOnce(ctx); onceErr != nil {
			return fmt.Errorf("reaper pass: %w", onceErr)
		}
		return writef(cmdCtx.Out, "reaper pass complete\n")
	})
}

func runSubscriptions(cmdCtx *commandContext, args []string) error {
	opts, err := parseIDFlags("subscriptions", args)
	if err != nil {
		return err
	}
	if cmdCtx.Config.Broker.Driver != config.BrokerDriverRedis {
		return fmt.Errorf("subscriptions needs BROKER_DRIVER=redis, got %q", cmdCtx.Config.Broker.Driver)
	}
	infraOpts := connectInfraOptions{WantRedis: true}
	return withInfra(cmdCtx, opts.Timeout, infraOpts, func(ctx context.Context, infra *adminInfra) error {
		channel := assessment.ChannelName(cmdCtx.Config.Broker.ChannelPrefix, opts.ID)
		counts, numErr := infra.redisClient.PubSubNumSub(ctx, channel).Result()
		if numErr != nil {
			return fmt.Errorf("pubsub numsub %s: %w", channel, numErr)
		}
		return writef(cmdCtx.Out, "%s\t%d\n", channel, counts[channel])
	})
}
