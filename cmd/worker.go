// -- cmd/worker.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/crawler"
	"github.com/ShapezModder/enterprise-security-saas/internal/lifecycle"
	"github.com/ShapezModder/enterprise-security-saas/internal/logstream"
	"github.com/ShapezModder/enterprise-security-saas/internal/mailer"
	"github.com/ShapezModder/enterprise-security-saas/internal/observability"
	"github.com/ShapezModder/enterprise-security-saas/internal/pipeline"
	"github.com/ShapezModder/enterprise-security-saas/internal/probes"
	"github.com/ShapezModder/enterprise-security-saas/internal/queue"
	"github.com/ShapezModder/enterprise-security-saas/internal/report"
	"github.com/ShapezModder/enterprise-security-saas/internal/store"
	"github.com/ShapezModder/enterprise-security-saas/internal/toolexec"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the scan worker",
	Long: `Starts the scan worker: consumes dispatched jobs from the work queue and
drives each one through the stage pipeline, the report generator and the
final status transition. Concurrency is configurable; stages within one job
always run sequentially.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := observability.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, log)
	if err != nil {
		return err
	}
	q := queue.New(pool, log, cfg.Worker.PollInterval)

	executor, err := toolexec.New(cfg.Scanner, log)
	if err != nil {
		return err
	}
	reporter, err := report.New(cfg.Report, log)
	if err != nil {
		return err
	}

	var notifier schemas.Notifier
	if m := mailer.New(cfg.Mailer, log); m != nil {
		notifier = m
	}

	life := lifecycle.NewManager(st, q, notifier, log)
	broker := logstream.NewBroker(log)
	ctrl := pipeline.NewController(
		st, st, life, executor,
		crawler.New(cfg.Crawler, log),
		probes.All(cfg.Probes, log),
		reporter, notifier, broker,
		cfg.Scanner, log,
	)

	log.Info("Scan worker starting", zap.Int("concurrency", cfg.Worker.Concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		consumer := i
		g.Go(func() error {
			return consume(gctx, q, ctrl, log.With(zap.Int("consumer", consumer)))
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	log.Info("Scan worker stopped")
	return nil
}

// consume claims and executes work items until ctx ends. Acknowledgment and
// requeueing use a fresh context so a shutdown mid-job still records the
// outcome.
func consume(ctx context.Context, q *queue.Queue, ctrl *pipeline.Controller, log *zap.Logger) error {
	for {
		claimed, err := q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = ctrl.Execute(ctx, claimed.Item)
		switch {
		case err == nil || errors.Is(err, schemas.ErrCancelled):
			// Operator cancellation is a normal outcome, not a failure.
			if ackErr := claimed.Ack(context.WithoutCancel(ctx), ""); ackErr != nil {
				log.Error("Failed to acknowledge work item",
					zap.Int64("item_id", claimed.ID), zap.Error(ackErr))
			}
		case ctx.Err() != nil:
			// Shutdown mid-job: the job is still RUNNING, so hand the item
			// back for a restarted worker to pick up.
			if rqErr := claimed.Requeue(context.WithoutCancel(ctx)); rqErr != nil {
				log.Error("Failed to requeue work item on shutdown",
					zap.Int64("item_id", claimed.ID), zap.Error(rqErr))
			}
			return nil
		default:
			if ackErr := claimed.Ack(context.WithoutCancel(ctx), err.Error()); ackErr != nil {
				log.Error("Failed to acknowledge work item",
					zap.Int64("item_id", claimed.ID), zap.Error(ackErr))
			}
		}
	}
}
