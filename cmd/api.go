// -- cmd/api.go --
package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/intake"
	"github.com/ShapezModder/enterprise-security-saas/internal/lifecycle"
	"github.com/ShapezModder/enterprise-security-saas/internal/logstream"
	"github.com/ShapezModder/enterprise-security-saas/internal/mailer"
	"github.com/ShapezModder/enterprise-security-saas/internal/observability"
	"github.com/ShapezModder/enterprise-security-saas/internal/queue"
	"github.com/ShapezModder/enterprise-security-saas/internal/store"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the intake HTTP API",
	Long: `Starts the intake API: accepts assessment requests, exposes the admin
actions (start, decline, terminate, list) and streams per-job progress logs.
Scanning itself happens in the worker process.`,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	// A nil *Mailer must stay a nil interface, or the nil checks downstream
	// pass and dispatch panics.
	var notifier schemas.Notifier
	if m := mailer.New(cfg.Mailer, log); m != nil {
		notifier = m
	}

	life := lifecycle.NewManager(st, q, notifier, log)
	broker := logstream.NewBroker(log)
	svc := intake.NewService(st, life, log)
	server := intake.NewServer(svc, broker, cfg.Server, log)

	log.Info("Intake API starting", zap.String("addr", cfg.Server.Addr))
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("api server failed: %w", err)
	}
	log.Info("Intake API stopped")
	return nil
}
