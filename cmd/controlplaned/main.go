// Command controlplaned runs the autonomous operations control plane:
// invariant engine, incident manager, health scorer, self-healing
// primitives, security engine, performance engine, deployment gates, and
// the cron scheduler driving them, per spec section 6.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexus-retail/opsplane/bootstrap"
	"github.com/nexus-retail/opsplane/infrastructure/alert"
	"github.com/nexus-retail/opsplane/infrastructure/config"
	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/storage"
)

// shutdownGrace bounds how long the process waits for in-flight requests
// and scheduled jobs to drain before forcing an exit.
const shutdownGrace = 15 * time.Second

func main() {
	config.LoadDotEnv()

	logger := logging.NewFromEnv("controlplaned")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			reportFatal(ctx, logger, r)
			os.Exit(1)
		}
	}()

	dsn, err := config.RequireEnv("DATABASE_URL")
	if err != nil {
		logger.Error(ctx, "missing required configuration", err, nil)
		os.Exit(1)
	}

	store, err := storage.Open(ctx, dsn)
	if err != nil {
		logger.Error(ctx, "failed to open storage", err, nil)
		os.Exit(1)
	}
	defer store.Close()

	app := bootstrap.New(ctx, store, logger)

	runtimeStage := config.GetEnv("RUNTIME_STAGE", "development")
	if runtimeStage == "production" {
		if _, err := app.Gates.Run(ctx, "boot"); err != nil {
			logger.Error(ctx, "deployment gates blocked startup", err, nil)
			os.Exit(1)
		}
	}

	if err := app.Start(ctx, nil); err != nil {
		logger.Error(ctx, "failed to start scheduler", err, nil)
		os.Exit(1)
	}

	addr := ":" + config.GetEnv("PORT", "8080")
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info(ctx, "control plane listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http server error", err, nil)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "graceful http shutdown failed", err, nil)
	}
	app.Stop()
	cancel()
}

// reportFatal emits one CRITICAL alert on an uncaught panic, per the
// process-level error-handling design, using a best-effort transport
// built directly from env since the wired dispatcher may not have
// survived whatever panicked.
func reportFatal(ctx context.Context, logger *logging.Logger, recovered interface{}) {
	logger.Error(ctx, "uncaught panic", nil, map[string]interface{}{"panic": recovered})

	if url := config.GetEnv("ALERT_WEBHOOK_URL", ""); url != "" {
		alert.NewDispatcher(logger, alert.NewGenericWebhook(url)).
			Alert(ctx, "CRITICAL", "control plane process crashed", "uncaught panic, process exiting",
				map[string]interface{}{"panic": recovered})
	}
}
