package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riskibarqy/teamsync/internal/app"
	"github.com/riskibarqy/teamsync/internal/config"
	"github.com/riskibarqy/teamsync/internal/observability"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.NewJSON(cfg.LogLevel)
	logging.SetDefault(logger)

	os.Exit(run(cfg, logger))
}

// run returns the process exit code. Deferred cleanup, including the logger
// flush, happens before main calls os.Exit.
func run(cfg config.Config, logger *logging.Logger) int {
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := observability.InitUptrace(cfg, logger)
	if err != nil {
		logger.Error("init uptrace", "error", err)
		return 1
	}
	stopProfiling, err := observability.InitPyroscope(cfg, logger)
	if err != nil {
		logger.Error("init pyroscope", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("build app", "error", err)
		return 1
	}

	logger.Info("sync daemon starting",
		"gateway", cfg.GatewayKind,
		"local_db", cfg.LocalDBPath,
		"interval", cfg.SyncInterval.String(),
	)
	runErr := daemon.Run(ctx)

	if err := stopProfiling(); err != nil {
		logger.Warn("stop pyroscope", "error", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn("shutdown uptrace", "error", err)
	}

	if runErr != nil {
		logger.Error("sync daemon failed", "error", runErr)
		return 1
	}
	return 0
}
