package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/riskibarqy/teamsync/internal/config"
	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/infrastructure/gateway/postgres"
	"github.com/riskibarqy/teamsync/internal/infrastructure/gateway/rest"
	"github.com/riskibarqy/teamsync/internal/infrastructure/network"
	"github.com/riskibarqy/teamsync/internal/infrastructure/sqlite"
	"github.com/riskibarqy/teamsync/internal/interfaces/httpapi"
	idgen "github.com/riskibarqy/teamsync/internal/platform/id"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
	"github.com/riskibarqy/teamsync/internal/platform/resilience"
	"github.com/riskibarqy/teamsync/internal/usecase"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
)

const shutdownTimeout = 10 * time.Second

// App is the composed sync daemon.
type App struct {
	cfg    config.Config
	logger *logging.Logger

	localDB   *sqlite.DB
	backendDB *sqlx.DB
	server    *http.Server

	Queue       *usecase.SyncQueue
	Scheduler   *usecase.SyncScheduler
	Teams       *usecase.TeamService
	Matches     *usecase.MatchService
	Tournaments *usecase.TournamentService
	// Manual is set when no PROBE_URL is configured and the host reports connectivity.
	Manual *network.ManualProbe
}

func New(ctx context.Context, cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	clock := clockwork.NewRealClock()

	localDB, err := sqlite.Open(ctx, cfg.LocalDBPath,
		sqlite.WithClock(clock),
		sqlite.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, localDB: localDB}

	gateway, err := a.newGateway(ctx)
	if err != nil {
		_ = localDB.Close()
		return nil, err
	}

	var connectivity usecase.ConnectivityChecker
	if strings.TrimSpace(cfg.ProbeURL) != "" {
		connectivity = network.NewHTTPProbe(network.HTTPProbeConfig{
			URL:      cfg.ProbeURL,
			Timeout:  cfg.ProbeTimeout,
			CacheTTL: cfg.ProbeCacheTTL,
		}, clock, logger)
	} else {
		a.Manual = network.NewManualProbe(true)
		connectivity = a.Manual
	}

	a.Queue = usecase.NewSyncQueue(localDB, usecase.SyncQueueConfig{MaxAttempts: cfg.SyncMaxAttempts}, clock, logger)

	ids := idgen.NewUUIDGenerator()
	a.Teams = usecase.NewTeamService(a.Queue, localDB.Records(), gateway, ids, idgen.NewRandomCodeGenerator(idgen.DefaultCodeLength), clock, logger)
	a.Matches = usecase.NewMatchService(a.Queue, localDB.Records(), ids, clock)
	a.Tournaments = usecase.NewTournamentService(a.Queue, localDB.Records(), ids, clock)

	a.Scheduler = usecase.NewSyncScheduler(a.Queue, gateway, connectivity, usecase.SchedulerConfig{
		Interval:       cfg.SyncInterval,
		BatchSize:      cfg.SyncBatchSize,
		CallTimeout:    cfg.SyncCallTimeout,
		Cooldown:       cfg.SyncCooldown,
		Workers:        cfg.SyncWorkers,
		RecentCapacity: cfg.SyncRecentCapacity,
	},
		usecase.WithConflictResolver(a.Teams),
		usecase.WithSchedulerClock(clock),
		usecase.WithSchedulerLogger(logger),
	)

	if a.Manual != nil {
		a.Manual.OnReconnect(func() { a.Scheduler.Trigger(usecase.ReasonReconnect) })
	}

	if cfg.StatusHTTPAddr != "" {
		var manual httpapi.ConnectivitySwitch
		if a.Manual != nil {
			manual = a.Manual
		}
		handler := httpapi.NewHandler(a.Teams, a.Matches, a.Tournaments, a.Queue, a.Scheduler, manual, logger)
		a.server = &http.Server{
			Addr:         cfg.StatusHTTPAddr,
			Handler:      httpapi.NewRouter(handler, logger, cfg.CORSAllowedOrigins, cfg.StatusToken),
			ReadTimeout:  cfg.StatusReadTimeout,
			WriteTimeout: cfg.StatusWriteTimeout,
		}
	}

	return a, nil
}

func (a *App) newGateway(ctx context.Context) (remote.Gateway, error) {
	switch a.cfg.GatewayKind {
	case config.GatewayPostgres:
		dsn := normalizeDBURL(a.cfg.BackendDBURL, a.cfg.ServiceName)
		db, err := otelsqlx.Open("postgres", dsn,
			otelsql.WithDBSystem("postgresql"),
			otelsql.WithDBName(dbNameFromURL(dsn)),
			otelsql.WithQueryFormatter(formatDBQueryForTrace),
		)
		if err != nil {
			return nil, fmt.Errorf("open backend database: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, a.cfg.BackendTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			// Offline at boot is normal; the queue holds writes until the backend answers.
			a.logger.Warn("backend database unreachable at startup", "error", err)
		}
		a.backendDB = db
		return postgres.NewGateway(db, a.logger), nil
	default:
		client, err := rest.NewClient(rest.Config{
			BaseURL:     a.cfg.BackendRESTURL,
			APIKey:      a.cfg.BackendAPIKey,
			AccessToken: a.cfg.BackendAccessToken,
			Timeout:     a.cfg.BackendTimeout,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				Enabled:          a.cfg.BackendCircuitEnabled,
				FailureThreshold: a.cfg.BackendCircuitFailureCount,
				OpenTimeout:      a.cfg.BackendCircuitOpenTimeout,
				HalfOpenMaxReq:   a.cfg.BackendCircuitHalfOpenMaxReq,
			},
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("build rest gateway: %w", err)
		}
		return client, nil
	}
}

// Run starts the scheduler and the optional status server, then blocks until
// ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			a.logger.Info("status server starting", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("status server failed: %w", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(stopCtx))
}

// Shutdown stops intake first, then the scheduler, then closes the databases.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown status server: %w", err))
		}
	}
	if err := a.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.backendDB != nil {
		if err := a.backendDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend database: %w", err))
		}
	}
	if err := a.localDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local database: %w", err))
	}

	a.logger.Info("sync daemon stopped")
	return errors.Join(errs...)
}
