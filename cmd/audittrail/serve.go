package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/anchor"
	"github.com/sentinelx-labs/audittrail/pkg/api"
	"github.com/sentinelx-labs/audittrail/pkg/auth"
	"github.com/sentinelx-labs/audittrail/pkg/batch"
	"github.com/sentinelx-labs/audittrail/pkg/config"
	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/ledger"
	"github.com/sentinelx-labs/audittrail/pkg/limiter"
	"github.com/sentinelx-labs/audittrail/pkg/observability"
	"github.com/sentinelx-labs/audittrail/pkg/scheduler"

	_ "github.com/lib/pq" // Postgres driver
)

// idempotencyTTL is the replay window for Idempotency-Key retries.
const idempotencyTTL = 24 * time.Hour

// runServe loads configuration, assembles the pipeline, and blocks until
// SIGINT or SIGTERM. Exit codes: 0 clean shutdown, 1 runtime failure,
// 2 bad usage or bad config.
func runServe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var configPath string
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file (defaults to $AUDITTRAIL_CONFIG)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	slog.SetDefault(observability.Logger(observability.ParseLevel(cfg.LogLevel)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stdout, "%saudittrail %s starting%s\n", ColorBold+ColorBlue, version, ColorReset)
	if err := serve(ctx, cfg); err != nil {
		slog.Error("server exited", "error", err)
		return 1
	}
	return 0
}

// serve wires store, ledger, scheduler, and HTTP surface together and runs
// until ctx is cancelled. Interrupted anchor attempts leave their batches
// submitting; the scheduler resumes them on the next start.
func serve(ctx context.Context, cfg *config.Config) error {
	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("store close failed", "error", err)
		}
	}()

	led, err := openLedger(cfg)
	if err != nil {
		return err
	}

	provider, err := observability.New(ctx, &observability.Config{
		ServiceName:    "audittrail",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	queue := ingest.NewQueue()

	anchorer := anchor.New(led, store, anchor.RetryPolicy{
		MaxAttempts: cfg.Anchor.MaxAttempts,
		BaseDelay:   cfg.Anchor.BaseDelay.Std(),
		MaxDelay:    cfg.Anchor.MaxDelay.Std(),
		MaxJitter:   cfg.Anchor.MaxJitter.Std(),
	}).WithObserver(provider)

	sched := scheduler.New(queue, store, anchorer, &scheduler.Config{
		MaxBatchSize:  cfg.Batch.MaxSize,
		MaxBatchDwell: cfg.Batch.MaxDwell.Std(),
		PollInterval:  cfg.Batch.PollInterval.Std(),
	}).WithObserver(provider)

	if err := provider.ObservePendingEvents(func(context.Context) (int64, error) {
		return int64(queue.Len()), nil
	}); err != nil {
		return fmt.Errorf("register pending gauge: %w", err)
	}
	if err := provider.ObserveUnanchoredBatches(func(gctx context.Context) (int64, error) {
		unanchored, err := store.ListUnanchored(gctx)
		if err != nil {
			return 0, err
		}
		return int64(len(unanchored)), nil
	}); err != nil {
		return fmt.Errorf("register unanchored gauge: %w", err)
	}

	idem, err := openIdempotencyStore(db)
	if err != nil {
		return fmt.Errorf("init idempotency store: %w", err)
	}

	server := api.NewServer(queue, store, sched).WithVersion(version).WithObserver(provider)
	handler := buildHandler(cfg, server, idem)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening",
			"addr", cfg.ListenAddr,
			"db", cfg.Database.Driver,
			"ledger", cfg.Ledger.Mode,
			"batch_max_size", cfg.Batch.MaxSize,
			"batch_max_dwell", cfg.Batch.MaxDwell.Std().String(),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// buildHandler wraps the API routes in the middleware chain, outermost
// first: request ID, CORS, auth, rate limit, idempotency. The limiter keys
// on the authenticated subject, so auth must run before it.
func buildHandler(cfg *config.Config, server *api.Server, idem api.IdempotencyStorer) http.Handler {
	var handler http.Handler = server.Routes()
	handler = api.IdempotencyMiddleware(idem)(handler)
	handler = auth.RateLimitMiddleware(openLimiterStore(cfg), limiter.Policy{
		RPM:   cfg.RateLimit.RPM,
		Burst: cfg.RateLimit.Burst,
	})(handler)
	handler = auth.NewMiddleware(tokenVerifier(cfg))(handler)
	handler = auth.CORSMiddleware(cfg.CORS.AllowedOrigins)(handler)
	return auth.RequestIDMiddleware(handler)
}

// openStore builds the configured batch store. The *sql.DB is non-nil only
// for postgres, where the idempotency cache shares the connection pool.
func openStore(ctx context.Context, cfg *config.Config) (batch.Store, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		s, err := batch.OpenSQLiteStore(cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		s, err := batch.NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db, nil
	default:
		return batch.NewMemoryStore(), nil, nil
	}
}

func openLedger(cfg *config.Config) (ledger.Ledger, error) {
	if cfg.Ledger.Mode == "http" {
		return ledger.NewHTTPLedger(ledger.HTTPLedgerConfig{
			BaseURL: cfg.Ledger.URL,
			Token:   cfg.Ledger.Token,
			Timeout: cfg.Ledger.Timeout.Std(),
		})
	}
	return ledger.NewRegistry("audittrail"), nil
}

func openLimiterStore(cfg *config.Config) limiter.Store {
	if cfg.RateLimit.RedisAddr != "" {
		return limiter.NewRedisStore(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, cfg.RateLimit.RedisDB)
	}
	return limiter.NewLocalStore()
}

// openIdempotencyStore picks the durable replay cache when postgres is the
// backing store, the in-process one otherwise.
func openIdempotencyStore(db *sql.DB) (api.IdempotencyStorer, error) {
	if db != nil {
		return api.NewPostgresIdempotencyStore(db, idempotencyTTL)
	}
	return api.NewIdempotencyStore(idempotencyTTL), nil
}

// tokenVerifier returns nil when no signing secret is configured; the auth
// middleware treats a nil verifier as open access for dev setups.
func tokenVerifier(cfg *config.Config) *auth.TokenVerifier {
	if cfg.Auth.Secret == "" {
		return nil
	}
	return auth.NewTokenVerifier(cfg.Auth.Secret)
}
