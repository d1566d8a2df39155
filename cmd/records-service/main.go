package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"civicq/records-service/internal/config"
	"civicq/records-service/internal/duplicates"
	"civicq/records-service/internal/httpapi"
	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/notify"
	"civicq/records-service/internal/requests"
	"civicq/records-service/internal/residents"
	"civicq/records-service/internal/stats"
	"civicq/records-service/internal/stats/rediscache"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/store/memory"
	"civicq/records-service/internal/store/postgres"
	"civicq/records-service/internal/store/sqlite"
	"civicq/records-service/internal/supervisor"
	"civicq/records-service/internal/telemetry"
	"civicq/records-service/internal/tickets"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "records-service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Setup(ctx, cfg.Telemetry)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ledger, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var cache stats.Cache
	if cfg.Redis.URL != "" {
		redisCache, err := rediscache.Dial(ctx, cfg.Redis.URL, cfg.Stats.CacheTTL)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		cache = redisCache
	}

	aggregator := stats.New(ledger, stats.Options{
		Strategy: stats.Strategy(cfg.Stats.Strategy),
		Location: loc,
		Cache:    cache,
		Retries:  cfg.Tickets.AllocationRetries,
	})
	issuer := tickets.NewIssuer(ledger, tickets.Options{
		Location:          loc,
		AllocationRetries: cfg.Tickets.AllocationRetries,
		DisplayDoneLimit:  cfg.Tickets.DisplayDoneLimit,
		Observer:          aggregator,
	})
	coordinator := requests.New(ledger, issuer, requests.Options{
		ExternalIDPrefix: cfg.Service.ExternalIDPrefix,
		Observer:         aggregator,
	})
	registry := residents.New(ledger, residents.Options{
		ExternalIDPrefix: cfg.Service.ExternalIDPrefix,
		Retries:          cfg.Tickets.AllocationRetries,
		Observer:         aggregator,
	})

	hub := notify.NewHub()
	sinks := []notify.Sink{hub}
	if cfg.NATS.URL != "" {
		conn, err := notify.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer conn.Drain()
		sinks = append(sinks, notify.NewNATSSink(conn, cfg.NATS.SubjectPrefix))
	}

	handler := httpapi.NewHandler(httpapi.Dependencies{
		Requests:   coordinator,
		Tickets:    issuer,
		Residents:  registry,
		Duplicates: duplicates.New(ledger),
		Stats:      aggregator,
		Feed:       httpapi.LedgerFeed{Ledger: ledger},
		Realtime:   hub.Handler("/realtime"),
	}, httpapi.Options{RateLimitPerMinute: cfg.RateLimit.PerMinute})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(handler.Routes(), cfg.Telemetry.ServiceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree("records-service", supervisor.DefaultTreeConfig())
	tree.AddBackgroundService(notify.NewRelay(ledger, cfg.Notify.PollInterval, cfg.Notify.BatchSize, sinks...))
	if stats.Strategy(cfg.Stats.Strategy) == stats.Incremental {
		tree.AddBackgroundService(stats.NewReconciler(aggregator, cfg.Stats.ReconcileInterval))
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))

	log.Info().
		Str("addr", server.Addr).
		Str("ledger", cfg.Ledger.Driver).
		Str("stats_strategy", cfg.Stats.Strategy).
		Str("timezone", loc.String()).
		Msg("records-service starting")

	if err := tree.Serve(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info().Msg("records-service stopped")
	return nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (store.Ledger, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath)
	default:
		return memory.New(), nil
	}
}
