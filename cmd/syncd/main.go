package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/courtflow/syncbridge/internal/adapters/calendar"
	"github.com/courtflow/syncbridge/internal/adapters/payment"
	"github.com/courtflow/syncbridge/internal/config"
	"github.com/courtflow/syncbridge/internal/engine"
	"github.com/courtflow/syncbridge/internal/events"
	"github.com/courtflow/syncbridge/internal/gateway"
	"github.com/courtflow/syncbridge/internal/models"
	"github.com/courtflow/syncbridge/internal/store"
	"github.com/courtflow/syncbridge/pkg/infra"
	"github.com/courtflow/syncbridge/pkg/metrics"
)

// cycles lists the (system, entity type) pairs the daemon pulls on schedule
var cycles = []struct {
	system     models.ExternalSystem
	entityType models.EntityType
}{
	{models.SystemCalendar, models.EntityBooking},
	{models.SystemCalendar, models.EntityClass},
	{models.SystemCalendar, models.EntityClassSchedule},
	{models.SystemPayment, models.EntityBooking},
}

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mappingStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("FATAL: failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer mappingStore.Close()

	if err := mappingStore.Migrate(ctx); err != nil {
		slog.Error("FATAL: mapping store migration failed", "error", err)
		os.Exit(1)
	}

	var engineOpts []engine.Option
	engineOpts = append(engineOpts, engine.WithAdapterCallTimeout(cfg.AdapterCallTimeout))

	publisher, err := events.NewPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		slog.Warn("Outcome publisher unavailable, running without lifecycle events", "error", err)
	} else {
		engineOpts = append(engineOpts, engine.WithPublisher(publisher))
	}

	eng := engine.New(mappingStore, logger, engineOpts...)

	eng.RegisterAdapter(calendar.New(cfg.CalendarBaseURL, cfg.CalendarToken, logger))

	if cfg.OmiseSecretKey != "" {
		paymentAdapter, err := payment.New(cfg.OmisePublicKey, cfg.OmiseSecretKey, logger)
		if err != nil {
			slog.Error("FATAL: failed to initialize payment adapter", "error", err)
			os.Exit(1)
		}
		eng.RegisterAdapter(paymentAdapter)
	}

	for entityType := range models.EntityRegistry {
		g, err := gateway.NewTable(mappingStore.Pool(), entityType)
		if err != nil {
			slog.Error("FATAL: failed to wire entity gateway", "entity_type", entityType, "error", err)
			os.Exit(1)
		}
		eng.RegisterGateway(entityType, g)
	}

	janitorDone := make(chan struct{})
	go runJanitor(ctx, eng, cfg, janitorDone)
	go startObservabilityServer(cfg.MetricsPort, logger)

	slog.Info("Sync daemon started", "pid", os.Getpid(), "interval", cfg.SyncInterval)

	runMainLoop(ctx, eng, cfg, publisher)
	<-janitorDone
	slog.Info("Shutdown complete")
}

func runMainLoop(ctx context.Context, eng *engine.Engine, cfg *config.Config, pub *events.Publisher) {
	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)
	defer func() {
		if pub != nil {
			pub.Close()
		}
	}()

	for {
		pub = ensurePublisher(eng, cfg, pub)
		failed := runCycles(ctx, eng)

		var wait time.Duration
		if failed {
			wait = backoff.Next()
			slog.Warn("Sync cycle had failures, backing off", "retry_in", wait)
		} else {
			backoff.Reset()
			wait = cfg.SyncInterval
		}

		select {
		case <-ctx.Done():
			slog.Info("Shutting down main loop")
			return
		case <-time.After(wait):
		}
	}
}

// ensurePublisher rebuilds the broker link once NotifyClose has marked it
// dead, swapping the fresh connection into the engine. A failed rebuild is
// retried on the next pass; outcome events stay disabled until it succeeds.
func ensurePublisher(eng *engine.Engine, cfg *config.Config, pub *events.Publisher) *events.Publisher {
	if pub == nil || pub.IsHealthy() {
		return pub
	}

	fresh, err := events.Reconnect(cfg.RabbitMQURL, slog.Default())
	if err != nil {
		slog.Warn("Broker reconnect failed, outcome events disabled for this cycle", "error", err)
		return pub
	}

	pub.Close()
	eng.SetPublisher(fresh)
	slog.Info("Outcome publisher reconnected")
	return fresh
}

// runCycles executes one scheduled pass: batch pull for every configured
// pair, then a push attempt for mappings still waiting on an external id.
// Returns true when any cycle reported failures.
func runCycles(ctx context.Context, eng *engine.Engine) bool {
	failed := false
	health := eng.HealthCheck(ctx)

	for _, c := range cycles {
		// An unhealthy adapter fails the pass so the loop backs off instead
		// of reading a dead system as a clean empty cycle. Systems with no
		// adapter registered at all are simply not part of this deployment.
		healthy, registered := health[c.system]
		if !registered {
			continue
		}
		if !healthy {
			slog.Warn("Skipping cycle, adapter unhealthy", "system", c.system, "entity_type", c.entityType)
			failed = true
			continue
		}

		stats := eng.SyncEntities(ctx, c.system, c.entityType, models.SyncOptions{})
		if stats.Failed > 0 {
			failed = true
		}
		if ctx.Err() != nil {
			return failed
		}
	}

	for system := range models.SystemRegistry {
		pending, err := eng.PendingPushMappings(ctx, system)
		if err != nil {
			slog.Error("Failed to list pending pushes", "system", system, "error", err)
			failed = true
			continue
		}
		for _, m := range pending {
			if res := eng.PushToExternal(ctx, m.ID, models.SyncOptions{}); !res.Success {
				failed = true
			}
			if ctx.Err() != nil {
				return failed
			}
		}
	}

	return failed
}

func runJanitor(ctx context.Context, eng *engine.Engine, cfg *config.Config, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("Janitor: starting maintenance pass")

			removed, err := eng.Cleanup(ctx, cfg.RetentionDays)
			if err != nil {
				slog.Error("Janitor: cleanup failed", "error", err)
			} else if removed > 0 {
				slog.Info("Janitor: purged inactive mappings", "count", removed)
			}

			stats, err := eng.GetSyncStats(ctx, nil, nil)
			if err != nil {
				slog.Error("Janitor: stats refresh failed", "error", err)
			} else {
				metrics.ConflictBacklog.Set(float64(stats.Conflicts))
				metrics.PendingPush.Set(float64(stats.PendingPush))
			}

			for system, healthy := range eng.HealthCheck(ctx) {
				if !healthy {
					slog.Warn("Janitor: adapter unhealthy", "system", system)
				}
			}

		case <-ctx.Done():
			slog.Info("Janitor: stopping maintenance goroutine")
			return
		}
	}
}

func startObservabilityServer(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("SYNCD ALIVE"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Observability server failed", "error", err)
	}
}
