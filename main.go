package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/virtualize/budget"
	"github.com/AlfredDev/virtualize/config"
	"github.com/AlfredDev/virtualize/content"
	"github.com/AlfredDev/virtualize/handler"
	"github.com/AlfredDev/virtualize/llm"
	"github.com/AlfredDev/virtualize/logger"
	"github.com/AlfredDev/virtualize/observability"
	"github.com/AlfredDev/virtualize/queue"
	"github.com/AlfredDev/virtualize/redisclient"
	"github.com/AlfredDev/virtualize/router"
	"github.com/AlfredDev/virtualize/scheduler"
	"github.com/AlfredDev/virtualize/secrets"
	"github.com/AlfredDev/virtualize/store"
	"github.com/AlfredDev/virtualize/sync"
	"github.com/AlfredDev/virtualize/virtual"
	"github.com/AlfredDev/virtualize/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg)

	ctx := context.Background()
	mongoStore, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mongodb")
	}
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("index bootstrap reported errors")
	}

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis client unavailable, continuing without it")
	} else if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed, continuing without it")
	}

	metrics := observability.NewMetrics(log)
	tracerProvider := observability.NewTracerProvider(observability.NewLogExporter(log))

	contentStore := content.New(mongoStore, log)
	virtualStore := virtual.New(mongoStore, log)
	ledger := budget.NewLedger(mongoStore, log)
	gate := budget.NewGate(ledger, log, metrics)
	queueStore := queue.New(mongoStore, log, queue.Options{
		LeaseDuration: cfg.LeaseDuration,
		BackoffBase:   cfg.RetryBackoffBase,
		BackoffCap:    cfg.RetryBackoffCap,
		MaxAttempts:   cfg.MaxAttempts,
	}, metrics)

	registry := llm.NewRegistry()
	registerLLMConnectors(cfg, registry, log)

	schedulerSvc := scheduler.New(contentStore, virtualStore, queueStore, log, metrics)
	reconciler := sync.New(contentStore, virtualStore, queueStore, log)
	contentStore.SetReconciler(reconciler)

	workerPool := worker.New(queueStore, contentStore, virtualStore, gate, registry, log, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
	}, metrics)
	workerPool.Start()

	sweeper := scheduler.NewSweeper(schedulerSvc, mongoStore)
	sweepSpec := cronSpecForInterval(cfg.SchedulerSweepInterval)
	if err := sweeper.Start(sweepSpec); err != nil {
		log.Warn().Err(err).Msg("scheduler sweeper failed to start")
	}

	heartbeatStop := startHeartbeatSweeper(queueStore, log, cfg.HeartbeatSweepInterval)

	handlers := router.Handlers{
		Virtual:    handler.NewVirtualHandler(contentStore, virtualStore, schedulerSvc, log),
		Content:    handler.NewContentHandler(contentStore, virtualStore, reconciler, log),
		Monitoring: handler.NewMonitoringHandler(gate, ledger, log),
	}
	r := router.New(cfg, log, handlers, metrics)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	log.Info().Msg("shutting down")
	heartbeatStop()
	sweeper.Stop()
	workerPool.Stop()
	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("tracer provider shutdown reported an error")
	}
	if rc != nil {
		_ = rc.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := mongoStore.Close(ctx); err != nil {
		log.Error().Err(err).Msg("mongo disconnect failed")
	}
}

// registerLLMConnectors wires one llm.Client per provider whose API key is
// present in the environment, either in plaintext or as an
// ENCRYPTION_KEY-sealed blob (so operators can keep provider keys out of
// plaintext env vars at rest).
func registerLLMConnectors(cfg *config.Config, registry *llm.Registry, log zerolog.Logger) {
	var enc *secrets.Encryptor
	if cfg.EncryptionKey != "" {
		e, err := secrets.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			log.Warn().Err(err).Msg("invalid ENCRYPTION_KEY, encrypted provider keys will be ignored")
		} else {
			enc = e
		}
	}

	resolve := func(plainVar, encryptedVar string) string {
		if v := os.Getenv(plainVar); v != "" {
			return v
		}
		if enc != nil {
			if blob := os.Getenv(encryptedVar); blob != "" {
				if plaintext, err := enc.DecryptString(blob); err == nil {
					return plaintext
				} else {
					log.Warn().Err(err).Str("var", encryptedVar).Msg("failed to decrypt provider key")
				}
			}
		}
		return ""
	}

	if key := resolve("OPENAI_API_KEY", "OPENAI_API_KEY_ENCRYPTED"); key != "" {
		registry.Register(llm.NewOpenAIClient(key))
		log.Info().Str("provider", "openai").Msg("llm connector registered")
	}
	if key := resolve("ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY_ENCRYPTED"); key != "" {
		registry.Register(llm.NewAnthropicClient(key))
		log.Info().Str("provider", "anthropic").Msg("llm connector registered")
	}
	if key := resolve("GOOGLE_API_KEY", "GOOGLE_API_KEY_ENCRYPTED"); key != "" {
		registry.Register(llm.NewGeminiClient(key))
		log.Info().Str("provider", "google").Msg("llm connector registered")
	}
}

// cronSpecForInterval renders a fixed-interval duration as a whole-minute
// cron spec the scheduler sweeper accepts, rounding down; sub-minute
// intervals fall back to every minute.
func cronSpecForInterval(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes <= 0 {
		minutes = 1
	}
	return "@every " + time.Duration(minutes*int(time.Minute)).String()
}

// startHeartbeatSweeper runs the Generation Queue's lease-reclamation
// sweep on a fixed ticker, returning a stop func. Grounded on the
// teacher's background-poller lifecycle: a ticker goroutine cancelled via
// a done channel rather than a context, since there's no per-tick work to
// cancel mid-flight.
func startHeartbeatSweeper(q *queue.Store, log zerolog.Logger, interval time.Duration) func() {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-done:
				ticker.Stop()
				return
			case <-ticker.C:
				n, err := q.SweepExpiredLeases(context.Background())
				if err != nil {
					log.Error().Err(err).Msg("lease sweep failed")
					continue
				}
				if n > 0 {
					log.Info().Int("reclaimed", n).Msg("reclaimed expired task leases")
				}
			}
		}
	}()
	return func() { close(done) }
}
