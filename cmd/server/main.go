package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"avanza/internal/audit"
	"avanza/internal/platform/config"
	"avanza/internal/platform/health"
	"avanza/internal/platform/kafka/consumer"
	"avanza/internal/platform/logger"
	"avanza/internal/platform/metrics"
	"avanza/internal/sentinel"
	"avanza/internal/session/cache"
	"avanza/internal/session/device"
	"avanza/internal/session/listener"
	"avanza/internal/session/manager"
	"avanza/internal/session/provider"
	"avanza/internal/session/storage"
	httptransport "avanza/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Session lifecycle logic lives in internal/session.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing avanza session service",
		"addr", cfg.Addr,
		"provider", cfg.ProviderBaseURL,
	)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store, err := storage.NewFileStore(cfg.StorageDir)
	if err != nil {
		log.Error("failed to open session storage", "dir", cfg.StorageDir, "error", err)
		os.Exit(1)
	}

	auditPublisher := audit.NewPublisher(audit.NewInMemoryStore(),
		audit.WithAsyncBuffer(128),
		audit.WithPublisherLogger(log),
	)
	defer auditPublisher.Close()

	client := provider.New(cfg.ProviderBaseURL,
		provider.WithTimeout(cfg.ProviderTimeout),
		provider.WithLogger(log),
		provider.WithMetrics(m),
	)

	sessionCache := cache.New(
		cache.WithTTL(cfg.SessionCacheTTL),
		cache.WithMaxSize(cfg.SessionCacheMaxSize),
		cache.WithMetrics(m),
	)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sweeper := cache.NewSweeper(sessionCache,
		cache.WithSweepInterval(cfg.SweepInterval),
		cache.WithSweeperLogger(log),
	)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			log.Error("cache sweeper stopped", "error", err)
		}
	}()

	// Realtime invalidation rides Kafka row-change topics when brokers are
	// configured; otherwise an in-process bus keeps the listener wired for
	// local development.
	var source listener.Source
	var changeConsumer *consumer.Consumer
	if cfg.KafkaBrokers != "" {
		kafkaSource := listener.NewKafkaSource()
		changeConsumer, err = consumer.New(consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		}, kafkaSource, log)
		if err != nil {
			log.Error("failed to create kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := changeConsumer.Start(cfg.InvalidationTopics); err != nil {
			log.Error("failed to start kafka consumer", "error", err)
			os.Exit(1)
		}
		source = kafkaSource
		log.Info("listening for invalidation events", "topics", cfg.InvalidationTopics)
	} else {
		source = listener.NewMemoryBus()
		log.Info("kafka brokers not configured, using in-process invalidation bus")
	}

	sessions := manager.New(client, sessionCache, store,
		manager.WithLogger(log),
		manager.WithMetrics(m),
		manager.WithAuditPublisher(auditPublisher),
		manager.WithDeviceService(device.NewService(true)),
		manager.WithChangeSource(source),
		manager.WithRefreshInterval(cfg.RefreshInterval),
		manager.WithForcedLogoutHook(func(cause error) {
			log.Warn("session terminated by expired refresh token", "cause", cause)
		}),
	)

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), cfg.ProviderTimeout)
	if restored, err := sessions.Restore(restoreCtx); err != nil {
		log.Warn("could not restore persisted session", "error", err)
	} else if restored != nil {
		log.Info("restored persisted session", "subject_id", restored.SubjectID)
	}
	cancelRestore()

	checks := health.New()
	checks.RegisterCheck("session_storage", func() error {
		_, err := store.LoadTokens()
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		return nil
	})
	checks.RegisterCheck("identity_provider", func() error {
		probe := http.Client{Timeout: 2 * time.Second}
		resp, err := probe.Get(cfg.ProviderBaseURL + "/healthz")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("identity provider returned %d", resp.StatusCode)
		}
		return nil
	})

	handler := httptransport.NewHandler(sessions, log)
	router := httptransport.NewRouter(handler, checks, log, m, registry)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	if changeConsumer != nil {
		if err := changeConsumer.Stop(ctx); err != nil {
			log.Error("kafka consumer shutdown failed", "error", err)
		}
	}
	stopWorkers()

	log.Info("server stopped")
}
