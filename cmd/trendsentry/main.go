// Package main wires together the verification service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/funniceguy/trendsentry/internal/agent"
	"github.com/funniceguy/trendsentry/internal/api"
	gcsarchive "github.com/funniceguy/trendsentry/internal/archive/gcs"
	localarchive "github.com/funniceguy/trendsentry/internal/archive/local"
	memoryarchive "github.com/funniceguy/trendsentry/internal/archive/memory"
	"github.com/funniceguy/trendsentry/internal/clock/system"
	"github.com/funniceguy/trendsentry/internal/config"
	"github.com/funniceguy/trendsentry/internal/events"
	"github.com/funniceguy/trendsentry/internal/events/sinks"
	"github.com/funniceguy/trendsentry/internal/health"
	"github.com/funniceguy/trendsentry/internal/id/uuid"
	"github.com/funniceguy/trendsentry/internal/logging"
	"github.com/funniceguy/trendsentry/internal/metrics"
	"github.com/funniceguy/trendsentry/internal/orchestrator"
	memorypublisher "github.com/funniceguy/trendsentry/internal/publisher/memory"
	pubsubpublisher "github.com/funniceguy/trendsentry/internal/publisher/pubsub"
	memorystore "github.com/funniceguy/trendsentry/internal/store/memory"
	postgresstore "github.com/funniceguy/trendsentry/internal/store/postgres"
	redisstore "github.com/funniceguy/trendsentry/internal/store/redis"
	"github.com/funniceguy/trendsentry/internal/tts"
	"github.com/funniceguy/trendsentry/internal/verify"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	cardStore, closeStore, err := buildCardStore(ctx, cfg)
	if err != nil {
		logger.Fatal("card store init failed", zap.Error(err))
	}
	defer closeStore()

	archive, closeArchive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}
	defer closeArchive()

	hub, closePublisher, err := buildEventHub(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("event hub init failed", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("event hub close failed", zap.Error(err))
		}
		closePublisher()
	}()

	gateway, err := agent.NewClient(nil, agent.Config{
		BaseURL: cfg.Agent.BaseURL,
		APIKey:  cfg.Agent.APIKey,
		Timeout: cfg.AgentTimeout(),
	})
	if err != nil {
		logger.Fatal("agent client init failed", zap.Error(err))
	}

	checker := health.NewChecker(
		nil,
		health.Config{Timeout: cfg.HealthTimeout(), BasePath: cfg.Health.BasePath},
		health.DefaultSources(health.Thresholds{
			Trends: cfg.Health.TrendsMinItems,
			Videos: cfg.Health.VideosMinItems,
			Forum:  cfg.Health.ForumMinItems,
		}),
		idGen,
		clock,
		logger.Named("health"),
	)

	speech, err := tts.NewClient(nil, tts.Config{
		Endpoint:  cfg.TTS.Endpoint,
		Language:  cfg.TTS.Language,
		UserAgent: cfg.TTS.UserAgent,
		Timeout:   cfg.TTSTimeout(),
	})
	if err != nil {
		logger.Fatal("tts client init failed", zap.Error(err))
	}

	orch, err := orchestrator.New(orchestrator.Config{
		MaxSessions:         cfg.Verification.MaxSessions,
		ActivityLimit:       cfg.Verification.ActivityLimit,
		Source:              cfg.Agent.Source,
		StartingBranch:      cfg.Agent.StartingBranch,
		AutomationMode:      cfg.Agent.AutomationMode,
		RequirePlanApproval: true,
		ArchivePrefix:       cfg.Archive.Prefix,
		ArchiveContentType:  cfg.Archive.ContentType,
	}, orchestrator.Deps{
		Store:   cardStore,
		Gateway: gateway,
		Health:  checker,
		Archive: archive,
		Emitter: hub,
		Clock:   clock,
		IDGen:   idGen,
		Logger:  logger.Named("orchestrator"),
	})
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}

	apiServer := api.NewServer(orch, checker, gateway, speech, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildCardStore(ctx context.Context, cfg config.Config) (verify.CardStore, func(), error) {
	switch cfg.Store.Provider {
	case "memory":
		return memorystore.NewCardStore(), func() {}, nil
	case "postgres":
		store, err := postgresstore.NewCardStore(ctx, postgresstore.CardStoreConfig{
			DSN:      cfg.Store.Postgres.DSN,
			Table:    cfg.Store.Postgres.Table,
			MaxConns: cfg.Store.Postgres.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "redis":
		store, err := redisstore.NewCardStore(ctx, redisstore.Config{
			Addr:      cfg.Store.Redis.Addr,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (verify.BlobStore, func(), error) {
	switch cfg.Archive.Provider {
	case "none":
		return nil, func() {}, nil
	case "memory":
		return memoryarchive.NewBlobStore(), func() {}, nil
	case "local":
		store, err := localarchive.New(localarchive.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		store, err := gcsarchive.New(client, gcsarchive.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive provider %q", cfg.Archive.Provider)
	}
}

func buildEventHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*events.Hub, func(), error) {
	hubSinks := []events.Sink{sinks.NewLogSink(logger.Named("events"))}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, err
	}
	hubSinks = append(hubSinks, promSink)

	closePublisher := func() {}
	switch cfg.Notify.Provider {
	case "none":
	case "memory":
		sink, err := sinks.NewPublisherSink(memorypublisher.New(), cfg.Notify.TopicName)
		if err != nil {
			return nil, nil, err
		}
		hubSinks = append(hubSinks, sink)
	case "pubsub":
		publisher, err := pubsubpublisher.New(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicName)
		if err != nil {
			return nil, nil, err
		}
		sink, err := sinks.NewPublisherSink(publisher, cfg.Notify.TopicName)
		if err != nil {
			_ = publisher.Close()
			return nil, nil, err
		}
		hubSinks = append(hubSinks, sink)
		closePublisher = func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("publisher close failed", zap.Error(err))
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown notify provider %q", cfg.Notify.Provider)
	}

	hub := events.NewHub(events.Config{Logger: logger.Named("events")}, hubSinks...)
	return hub, closePublisher, nil
}
