package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/crimeapps/drc-integration/common/database"
	"github.com/crimeapps/drc-integration/common/logging"
	natsclient "github.com/crimeapps/drc-integration/common/messaging/nats"
	"github.com/crimeapps/drc-integration/common/signing"
	"github.com/crimeapps/drc-integration/common/tokens"
	"github.com/crimeapps/drc-integration/reconcile/internal/ack"
	"github.com/crimeapps/drc-integration/reconcile/internal/archive"
	"github.com/crimeapps/drc-integration/reconcile/internal/audit"
	"github.com/crimeapps/drc-integration/reconcile/internal/config"
	"github.com/crimeapps/drc-integration/reconcile/internal/dispatch"
	"github.com/crimeapps/drc-integration/reconcile/internal/dlq"
	"github.com/crimeapps/drc-integration/reconcile/internal/extractor"
	"github.com/crimeapps/drc-integration/reconcile/internal/handlers"
	authmw "github.com/crimeapps/drc-integration/reconcile/internal/middleware"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
	reconcilenats "github.com/crimeapps/drc-integration/reconcile/internal/nats"
	"github.com/crimeapps/drc-integration/reconcile/internal/scheduler"
	"github.com/crimeapps/drc-integration/reconcile/internal/sequence"
	"github.com/crimeapps/drc-integration/reconcile/internal/server"
	"github.com/crimeapps/drc-integration/reconcile/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("reconcile"))
	logging.SetDefault(logger)

	slog.Info("Starting reconcile service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("sequencer", cfg.Sequencer.Backend),
		slog.String("audit", cfg.Audit.Backend),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	var pool *pgxpool.Pool
	if cfg.NeedsPostgres() {
		connString := cfg.Database.Postgres.ConnString()

		slog.Info("Running database migrations", slog.String("source", cfg.Database.MigrationsPath))
		if err := database.Migrate(cfg.Database.MigrationsPath, connString); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}

		pool, err = database.NewPool(ctx, connString)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		defer pool.Close()
	}

	// Redis
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
	}

	// Sequencer
	var seq sequence.Sequencer
	switch cfg.Sequencer.Backend {
	case "postgres":
		seq = sequence.NewPostgresSequencer(pool)
	case "redis":
		redisSeq := sequence.NewRedisSequencer(redisClient, cfg.Sequencer.RedisPrefix)
		if cfg.Sequencer.Seeded() {
			if err := redisSeq.Seed(ctx, cfg.Sequencer.SeedBatchID, cfg.Sequencer.SeedTraceID); err != nil {
				log.Fatalf("Failed to seed sequencer: %v", err)
			}
			slog.Info("Seeded redis sequencer",
				slog.Int64("batch_floor", cfg.Sequencer.SeedBatchID),
				slog.Int64("trace_floor", cfg.Sequencer.SeedTraceID))
		}
		seq = redisSeq
	case "memory":
		slog.Warn("Using in-memory sequencer; batch and trace ids restart with the process")
		seq = sequence.NewMemorySequencer(0, 0)
	}

	// Audit trail
	var repo audit.Repository
	switch cfg.Audit.Backend {
	case "postgres":
		repo = audit.NewPostgresRepository(pool)
	case "memory":
		slog.Warn("Using in-memory audit store; the audit trail is lost on exit")
		repo = audit.NewMemoryRepository()
	}
	defer repo.Close()

	hostname, _ := os.Hostname()
	nodeID := cfg.Audit.ResolveNodeID(hostname)
	ids, err := audit.NewSnowflakeIDs(nodeID)
	if err != nil {
		log.Fatalf("Failed to create id generator: %v", err)
	}
	slog.Info("Audit id generator ready", slog.Int64("node_id", nodeID), slog.String("hostname", hostname))
	auditLog := audit.NewLog(repo, ids, logger.Logger)

	// NATS: acknowledgements, run events and the dead-letter stream share one connection.
	var (
		nc          *natsclient.JetStreamClient
		deadLetters dlq.Sink
		dlqQueue    *dlq.JetStreamQueue
		notifier    service.RunNotifier
	)
	if cfg.NATS.Enabled {
		nc, err = natsclient.NewJetStreamClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
			Username:      cfg.NATS.Username,
			Password:      cfg.NATS.Password,
			Token:         cfg.NATS.Token,
		}, logger.Logger)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer nc.Close()

		notifier = reconcilenats.NewPublisher(nc)

		if cfg.NATS.DLQEnabled {
			queue, err := dlq.NewJetStreamQueue(ctx, nc, logger.Logger)
			if err != nil {
				log.Fatalf("Failed to initialize JetStream DLQ: %v", err)
			}
			deadLetters = queue
			dlqQueue = queue
			slog.Info("Dead letter queue enabled", slog.String("stream", natsclient.DLQStream.Name))
		}
	} else {
		slog.Info("NATS disabled; no run events or dead letters will be published")
	}

	// Envelope archive
	var envelopes archive.Archive
	var envelopeStore handlers.EnvelopeStore
	if cfg.OpenSearch.Enabled {
		var signer *signing.Signer
		if cfg.OpenSearch.SigningSecret != "" {
			signer = signing.NewSigner(cfg.OpenSearch.SigningSecret)
		}
		osArchive, err := archive.NewOpenSearchArchive(archive.OpenSearchConfig{
			URL:           cfg.OpenSearch.URL,
			Username:      cfg.OpenSearch.Username,
			Password:      cfg.OpenSearch.Password,
			TLSSkipVerify: cfg.OpenSearch.TLSSkipVerify,
			Index:         cfg.OpenSearch.Index,
		}, signer, logger.Logger)
		if err != nil {
			log.Fatalf("Failed to create OpenSearch client: %v", err)
		}
		if err := osArchive.EnsureIndex(ctx); err != nil {
			log.Fatalf("Failed to prepare envelope index: %v", err)
		}
		envelopes = osArchive
		envelopeStore = osArchive
		slog.Info("Envelope archive enabled", slog.String("index", cfg.OpenSearch.Index))
	}

	// Extraction
	source := extractor.NewHTTPSource(extractor.HTTPSourceConfig{
		BaseURL:          cfg.Source.BaseURL,
		ContributionPath: cfg.Source.ContributionPath,
		FDCPath:          cfg.Source.FDCPath,
		Timeout:          cfg.Source.Timeout,
	})
	ext := extractor.New(source, extractor.Options{
		Retries:    cfg.Source.Retries,
		RetryDelay: cfg.Source.RetryDelay,
		MaxPages:   cfg.Source.MaxPages,
		Logger:     logger.Logger,
	})

	// Dispatch
	var limiter dispatch.RateLimiter = dispatch.NoOpRateLimiter{}
	if cfg.DRC.RateLimit.Enabled {
		rl, err := dispatch.NewRedisRateLimiter(redisClient, cfg.DRC.RateLimit.Requests, cfg.DRC.RateLimit.Window)
		if err != nil {
			log.Fatalf("Failed to create rate limiter: %v", err)
		}
		limiter = rl
		slog.Info("DRC rate limit enabled",
			slog.Int("requests", cfg.DRC.RateLimit.Requests),
			slog.Duration("window", cfg.DRC.RateLimit.Window))
	}
	target := dispatch.NewHTTPTarget(dispatch.HTTPTargetConfig{
		BaseURL:          cfg.DRC.BaseURL,
		ContributionPath: cfg.DRC.ContributionPath,
		FDCPath:          cfg.DRC.FDCPath,
		Token:            cfg.DRC.Token,
		Timeout:          cfg.DRC.Timeout,
	})
	engine := dispatch.NewEngine(target, seq, auditLog, dispatch.Options{
		MaxAttempts:   cfg.DRC.MaxAttempts,
		RetryDelay:    cfg.DRC.RetryDelay,
		DuplicateType: cfg.DRC.DuplicateType,
		Limiter:       limiter,
		Logger:        logger.Logger,
	})

	statuses := make(map[models.Category][]string)
	for _, c := range models.Categories() {
		if s := cfg.Statuses(string(c)); s != nil {
			statuses[c] = s
		}
	}

	deps := service.Deps{
		Sequencer: seq,
		Extractor: ext,
		Engine:    engine,
		Audit:     auditLog,
		Archive:   envelopes,
		Notifier:  notifier,
	}
	if deadLetters != nil {
		deps.DLQ = deadLetters
	}
	orchestrator := service.New(deps, service.Config{
		PageSize: cfg.Source.PageSize,
		Statuses: statuses,
		Logger:   logger.Logger,
	})

	// Acknowledgements
	processor := ack.NewProcessor(auditLog, logger.Logger)
	if cfg.Ack.NATSEnabled {
		if nc == nil {
			log.Fatalf("ack.nats_enabled requires nats.enabled")
		}
		subscriber := reconcilenats.NewAckSubscriber(nc, processor, logger.Logger)
		if err := subscriber.Start(); err != nil {
			log.Fatalf("Failed to subscribe to acknowledgements: %v", err)
		}
		defer subscriber.Stop()
	}

	// Scheduled runs and retention
	categories := make([]models.Category, 0, len(cfg.Scheduler.Categories))
	for _, name := range cfg.Scheduler.Categories {
		c, err := models.ParseCategory(name)
		if err != nil {
			log.Fatalf("Invalid scheduler category: %v", err)
		}
		categories = append(categories, c)
	}
	sched := scheduler.New(orchestrator, auditLog, scheduler.Config{
		RunInterval:       cfg.Scheduler.Interval,
		Categories:        categories,
		AuditDays:         cfg.Retention.AuditDays,
		ErrorDays:         cfg.Retention.ErrorDays,
		RetentionInterval: cfg.Retention.Interval,
	}, logger.Logger)
	if sched.Enabled() {
		go sched.Start(ctx)
		defer sched.Stop()
	}

	// HTTP
	handler := handlers.NewHandler(processor, orchestrator, auditLog, logger)
	if envelopeStore != nil {
		handler.WithArchive(envelopeStore)
	}
	if nc != nil {
		handler.WithBroker(nc)
	}
	if dlqQueue != nil {
		handler.WithDeadLetters(dlqQueue)
	}
	var validator authmw.TokenValidator
	if cfg.Ack.JWTSecret != "" {
		validator = tokens.NewManager(cfg.Ack.JWTSecret)
	} else {
		slog.Warn("ack.jwt_secret is empty; the HTTP API is unauthenticated")
	}
	router := server.NewRouter(handler, validator)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Reconcile service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	slog.Info("Server stopped")
}
