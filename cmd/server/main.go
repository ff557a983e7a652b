package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/lib/pq"

	"changegate/internal/audit"
	"changegate/internal/audit/publisher"
	auditmem "changegate/internal/audit/store/memory"
	auditpg "changegate/internal/audit/store/postgres"
	"changegate/internal/exception"
	excmem "changegate/internal/exception/store/memory"
	excpg "changegate/internal/exception/store/postgres"
	"changegate/internal/pipeline"
	"changegate/internal/pipeline/rules"
	"changegate/internal/platform/config"
	"changegate/internal/platform/httpserver"
	"changegate/internal/platform/logger"
	"changegate/internal/platform/metrics"
	platformredis "changegate/internal/platform/redis"
	"changegate/internal/recommend"
	"changegate/internal/remediation"
	"changegate/internal/sod"
	"changegate/internal/source"
	"changegate/internal/source/csvdir"
	sourcemem "changegate/internal/source/memory"
	sourcepg "changegate/internal/source/postgres"
	httptransport "changegate/internal/transport/http"
	"changegate/internal/verdictcache"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	if cfg.UsingDevJWTKey() {
		log.Warn("JWT_SIGNING_KEY is not set; reviewer tokens verify against the built-in development key and are forgeable")
	}

	ctx := context.Background()

	// Persistence: Postgres when configured, in-memory otherwise.
	var (
		db         *sql.DB
		auditStore audit.Store
		excStore   exception.Store
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping postgres", "error", err)
			os.Exit(1)
		}
		auditStore = auditpg.New(db)
		excStore = excpg.New(db)
	} else {
		auditStore = auditmem.NewInMemoryStore()
		excStore = excmem.NewInMemoryStore()
	}

	// Audit trail with optional Kafka fan-out.
	recorderOpts := []audit.Option{audit.WithLogger(log)}
	var kafkaPub *publisher.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		var err error
		kafkaPub, err = publisher.NewKafka(ctx, cfg.KafkaBrokers, cfg.KafkaAuditTopic, log)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		recorderOpts = append(recorderOpts, audit.WithPublisher(kafkaPub))
	}
	recorder := audit.NewRecorder(auditStore, recorderOpts...)

	// AI recommendation collaborator, best-effort.
	var recommender exception.Recommender = recommend.Noop{}
	if cfg.AnthropicAPIKey != "" {
		r, err := recommend.NewAnthropic(cfg.AnthropicAPIKey, cfg.RecommendModel)
		if err != nil {
			log.Error("init recommender", "error", err)
			os.Exit(1)
		}
		recommender = r
	}

	exceptions, err := exception.New(excStore, recorder, log,
		exception.WithRecommender(recommender),
		exception.WithRecommendTimeout(cfg.RecommendTimeout),
	)
	if err != nil {
		log.Error("init exception service", "error", err)
		os.Exit(1)
	}

	// Remediation workflow trigger for IPE failures.
	var trigger remediation.Trigger = remediation.Noop{}
	if cfg.RemediationURL != "" {
		trigger = remediation.NewWebhook(cfg.RemediationURL, log)
	}

	// Source adapter: flat-file extracts, relational snapshot, or an empty
	// fixture for smoke runs.
	var adapter source.Adapter
	switch {
	case cfg.SourceDir != "":
		adapter, err = csvdir.New(cfg.SourceDir, cfg.SnapshotVersion)
		if err != nil {
			log.Error("load csv source", "error", err)
			os.Exit(1)
		}
	case db != nil:
		adapter = sourcepg.New(db, cfg.SnapshotVersion)
	default:
		adapter = sourcemem.New(cfg.SnapshotVersion)
	}

	engineOpts := []pipeline.Option{
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithMetrics(m),
		pipeline.WithDashboardReconciliation(cfg.ReconcileDashboard),
	}
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		engineOpts = append(engineOpts,
			pipeline.WithVerdictCache(verdictcache.New(redisClient.Client, cfg.VerdictCacheTTL)),
		)
	}

	engine, err := pipeline.New(
		adapter,
		rules.Ordered(cfg.ApprovalWindowHorizon),
		exceptions,
		recorder,
		trigger,
		log,
		engineOpts...,
	)
	if err != nil {
		log.Error("init pipeline", "error", err)
		os.Exit(1)
	}

	detector, err := sod.New(adapter, recorder, log)
	if err != nil {
		log.Error("init sod detector", "error", err)
		os.Exit(1)
	}

	// Scheduled full-population re-validation, for adapters that can
	// enumerate their dashboard.
	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	if cfg.RunInterval > 0 {
		if lister, ok := adapter.(pipeline.PopulationLister); ok {
			sched, err := pipeline.NewScheduler(engine, lister, cfg.RunInterval, log)
			if err != nil {
				log.Error("init scheduler", "error", err)
				os.Exit(1)
			}
			go func() {
				if err := sched.Run(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("scheduler stopped", "error", err)
				}
			}()
		} else {
			log.Warn("scheduled runs disabled: source adapter cannot enumerate the population")
		}
	}

	handler := httptransport.NewHandler(engine, recorder, exceptions, detector, log)
	router := httptransport.NewRouter(handler, httptransport.RequireReviewer(cfg.JWTSigningKey, log))

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting changegate", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	stopScheduler()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(shutdownCtx); err != nil {
			log.Warn("kafka flush failed", "error", err)
		}
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
