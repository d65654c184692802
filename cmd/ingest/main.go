// The ingest worker consumes audit envelopes from the broker, applies
// ingestion-time redaction, persists them to Postgres, and enforces the
// retention window.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"poscore/internal/audit"
	auditconsumer "poscore/internal/audit/consumer"
	"poscore/internal/audit/redact"
	"poscore/internal/audit/retention"
	auditpg "poscore/internal/audit/store/postgres"
	"poscore/internal/authz"
	"poscore/internal/platform/config"
	"poscore/internal/platform/httpserver"
	kafkaconsumer "poscore/internal/platform/kafka/consumer"
	"poscore/internal/platform/logger"
	platformredis "poscore/internal/platform/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log := logger.New(config.DefaultLogLevel)
	cfg, err := config.Load(*configPath, log)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.New(cfg.Logging.Level)

	if err := cfg.ValidateIngest(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := authz.SelfCheck(); err != nil {
		log.Error("capability matrix self-check failed", "error", err)
		os.Exit(1)
	}
	if err := audit.SchemaSelfCheck(); err != nil {
		log.Error("action schema self-check failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := auditpg.Open(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := auditpg.New(db)

	broker, err := kafkaconsumer.New(cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic)
	if err != nil {
		log.Error("failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	redactor := redact.New(redactionRules(cfg), redact.NewMetrics())
	ingestor := auditconsumer.New(broker, store, redactor, log, auditconsumer.NewMetrics(),
		auditconsumer.WithBatchSize(cfg.Audit.ConsumerBatch),
	)

	// Without Redis every replica purges on its own schedule; the deletes
	// are idempotent so that only costs duplicate work.
	var locker retention.Locker = retention.SoloLocker{}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		locker = retention.NewRedisLocker(redisClient.Client)
	} else {
		log.Warn("redis not configured, purge runs without leader election")
	}

	purger := retention.New(store, locker, log, retention.NewMetrics(),
		retention.WithRetention(cfg.RetentionWindow()),
		retention.WithInterval(cfg.Retention.Interval),
		retention.WithDeleteBatch(cfg.Retention.DeleteBatch),
		retention.WithDryRun(cfg.Retention.DryRun),
	)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("audit ingestor starting",
			"topic", cfg.Kafka.Topic,
			"group", cfg.Kafka.Group,
		)
		return ignoreCanceled(ingestor.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(purger.Run(gctx))
	})
	g.Go(func() error {
		log.Info("ingest worker listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("ingest worker exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("ingest worker stopped")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func redactionRules(cfg *config.Config) []redact.Rule {
	rules := make([]redact.Rule, 0, len(cfg.Redaction))
	for _, r := range cfg.Redaction {
		rules = append(rules, redact.Rule{
			Path: r.Path,
			Mode: redact.ParseMode(r.Mode),
			Mask: r.Mask,
		})
	}
	return rules
}
