// The gateway serves the POS mutation endpoints and the tenant-scoped
// audit query API. It emits audit envelopes to the broker; the ingest
// worker persists them.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"poscore/internal/audit"
	"poscore/internal/audit/producer"
	"poscore/internal/audit/query"
	"poscore/internal/audit/redact"
	"poscore/internal/audit/sink"
	auditpg "poscore/internal/audit/store/postgres"
	"poscore/internal/authz"
	"poscore/internal/observability"
	"poscore/internal/platform/config"
	"poscore/internal/platform/httpserver"
	"poscore/internal/platform/logger"
	"poscore/internal/platform/middleware"
	"poscore/internal/pos"
	"poscore/pkg/platform/httputil"
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

	if err := cfg.ValidateGateway(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	// A hole in the capability matrix or the action registry is a deploy
	// blocker, not a runtime surprise.
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

	kafkaSink, err := sink.NewKafka(cfg.Kafka.Brokers)
	if err != nil {
		log.Error("failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	defer kafkaSink.Close()

	guard := observability.NewCodeGuard("capability", cfg.Audit.MetricCodeCap)
	policy := authz.NewEngine(authz.NewMetrics(guard))

	errGuard := observability.NewCodeGuard("http_error", cfg.Audit.MetricCodeCap)
	httpErrors := promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poscore_http_errors_total",
		Help: "Error responses by stable error code.",
	}, []string{"code"})
	httputil.ObserveErrors(func(code string) {
		httpErrors.WithLabelValues(errGuard.Label(code)).Inc()
	})

	emitter := producer.New(kafkaSink, cfg.Kafka.Topic, log, producer.NewMetrics(),
		producer.WithCapacity(cfg.Audit.QueueCapacity),
		producer.WithBatchSize(cfg.Audit.ProducerBatch),
	)

	redactor := redact.New(redactionRules(cfg), redact.NewMetrics())
	queryHandler := query.NewHandler(
		query.NewService(store, policy, redactor, query.NewMetrics()), log)
	posHandler := pos.NewHandler(policy, emitter,
		pos.NewLoggingInventory(log), pos.NewLoggingCustomers(log), log)

	validator := middleware.NewHMACValidator(cfg.Server.JWTSigningKey)

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Timeout(30 * time.Second))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireIdentity(validator, log))
		queryHandler.Register(r)
		posHandler.Register(r)
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := emitter.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("gateway listening", "addr", cfg.Server.Addr)
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
		log.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

// redactionRules converts the config surface into engine rules. Unknown
// modes degrade to enforce inside ParseMode; masking too much is the safe
// failure direction.
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
