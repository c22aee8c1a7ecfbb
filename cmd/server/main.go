package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ticketd/internal/authn"
	"ticketd/internal/oauth/device"
	"ticketd/internal/oauth/grant"
	oauthhandler "ticketd/internal/oauth/handler"
	oauthservice "ticketd/internal/oauth/service"
	"ticketd/internal/oauth/token"
	"ticketd/internal/platform/config"
	"ticketd/internal/platform/httpserver"
	"ticketd/internal/platform/logger"
	"ticketd/internal/platform/metrics"
	"ticketd/internal/platform/postgres"
	redisclient "ticketd/internal/platform/redis"
	"ticketd/internal/policy"
	rlmiddleware "ticketd/internal/ratelimit/middleware"
	rlmodels "ticketd/internal/ratelimit/models"
	"ticketd/internal/ratelimit/store/bucket"
	svcstore "ticketd/internal/services/store"
	ticketstore "ticketd/internal/ticket/store"
	audit "ticketd/pkg/platform/audit"
	"ticketd/pkg/platform/audit/publisher"
	kafkaaudit "ticketd/pkg/platform/audit/store/kafka"
	"ticketd/pkg/platform/audit/store/logsink"
	auditmemory "ticketd/pkg/platform/audit/store/memory"
	postgresaudit "ticketd/pkg/platform/audit/store/postgres"
	"ticketd/pkg/platform/circuit"
	"ticketd/pkg/platform/middleware/metadata"
	"ticketd/pkg/platform/middleware/request"
	"ticketd/pkg/platform/middleware/requesttime"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("ticketd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	m := metrics.New()

	var db *sql.DB
	if cfg.Store.Backend == "postgres" || cfg.Audit.Sink == "postgres" {
		var err error
		if db, err = postgres.Open(ctx, cfg.Postgres); err != nil {
			return err
		}
		defer db.Close()
	}

	var rc *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		if rc, err = redisclient.New(ctx, cfg.Redis); err != nil {
			return err
		}
		defer rc.Close()
	}

	tickets, err := buildTicketStore(ctx, cfg, db, rc)
	if err != nil {
		return err
	}
	instrumented := ticketstore.NewInstrumented(tickets, m)

	sink, closeSink, err := buildAuditSink(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	pub := publisher.NewPublisher(sink, publisher.WithAsyncBuffer(cfg.Audit.BufferSize), publisher.WithLogger(log))
	m.RegisterAuditDropped(prometheus.DefaultRegisterer, pub.Dropped)

	registry := svcstore.NewInMemoryRegistry()
	users := authn.NewStaticAuthenticator()
	if cfg.ServicesFile != "" {
		file, err := svcstore.LoadFile(cfg.ServicesFile)
		if err != nil {
			return err
		}
		if err := registry.ReplaceAll(file.Services); err != nil {
			return fmt.Errorf("load services: %w", err)
		}
		for _, u := range file.Users {
			users.Put(u)
		}
	}
	log.Info("registered services loaded", "count", registry.Count())

	enforcer := policy.NewEnforcer(
		policy.WithLogger(log),
		policy.WithAuditPublisher(pub),
		policy.WithMetrics(m),
	)
	base := grant.NewBase(registry, enforcer,
		grant.WithTicketStore(instrumented),
		grant.WithAuthenticator(users),
		grant.WithLogger(log),
	)
	devices := device.New(instrumented,
		device.WithCodeTTL(cfg.Device.CodeTTL),
		device.WithPollInterval(cfg.Device.PollInterval),
		device.WithRetention(cfg.Device.Retention),
		device.WithUserCodeLength(cfg.Device.UserCodeLength),
		device.WithVerificationURI(cfg.VerificationURI),
		device.WithDecisionRecorder(enforcer),
		device.WithLogger(log),
		device.WithMetrics(m),
		device.WithAuditPublisher(pub),
	)
	issuerOpts := []token.Option{
		token.WithAccessTokenTTL(cfg.Tokens.AccessTokenTTL),
		token.WithRefreshTokenTTL(cfg.Tokens.RefreshTokenTTL),
		token.WithLogger(log),
		token.WithMetrics(m),
		token.WithAuditPublisher(pub),
	}
	if cfg.Tokens.Format == "jwt" {
		issuerOpts = append(issuerOpts, token.WithEncoder(token.NewJWTEncoder(cfg.Tokens.SigningKey, cfg.Tokens.Issuer)))
	}
	issuer := token.NewIssuer(instrumented, issuerOpts...)

	svc := oauthservice.New(grant.NewDispatcher(grant.DefaultExtractors(base)...), devices, issuer,
		oauthservice.WithClientAuthenticator(base),
		oauthservice.WithAuthenticator(users),
		oauthservice.WithLogger(log),
		oauthservice.WithMetrics(m),
		oauthservice.WithAuditPublisher(pub),
	)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	r.Use(request.Recovery(log))
	limiter := buildRateLimiter(cfg, rc, log, m)
	oauthhandler.New(svc, log, oauthhandler.WithRateLimiter(limiter)).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := ready(req.Context(), db, rc); err != nil {
			log.WarnContext(req.Context(), "readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, r)
	cleaner := ticketstore.NewCleaner(tickets, cfg.Store.CleanupInterval,
		ticketstore.WithCleanerLogger(log),
		ticketstore.WithCleanerMetrics(m),
		ticketstore.WithCleanerAuditPublisher(pub),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting ticketd", "addr", cfg.Addr, "store", cfg.Store.Backend, "audit", cfg.Audit.Sink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return cleaner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		pub.Close()
		closeSink(shutdownCtx)
		return err
	})
	return g.Wait()
}

func buildTicketStore(ctx context.Context, cfg config.Server, db *sql.DB, rc *redisclient.Client) (ticketstore.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return ticketstore.NewRedisStore(rc.Client, cfg.Store.KeyPrefix), nil
	case "postgres":
		s := ticketstore.NewPostgresStore(db)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return ticketstore.NewInMemoryStore(), nil
	}
}

func buildAuditSink(ctx context.Context, cfg config.Server, db *sql.DB, log *slog.Logger) (audit.Store, func(context.Context), error) {
	noop := func(context.Context) {}
	switch cfg.Audit.Sink {
	case "memory":
		return auditmemory.NewInMemoryStore(), noop, nil
	case "postgres":
		s := postgresaudit.New(db)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "kafka":
		s, err := kafkaaudit.New(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("could not ensure audit topic", "topic", cfg.Audit.KafkaTopic, "error", err)
		}
		return s, func(ctx context.Context) { _ = s.Close(ctx) }, nil
	default:
		return logsink.New(log), noop, nil
	}
}

// buildRateLimiter shares buckets through Redis when it is configured and
// keeps an in-process fallback behind a circuit breaker.
func buildRateLimiter(cfg config.Server, rc *redisclient.Client, log *slog.Logger, m *metrics.Metrics) *rlmiddleware.Middleware {
	opts := []rlmiddleware.Option{
		rlmiddleware.WithDisabled(!cfg.RateLimit.Enabled),
		rlmiddleware.WithLimit(rlmodels.ClassToken, rlmodels.Limit{Requests: cfg.RateLimit.TokenRequests, Window: cfg.RateLimit.Window}),
		rlmiddleware.WithLimit(rlmodels.ClassDeviceVerify, rlmodels.Limit{Requests: cfg.RateLimit.VerifyRequests, Window: cfg.RateLimit.Window}),
		rlmiddleware.WithLogger(log),
		rlmiddleware.WithMetrics(m),
	}
	if rc == nil {
		return rlmiddleware.New(bucket.NewInMemoryBucketStore(), opts...)
	}
	opts = append(opts,
		rlmiddleware.WithFallback(bucket.NewInMemoryBucketStore()),
		rlmiddleware.WithBreaker(circuit.New("ratelimit")),
	)
	return rlmiddleware.New(bucket.NewRedisBucketStore(rc.Client), opts...)
}

// ready pings the backends this process was configured with.
func ready(ctx context.Context, db *sql.DB, rc *redisclient.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if db != nil {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if rc != nil {
		if err := rc.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
