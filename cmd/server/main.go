package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"kcc-issuer/internal/issuer/authorization"
	"kcc-issuer/internal/issuer/credential"
	"kcc-issuer/internal/issuer/dwn"
	"kcc-issuer/internal/issuer/handler"
	"kcc-issuer/internal/issuer/identity"
	"kcc-issuer/internal/issuer/protocol"
	"kcc-issuer/internal/issuer/record"
	"kcc-issuer/internal/issuer/service"
	"kcc-issuer/internal/platform/config"
	"kcc-issuer/internal/platform/database"
	"kcc-issuer/internal/platform/health"
	"kcc-issuer/internal/platform/httpserver"
	"kcc-issuer/internal/platform/kafka"
	"kcc-issuer/internal/platform/kafka/producer"
	"kcc-issuer/internal/platform/logger"
	"kcc-issuer/internal/platform/metrics"
	redisclient "kcc-issuer/internal/platform/redis"
	"kcc-issuer/internal/platform/tracer"
	httptransport "kcc-issuer/internal/transport/http"
	audit "kcc-issuer/pkg/platform/audit"
	auditmetrics "kcc-issuer/pkg/platform/audit/metrics"
	"kcc-issuer/pkg/platform/audit/publisher"
	"kcc-issuer/pkg/platform/audit/publishers/stream"
	auditmemory "kcc-issuer/pkg/platform/audit/store/memory"
	auditpostgres "kcc-issuer/pkg/platform/audit/store/postgres"
	"kcc-issuer/pkg/platform/middleware/request"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// run wires high-level dependencies and blocks until ctx is cancelled.
// Business logic lives in internal/issuer.
func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	log.Info("initializing kcc-issuer",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"dwn_endpoint", cfg.Issuer.DWNEndpoint,
		"auth_endpoint", cfg.Issuer.AuthEndpoint,
	)
	if cfg.Issuer.CredentialExpiry.Before(time.Now()) {
		log.Warn("credential expiry is in the past; issued credentials will be expired",
			"credential_expiry", cfg.Issuer.CredentialExpiry.Format(time.RFC3339),
		)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	healthHandler := health.New(cfg.Environment)

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// Audit ledger: Postgres when configured, memory otherwise, plus an optional Kafka stream.
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if pool != nil {
		closers = append(closers, func() { _ = pool.Close() })
		if err := pool.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		auditStore = auditpostgres.New(pool.DB())
		healthHandler.RegisterCheck("postgres", pool.Health)
		log.Info("audit ledger on postgres")
	}

	publisherOpts := []publisher.PublisherOption{
		publisher.WithAsyncBuffer(1024),
		publisher.WithPublisherLogger(log),
		publisher.WithMetrics(auditmetrics.New(reg)),
	}
	if cfg.Kafka.Brokers != "" {
		prodCfg := kafka.DefaultProducerConfig(cfg.Kafka.Brokers)
		prodCfg.Acks = cfg.Kafka.Acks
		prod, err := producer.New(prodCfg, log)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		closers = append(closers, func() { _ = prod.Close() })
		kafkaHealth := kafka.NewHealthChecker(prod)
		healthHandler.RegisterCheck(kafkaHealth.Name(), kafkaHealth.Check)
		publisherOpts = append(publisherOpts,
			publisher.WithSink("kafka", stream.New(prod, cfg.Kafka.AuditTopic, stream.WithLogger(log))))
		log.Info("audit stream enabled", "topic", cfg.Kafka.AuditTopic)
	}
	auditPublisher := publisher.NewPublisher(auditStore, publisherOpts...)
	// Registered after the producer so pending events drain before it closes.
	closers = append(closers, auditPublisher.Close)

	// Issuer key: Redis when configured so the DID survives restarts.
	var keyStore identity.KeyStore = identity.NewMemoryKeyStore()
	rc, err := redisclient.New(ctx, cfg.Redis, reg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rc != nil {
		closers = append(closers, func() { _ = rc.Close() })
		redisKeys := identity.NewRedisKeyStore(rc.Client, cfg.Redis.KeyPrefix, identity.WithSealingSecret(cfg.Redis.KeySecret))
		if !redisKeys.Sealed() {
			log.Warn("issuer key stored unsealed in redis; set ISSUER_KEY_STORE_SECRET")
		}
		keyStore = redisKeys
		healthHandler.RegisterCheck("redis", rc.Health)
		log.Info("issuer key store on redis", "sealed", redisKeys.Sealed())
	}

	if cfg.Issuer.UsesDefaultDWN() {
		log.Warn("DWN_ENDPOINT is the public node, which rejects this issuer's message envelope; record writes will fail",
			"dwn_endpoint", cfg.Issuer.DWNEndpoint,
		)
	}

	var node dwn.Node
	if cfg.Issuer.UsesMemoryNode() {
		log.Warn("using in-memory DWN node; records are lost on restart")
		node = dwn.NewMemoryNode()
	} else {
		node = dwn.NewHTTPNode(cfg.Issuer.DWNEndpoint)
	}

	svc := service.New(
		identity.NewProvider(keyStore, identity.WithSeed(cfg.Issuer.KeySeed), identity.WithLogger(log)),
		protocol.NewProvisioner(node, cfg.Issuer.ProtocolAcceptedCode),
		credential.NewBuilder(cfg.Issuer.SchemaURL, cfg.Issuer.CredentialExpiry),
		authorization.NewClient(cfg.Issuer.AuthEndpoint),
		record.NewStore(node),
		service.WithLogger(log),
		service.WithMetrics(metrics.New(reg)),
		service.WithTracer(tracer.NewOTel()),
		service.WithAuditor(auditPublisher),
		service.WithStageTimeout(cfg.Issuer.StageTimeout),
		service.WithRetry(cfg.Issuer.RetryMaxAttempts, cfg.Issuer.RetryInitialInterval),
	)

	healthHandler.RegisterInfo("issuer_state", func() string { return svc.State().String() })

	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:         log,
		Credentials:    handler.New(svc, log),
		Health:         healthHandler,
		Metrics:        request.NewMetrics(reg),
		Gatherer:       reg,
		RequestTimeout: cfg.Issuer.RequestTimeout(),
	})
	srv := httpserver.New(cfg.Addr, router)
	// the connection must outlive the request timeout so its JSON answer reaches the client
	srv.WriteTimeout = max(srv.WriteTimeout, cfg.Issuer.RequestTimeout()+5*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		return httpserver.Run(gctx, srv, cfg.ShutdownTimeout)
	})
	if rc != nil {
		g.Go(func() error {
			return rc.RunPoolStats(gctx, 15*time.Second)
		})
	}

	err = g.Wait()
	log.Info("shutting down server gracefully")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
