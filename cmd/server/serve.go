package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"postage/internal/address"
	adminhandler "postage/internal/admin/handler"
	adminservice "postage/internal/admin/service"
	httpapi "postage/internal/http"
	identityhandler "postage/internal/identity/handler"
	"postage/internal/identity/models"
	identityservice "postage/internal/identity/service"
	"postage/internal/ledger"
	ledgermemory "postage/internal/ledger/store/memory"
	ledgerpostgres "postage/internal/ledger/store/postgres"
	ledgerredis "postage/internal/ledger/store/redis"
	"postage/internal/platform/config"
	"postage/internal/platform/httpserver"
	"postage/internal/platform/logger"
	"postage/internal/platform/metrics"
	"postage/internal/platform/postgres"
	redisclient "postage/internal/platform/redis"
	"postage/internal/proof"
	"postage/internal/records"
	"postage/internal/transfer"
	"postage/pkg/domain"
	"postage/pkg/platform/audit"
	"postage/pkg/platform/audit/publisher"
	auditkafka "postage/pkg/platform/audit/store/kafka"
	auditmemory "postage/pkg/platform/audit/store/memory"
	"postage/pkg/platform/audit/store/resilient"
	"postage/pkg/platform/circuit"
	"postage/pkg/platform/middleware/admin"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.New(cfg.LogLevel, cfg.LogFormat)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

// closer collects shutdown hooks in acquisition order.
type closer []func()

func (c *closer) add(fn func()) { *c = append(*c, fn) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	var cleanup closer
	defer cleanup.run()

	programID, err := domain.ParseAddress(cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("program id: %w", err)
	}
	mode, err := models.ParseMessageMode(cfg.MessageMode)
	if err != nil {
		return err
	}
	checks := map[string]httpapi.HealthCheck{}

	var redis *redisclient.Client
	if cfg.UsesRedis() {
		redis, err = redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		cleanup.add(func() { _ = redis.Close() })
		checks["redis"] = redis.Health
	}

	store, err := buildLedger(ctx, cfg, redis, &cleanup, checks)
	if err != nil {
		return err
	}

	auditStore, err := buildAuditStore(ctx, cfg, log, &cleanup, checks)
	if err != nil {
		return err
	}
	auditPublisher := publisher.NewPublisher(auditStore, publisher.WithAsyncBuffer(1024), publisher.WithLogger(log))
	cleanup.add(auditPublisher.Close)

	var replay proof.ReplayCache = proof.NewMemoryReplayCache()
	if cfg.Proof.ReplayBackend == config.BackendRedis {
		replay = proof.NewRedisReplayCache(redis.Client)
	}
	verifier := proof.NewVerifier(replay, proof.WithMaxAge(cfg.Proof.MaxAge))
	requireProof := proof.RequireProof(verifier, log)

	m := metrics.New(prometheus.DefaultRegisterer)
	addrs := records.NewAddresses(address.New(programID))
	engine := transfer.New(addrs.Deriver(), transfer.WithLogger(log))

	identity := identityservice.New(store, addrs, engine,
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(auditPublisher),
		identityservice.WithMetrics(m),
		identityservice.WithMessageMode(mode),
	)
	adminSvc := adminservice.New(store, addrs, engine,
		adminservice.WithLogger(log),
		adminservice.WithAuditPublisher(auditPublisher),
		adminservice.WithMetrics(m),
	)

	router := httpapi.NewRouter(httpapi.Options{
		Logger:         log,
		Gatherer:       prometheus.DefaultGatherer,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		HealthChecks:   checks,
	},
		identityhandler.New(identity, log, requireProof),
		adminhandler.New(adminSvc, log, requireProof, admin.RequireAdminToken(cfg.DevAirdropToken, log)),
	)
	srv := httpserver.New(cfg.Addr, router, cfg.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting postage",
			"addr", cfg.Addr,
			"ledger_backend", cfg.LedgerBackend,
			"message_mode", string(mode),
			"program_id", programID.String(),
			"dev_airdrop", cfg.DevAirdropToken != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func buildLedger(ctx context.Context, cfg config.Server, redis *redisclient.Client, cleanup *closer, checks map[string]httpapi.HealthCheck) (ledger.Store, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = db.Close() })
		checks["postgres"] = db.PingContext
		if cfg.Postgres.Migrate {
			if err := ledgerpostgres.Migrate(ctx, db); err != nil {
				return nil, fmt.Errorf("migrate ledger: %w", err)
			}
		}
		return ledgerpostgres.New(db, ledgerpostgres.WithTimeout(cfg.TxTimeout)), nil
	case config.BackendRedis:
		return ledgerredis.New(redis.Client, ledgerredis.WithTimeout(cfg.TxTimeout)), nil
	default:
		return ledgermemory.New(ledgermemory.WithTimeout(cfg.TxTimeout)), nil
	}
}

// buildAuditStore returns a bounded in-memory store, or Kafka behind a
// circuit breaker that falls back to it when brokers are configured.
func buildAuditStore(ctx context.Context, cfg config.Server, log *slog.Logger, cleanup *closer, checks map[string]httpapi.HealthCheck) (audit.Store, error) {
	local := auditmemory.NewInMemoryStore()
	if len(cfg.Kafka.Brokers) == 0 {
		return local, nil
	}

	producer, err := auditkafka.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic,
		kgo.RecordDeliveryTimeout(cfg.Kafka.DeliveryTimeout))
	if err != nil {
		return nil, fmt.Errorf("kafka audit producer: %w", err)
	}
	cleanup.add(producer.Close)
	if err := producer.EnsureTopic(ctx, cfg.Kafka.Partitions, 1); err != nil {
		log.WarnContext(ctx, "could not ensure audit topic", "topic", cfg.Kafka.AuditTopic, "error", err)
	}
	checks["kafka"] = producer.Health
	breaker := circuit.New("audit-kafka",
		circuit.WithFailureThreshold(3),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(30*time.Second),
	)
	return resilient.New(producer, local, breaker, log,
		resilient.WithPrimaryTimeout(cfg.Kafka.DeliveryTimeout+time.Second)), nil
}
