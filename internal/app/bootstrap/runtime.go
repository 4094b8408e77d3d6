package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/http"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/adapters/security"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/ports"
	"google.golang.org/grpc"
	"gorm.io/gorm"
)

type Runtime struct {
	cfg    Config
	logger *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server

	outboxWorker     *eventadapter.OutboxWorker
	consumerWorker   *eventadapter.ConsumerWorker
	maturationWorker *eventadapter.MaturationWorker

	db      *gorm.DB
	redis   *redis.Client
	closers []io.Closer
}

type storage struct {
	repos  application.Dependencies
	db     *gorm.DB
	outbox ports.OutboxRepository
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	rt := &Runtime{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.db = st.db
	deps := st.repos

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.redis = client
		deps.Attributions = cache.NewRedisAttributionStore(client)
		deps.Locker = cache.NewRedisAffiliateLocker(client, cfg.LockTTL, cfg.LockWait)
		logger.Info("redis attribution store and affiliate locks enabled", "module", "bootstrap", "layer", "runtime")
	}

	var (
		publisher ports.EventPublisher
		dlq       ports.DLQPublisher
		consumer  eventadapter.Consumer
	)
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopics, cfg.KafkaDLQTopic)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pub)
		cons, err := eventadapter.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaInputTopics)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, cons)
		publisher, dlq, consumer = pub, pub, cons
	} else {
		logging := eventadapter.NewLoggingPublisher(logger)
		publisher, dlq, consumer = logging, logging, eventadapter.NewNoopConsumer()
		logger.Warn("no kafka brokers configured; ledger events are logged, not published", "module", "bootstrap", "layer", "runtime")
	}

	deps.Config = application.Config{
		ServiceName:        cfg.ServiceID,
		Currency:           cfg.Currency,
		MinimumWithdrawal:  cfg.MinimumWithdrawal,
		AttributionWindow:  cfg.AttributionWindow,
		MaturationPeriod:   cfg.MaturationPeriod,
		Rates:              cfg.Rates,
		DefaultTier:        cfg.DefaultTier,
		CodeLength:         cfg.CodeLength,
		CodeMaxAttempts:    cfg.CodeMaxAttempts,
		MaxConflictRetries: cfg.MaxConflictRetries,
		SweepBatchSize:     cfg.SweepBatchSize,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		EventDedupTTL:      cfg.EventDedupTTL,
	}
	deps.Logger = logger
	svc := application.NewService(deps)

	tokens, err := security.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}
	var webhooks httpadapter.WebhookVerifier
	if cfg.WebhookSecret != "" {
		v, err := security.NewWebhookVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)
		if err != nil {
			return nil, err
		}
		webhooks = v
	} else {
		logger.Warn("PAYMENT_WEBHOOK_SECRET not set; payment callbacks are accepted unsigned", "module", "bootstrap", "layer", "runtime")
	}

	handler := httpadapter.NewHandler(svc, tokens, webhooks, logger)
	rt.httpServer = &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpadapter.NewRouter(handler, func(r *http.Request) error {
			return rt.ready(r.Context())
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	rt.grpcServer = grpc.NewServer()
	grpcadapter.Register(rt.grpcServer, grpcadapter.NewAffiliateInternalServer(svc, rt.ready))

	rt.outboxWorker = eventadapter.NewOutboxWorker(logger, st.outbox, publisher, dlq, eventadapter.OutboxWorkerConfig{
		Interval:   cfg.OutboxInterval,
		BatchSize:  cfg.OutboxBatchSize,
		MaxRetries: cfg.OutboxMaxRetries,
		ClaimTTL:   cfg.OutboxClaimTTL,
	})
	rt.consumerWorker = eventadapter.NewConsumerWorker(logger, consumer, svc, dlq, cfg.ConsumerPollInterval)
	rt.maturationWorker = eventadapter.NewMaturationWorker(logger, svc, cfg.SweepInterval)
	ok = true
	return rt, nil
}

func openStorage(ctx context.Context, cfg Config, logger *slog.Logger) (storage, error) {
	if cfg.StorageDriver == StoragePostgres {
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return storage{}, err
		}
		if cfg.RunMigrations {
			if err := postgres.RunMigrations(ctx, db); err != nil {
				if sqlDB, dbErr := db.DB(); dbErr == nil {
					_ = sqlDB.Close()
				}
				return storage{}, err
			}
		}
		repos := postgres.NewRepositories(db)
		return storage{
			db:     db,
			outbox: repos.Outbox,
			repos: application.Dependencies{
				Affiliates: repos.Affiliates, Attributions: repos.Attributions, Commissions: repos.Commissions,
				Withdrawals: repos.Withdrawals, Ledger: repos.Ledger, Transitions: repos.Transitions,
				DebtFlags: repos.DebtFlags, AuditLogs: repos.AuditLogs, Idempotency: repos.Idempotency,
				EventDedup: repos.EventDedup, Outbox: repos.Outbox,
				// replaced by the redis locker when REDIS_URL is set
				Locker: memory.NewKeyedLocker(),
			},
		}, nil
	}
	logger.Warn("using in-memory storage; data is lost on restart", "module", "bootstrap", "layer", "runtime")
	repos := memory.NewRepositories()
	return storage{
		outbox: repos.Outbox,
		repos: application.Dependencies{
			Affiliates: repos.Affiliates, Attributions: repos.Attributions, Commissions: repos.Commissions,
			Withdrawals: repos.Withdrawals, Ledger: repos.Ledger, Transitions: repos.Transitions,
			DebtFlags: repos.DebtFlags, AuditLogs: repos.AuditLogs, Idempotency: repos.Idempotency,
			EventDedup: repos.EventDedup, Outbox: repos.Outbox, Locker: repos.Locker,
		},
	}, nil
}

func (r *Runtime) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// RunAPI serves HTTP and gRPC. With in-memory storage there is no separate
// worker process that could see the same data, so the workers run here too.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return err
	}
	errCh := make(chan error, 2)
	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	var workers sync.WaitGroup
	if r.cfg.StorageDriver == StorageMemory {
		r.startWorkers(ctx, &workers, errCh)
	}
	r.logger.Info("api started", "module", "bootstrap", "layer", "runtime", "http_port", r.cfg.HTTPPort, "grpc_port", r.cfg.GRPCPort)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		r.logger.Error("runtime failure", "module", "bootstrap", "layer", "runtime", "error", runErr)
	}
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	workers.Wait()
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	errCh := make(chan error, 3)
	var workers sync.WaitGroup
	r.startWorkers(ctx, &workers, errCh)
	r.logger.Info("workers started", "module", "bootstrap", "layer", "runtime")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		r.logger.Error("worker failure", "module", "bootstrap", "layer", "runtime", "error", runErr)
	}
	stop()
	workers.Wait()
	return runErr
}

func (r *Runtime) startWorkers(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	for _, run := range []func(context.Context) error{r.outboxWorker.Run, r.consumerWorker.Run, r.maturationWorker.Run} {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case errCh <- err:
				default:
				}
			}
		}(run)
	}
}

// Close releases brokers, redis and the database pool. Safe to call twice.
func (r *Runtime) Close() {
	for _, c := range r.closers {
		_ = c.Close()
	}
	r.closers = nil
	if r.redis != nil {
		_ = r.redis.Close()
		r.redis = nil
	}
	if r.db != nil {
		if sqlDB, err := r.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		r.db = nil
	}
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
