package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/l0kol/IPledge/internal/adapters/cache"
	eventadapter "github.com/l0kol/IPledge/internal/adapters/events"
	grpcadapter "github.com/l0kol/IPledge/internal/adapters/grpc"
	httpadapter "github.com/l0kol/IPledge/internal/adapters/http"
	"github.com/l0kol/IPledge/internal/adapters/memory"
	"github.com/l0kol/IPledge/internal/adapters/oracle"
	"github.com/l0kol/IPledge/internal/adapters/postgres"
	"github.com/l0kol/IPledge/internal/adapters/security"
	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	consumer   *eventadapter.ConsumerWorker
	sweeper    *eventadapter.SweepWorker
	cleanupFn  func(context.Context)
}

type storage struct {
	ledgers     ports.LedgerRepository
	revenue     ports.RevenueRepository
	outbox      ports.OutboxRepository
	idempotency ports.IdempotencyRepository
	eventDedup  ports.EventDedupRepository
	ping        func(context.Context) error
	close       func()
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping funding engine",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage_driver", cfg.StorageDriver,
	)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Runtime, error) {
		cleanup()
		return nil, err
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, store.close)

	var (
		locker      ports.ProjectLocker  = memory.NewProjectLocker()
		valuations  ports.ValuationCache = memory.NewValuationCache()
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		locker = cacheadapter.NewRedisProjectLocker(redisClient, cfg.LockTTL, logger)
		valuations = cacheadapter.NewRedisValuationCache(redisClient)
	} else {
		logger.Warn("REDIS_URL not set; using in-process project locks and valuation cache")
	}

	secret := cfg.JWTHMACSecret
	if secret == "" {
		logger.Warn("using ephemeral JWT secret for local/dev runtime")
		secret, err = ephemeralSecret()
		if err != nil {
			return fail(fmt.Errorf("generate ephemeral jwt secret: %w", err))
		}
	}
	tokens, err := security.NewHMACTokenVerifier(secret, cfg.JWTIssuer)
	if err != nil {
		return fail(fmt.Errorf("init token verifier: %w", err))
	}

	var valuationOracle ports.ValuationOracle
	if cfg.OracleURL != "" {
		client, err := oracle.NewClient(oracle.Config{
			BaseURL:    cfg.OracleURL,
			APIKey:     cfg.OracleAPIKey,
			HTTPClient: &http.Client{Timeout: cfg.OracleTimeout + time.Second},
		})
		if err != nil {
			return fail(fmt.Errorf("init valuation oracle: %w", err))
		}
		valuationOracle = client
	} else {
		logger.Warn("ORACLE_URL not set; collateral health uses stored valuations only")
	}

	var verifier ports.ProofVerifier
	if cfg.VerifierAddr != "" {
		client, err := grpcadapter.DialVerifier(cfg.VerifierAddr)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = client.Close() })
		verifier = client
	} else {
		logger.Warn("VERIFIER_ADDR not set; milestone proofs get a fixed verdict", "result", cfg.LocalVerifierResult)
		verifier = memory.NewStaticVerifier(ports.VerificationResult(cfg.LocalVerifierResult))
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:          cfg.ServiceID,
			IdempotencyTTL:       cfg.IdempotencyTTL,
			EventDedupTTL:        cfg.EventDedupTTL,
			VerificationTimeout:  cfg.VerificationTimeout,
			OracleTimeout:        cfg.OracleTimeout,
			OracleConcurrency:    cfg.OracleConcurrency,
			ValuationStaleAfter:  cfg.OracleStaleAfter,
			ValuationCacheTTL:    cfg.ValuationCacheTTL,
			CollateralMultiplier: cfg.CollateralMultiplier,
			BlockReleaseOnBreach: cfg.BlockReleaseOnBreach,
			DefaultTiers:         cfg.Tiers,
			SweepBatchSize:       cfg.SweepBatchSize,
			RevenueMaxAge:        cfg.RevenueMaxAge,
			RevenueClockSkew:     cfg.RevenueClockSkew,
		},
		Logger:      logger,
		Ledgers:     store.ledgers,
		Revenue:     store.revenue,
		Idempotency: store.idempotency,
		EventDedup:  store.eventDedup,
		Locker:      locker,
		Oracle:      valuationOracle,
		Verifier:    verifier,
		Valuations:  valuations,
	})

	ready := func(ctx context.Context) error {
		if err := store.ping(ctx); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Ping(ctx).Err()
		}
		return nil
	}
	router := httpadapter.NewRouter(httpadapter.NewHandler(svc, tokens, ready))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewFundingEngineServer(svc))

	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(logger)
	var consumer eventadapter.Consumer = eventadapter.NewNoopConsumer()
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.TopicByEvent)
		if err != nil {
			return fail(fmt.Errorf("init kafka publisher: %w", err))
		}
		closers = append(closers, func() { _ = kp.Close() })
		publisher = kp

		kc, err := eventadapter.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaInTopics)
		if err != nil {
			return fail(fmt.Errorf("init kafka consumer: %w", err))
		}
		closers = append(closers, func() { _ = kc.Close() })
		consumer = kc
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events are logged and inbound topics are not consumed")
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		outbox: eventadapter.NewOutboxWorker(
			logger,
			store.outbox,
			publisher,
			cfg.OutboxPollInterval,
			cfg.OutboxBatchSize,
			cfg.OutboxClaimTTL,
			cfg.OutboxMaxRetries,
		),
		consumer: eventadapter.NewConsumerWorker(logger, consumer, svc, cfg.ConsumerPollInterval, cfg.ConsumerMaxAttempts),
		sweeper:  eventadapter.NewSweepWorker(logger, svc, cfg.OverdueSweepInterval, cfg.CollateralSweepInterval),
		cleanupFn: func(context.Context) {
			cleanup()
		},
	}, nil
}

func openStorage(ctx context.Context, cfg Config, logger *slog.Logger) (storage, error) {
	if cfg.StorageDriver == StorageMemory {
		logger.Warn("using in-memory storage; state is lost on restart")
		repos := memory.NewRepositories()
		return storage{
			ledgers:     repos.Ledgers,
			revenue:     repos.Revenue,
			outbox:      repos.Outbox,
			idempotency: repos.Idempotency,
			eventDedup:  repos.EventDedup,
			ping:        func(context.Context) error { return nil },
			close:       func() {},
		}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return storage{}, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := pool.DB()
	if err != nil {
		return storage{}, fmt.Errorf("gorm sql db: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		_ = sqlDB.Close()
		return storage{}, fmt.Errorf("run migrations: %w", err)
	}
	repos := postgres.NewRepositories(pool)
	return storage{
		ledgers:     repos.Ledgers,
		revenue:     repos.Revenue,
		outbox:      repos.Outbox,
		idempotency: repos.Idempotency,
		eventDedup:  repos.EventDedup,
		ping:        func(ctx context.Context) error { return postgres.Ping(ctx, pool) },
		close:       func() { _ = sqlDB.Close() },
	}, nil
}

func ephemeralSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RunAPI serves HTTP and gRPC until a signal arrives. With in-memory storage
// the background workers run in the same process, since nothing else can see
// the state.
func (r *Runtime) RunAPI(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}
	r.grpcLis = lis

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	workersDone := make(chan struct{})
	if r.cfg.StorageDriver == StorageMemory {
		go func() {
			defer close(workersDone)
			if err := r.runWorkers(ctx); err != nil {
				errCh <- err
			}
		}()
	} else {
		close(workersDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	<-workersDone
	r.cleanupFn(shutdownCtx)
	return runErr
}

// RunWorker drives the outbox relay, the inbound consumer and the periodic
// sweeps until a signal arrives or one of them fails.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := r.runWorkers(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return err
}

func (r *Runtime) runWorkers(ctx context.Context) error {
	r.logger.Info("funding workers started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.outbox.Run(gctx) })
	g.Go(func() error { return r.consumer.Run(gctx) })
	g.Go(func() error { return r.sweeper.Run(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
