package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"nailsdash/backend/internal/config"
	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/outbox"
	"nailsdash/backend/internal/ratelimit"
	"nailsdash/backend/internal/service/appointments"
	"nailsdash/backend/internal/store"
	"nailsdash/backend/internal/store/memory"
	"nailsdash/backend/internal/store/postgres"
	"nailsdash/backend/internal/telemetry"
	grpcTransport "nailsdash/backend/internal/transport/grpc"
)

func serveCmd() *cobra.Command {
	var demoCatalog bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC scheduling server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(newLogger(cfg.LogLevel), cfg, demoCatalog)
		},
	}
	cmd.Flags().BoolVar(&demoCatalog, "demo-catalog", false, "seed the memory store with a demo store, service and technician")
	return cmd
}

// backend is the storage selected by configuration.
type backend struct {
	repo   store.AppointmentRepository
	outbox outbox.Store
	close  func()
}

func serve(log *slog.Logger, cfg config.Config, demoCatalog bool) error {
	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("log_level", cfg.LogLevel),
		slog.String("storage_driver", cfg.StorageDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  cfg.OTelServiceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", slog.Any("err", err))
		}
	}()

	be, err := openBackend(ctx, log, cfg, demoCatalog)
	if err != nil {
		return err
	}
	defer be.close()

	limiter, closeLimiter := newLimiter(ctx, log, cfg)
	defer closeLimiter()

	svc := appointments.NewService(be.repo,
		appointments.WithSlotConfig(cfg.Slots),
		appointments.WithLogger(log),
	)

	publisherDone := make(chan struct{})
	if brokers := outbox.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		pub := outbox.NewPublisher(be.outbox, outbox.NewKafkaWriter(brokers), log, outbox.PublisherConfig{
			PollEvery: cfg.OutboxPollEvery,
			BatchSize: cfg.OutboxBatchSize,
		})
		go func() {
			defer close(publisherDone)
			pub.Run(ctx)
		}()
		log.Info("outbox publisher started", slog.Any("brokers", brokers))
	} else {
		close(publisherDone)
		log.Info("outbox publisher disabled; events stay in the outbox")
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcTransport.DefaultRequestTimeout(cfg.GRPCRequestTimeout),
			grpcTransport.RateLimit(limiter, log, cfg.RateLimitFailOpen),
		),
	)
	grpcTransport.RegisterAppointmentServiceServer(grpcServer, grpcTransport.NewAppointmentsServer(svc, log))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(grpcTransport.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", cfg.GRPCAddr(), err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		healthServer.Shutdown()
		shutdown(log, grpcServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			stop()
			<-publisherDone
			return fmt.Errorf("grpc server stopped: %w", err)
		}
	}

	stop()
	<-publisherDone
	return nil
}

func openBackend(ctx context.Context, log *slog.Logger, cfg config.Config, demoCatalog bool) (backend, error) {
	if cfg.StorageDriver == "memory" {
		mem := memory.New()
		if demoCatalog {
			seedDemoCatalog(log, mem)
		}
		log.Warn("using in-memory storage; appointments are lost on exit")
		return backend{repo: mem, outbox: mem, close: func() {}}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return backend{}, fmt.Errorf("open database: %w", err)
	}
	return backend{
		repo:   postgres.NewAppointmentRepo(db),
		outbox: postgres.NewOutboxStore(db),
		close: func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		},
	}, nil
}

// newLimiter prefers the shared Redis limiter and falls back to a per-process one.
func newLimiter(ctx context.Context, log *slog.Logger, cfg config.Config) (ratelimit.Limiter, func()) {
	if cfg.RedisAddr == "" {
		log.Info("rate limiting in process", slog.Int("limit", cfg.RateLimit), slog.Duration("window", cfg.RateLimitWindow))
		return ratelimit.NewLocal(cfg.RateLimit, cfg.RateLimitWindow), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Warn("redis ping failed", slog.Any("err", err), slog.String("redis_addr", cfg.RedisAddr))
	}

	log.Info("rate limiting with redis", slog.String("redis_addr", cfg.RedisAddr), slog.Int("limit", cfg.RateLimit))
	return ratelimit.NewRedis(rdb, cfg.RateLimit, cfg.RateLimitWindow, cfg.RateLimitPrefix), func() {
		if err := rdb.Close(); err != nil {
			log.Warn("redis close failed", slog.Any("err", err))
		}
	}
}

func seedDemoCatalog(log *slog.Logger, mem *memory.Store) {
	st := domain.Store{ID: uuid.New(), Name: "Demo Nails", IsActive: true}
	svc := domain.Service{ID: uuid.New(), StoreID: st.ID, Name: "Gel manicure", DurationMinutes: 45, PriceCents: 3500}
	tech := domain.Technician{ID: uuid.New(), StoreID: st.ID, Name: "Demo technician", IsActive: true}
	mem.PutStore(st)
	mem.PutService(svc)
	mem.PutTechnician(tech)
	log.Info("demo catalog seeded",
		slog.String("store_id", st.ID.String()),
		slog.String("service_id", svc.ID.String()),
		slog.String("technician_id", tech.ID.String()),
	)
}

func shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}
