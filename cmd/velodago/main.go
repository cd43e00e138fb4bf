package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/velodago/internal/application/orchestrator"
	"github.com/aescanero/velodago/internal/application/workers"
	"github.com/aescanero/velodago/internal/config"
	memoryevents "github.com/aescanero/velodago/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/velodago/pkg/adapters/events/redis"
	memoryinterp "github.com/aescanero/velodago/pkg/adapters/interpreter/memory"
	"github.com/aescanero/velodago/pkg/adapters/interpreter/python"
	"github.com/aescanero/velodago/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/velodago/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/velodago/pkg/adapters/storage/redis"
	"github.com/aescanero/velodago/pkg/api/grpc"
	"github.com/aescanero/velodago/pkg/api/http"
	"github.com/aescanero/velodago/pkg/api/websocket"
	"github.com/aescanero/velodago/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting velodago",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	var (
		eventBus     ports.EventBus
		stateStorage ports.StateStorage
		redisClient  *goredis.Client
	)

	switch cfg.StorageBackend {
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		hostname, _ := os.Hostname()
		bus, err := redisevents.NewStreamsEventBus(
			redisClient,
			cfg.Redis.ConsumerGroup,
			fmt.Sprintf("velodago-%s-%d", hostname, os.Getpid()),
			cfg.Redis.StreamMaxLength,
			logger,
		)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		eventBus = bus
		stateStorage = redisstorage.NewStateStorage(redisClient, cfg.StateTTL, logger)

	default:
		logger.Warn("using in-memory state storage and event bus; runs are lost on restart")
		eventBus = memoryevents.NewInMemoryEventBus()
		stateStorage = memorystorage.NewInMemoryStateStorage()
	}

	factory, err := newSessionFactory(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create interpreter backend", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector()

	// Initialize application components
	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		factory,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	pipeline := orchestrator.NewPipeline(workerPool, orchestrator.NewValidator(), logger)

	orchestratorMgr := orchestrator.NewManager(
		pipeline,
		eventBus,
		stateStorage,
		metricsCollector,
		logger,
		cfg.Timeouts.RunTimeout,
	)

	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Pool:         workerPool,
		Logger:       logger,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	wsHandler := websocket.NewHandler(eventBus, stateStorage, logger)
	if err := wsHandler.Start(ctx); err != nil {
		logger.Fatal("failed to subscribe to run events", zap.Error(err))
	}
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Pool:   workerPool,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)

	logger.Info("velodago started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.String("interpreter", cfg.Interpreter.Backend),
		zap.String("storage", cfg.StorageBackend))

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}

		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("gRPC server shutdown error", zap.Error(err))
		}

		if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
			logger.Error("orchestrator shutdown error", zap.Error(err))
		}

		if err := workerPool.Shutdown(shutdownCtx); err != nil {
			logger.Error("worker pool shutdown error", zap.Error(err))
		}

		if err := eventBus.Close(); err != nil {
			logger.Error("event bus close error", zap.Error(err))
		}

		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Error("Redis close error", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("velodago shut down complete")
}

// newSessionFactory builds the configured interpreter backend
func newSessionFactory(cfg *config.Config, logger *zap.Logger) (ports.SessionFactory, error) {
	if cfg.Interpreter.Backend == "memory" {
		logger.Warn("using in-memory interpreter backend; results are placeholders")
		return memoryinterp.NewBackend(), nil
	}

	var packages []python.Package
	if len(cfg.Interpreter.Packages) > 0 {
		pkgs, err := python.ParsePackages(cfg.Interpreter.Packages)
		if err != nil {
			return nil, err
		}
		packages = pkgs
	}

	provisioner := python.NewProvisioner(&python.EnvironmentConfig{
		Dir:       cfg.Interpreter.EnvDir,
		Bootstrap: cfg.Interpreter.PythonBin,
		Packages:  packages,
		Timeout:   cfg.Timeouts.ProvisionTimeout,
		Logger:    logger,
	})

	return python.NewFactory(&python.Config{
		Provisioner:  provisioner,
		CloseTimeout: cfg.Timeouts.SessionCloseTimeout,
		Logger:       logger,
	})
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
