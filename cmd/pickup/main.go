package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	cfg "github.com/sand/scrap-pickup/backend/config"
	"github.com/sand/scrap-pickup/backend/internal/core/ports"
	"github.com/sand/scrap-pickup/backend/internal/events"
	"github.com/sand/scrap-pickup/backend/internal/gateway"
	"github.com/sand/scrap-pickup/backend/internal/handlers"
	"github.com/sand/scrap-pickup/backend/internal/shared"
	"github.com/sand/scrap-pickup/backend/internal/usecases"
	"github.com/sand/scrap-pickup/backend/internal/usecases/repository"
	"github.com/sand/scrap-pickup/backend/internal/usecases/repository/boltstore"
	"github.com/sand/scrap-pickup/backend/internal/workers"
	"github.com/sand/scrap-pickup/backend/pkg/database"
	"github.com/sand/scrap-pickup/backend/pkg/retry"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

// storage bundles the repositories of the selected backend.
type storage struct {
	transactor usecases.Transactor
	orders     usecases.OrdersRepository
	wallets    usecases.WalletsRepository
	entries    usecases.TransactionsRepository
	close      func()
}

func main() {
	time.Local = time.UTC

	// Parse configuration
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	opts := &slog.HandlerOptions{
		Level: config.Log.Level,
	}

	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Warn("Starting application with configuration",
		"debug", config.App.Debug,
		"environment", config.App.Environment,
		"server_port", config.HTTP.Port,
		"db_driver", config.DB.Driver,
		"gateway_sandbox", config.Gateway.Sandbox || shared.IsGatewaySandboxMode())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := openStorage(logger, config)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		log.Fatal(err)
	}
	defer store.close()

	// Event sinks
	hub := events.NewHub(logger)
	publisher := events.NewFanout(logger).Add("websocket", hub)
	if len(config.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(config.Kafka.Brokers, config.Kafka.Topic)
		defer kafkaPublisher.Close()
		publisher.Add("kafka", kafkaPublisher)
		logger.Info("Kafka event publishing enabled", "brokers", config.Kafka.Brokers, "topic", config.Kafka.Topic)
	}

	// Payment gateway
	var (
		paymentGateway ports.PaymentGateway
		sandbox        *gateway.Sandbox
	)
	if config.Gateway.Sandbox || shared.IsGatewaySandboxMode() || config.Gateway.StripeAPIKey == "" {
		sandbox = gateway.NewSandbox()
		paymentGateway = sandbox
		logger.Warn("Using in-memory payment gateway")
	} else {
		paymentGateway = gateway.NewStripe(logger, config.Gateway.StripeAPIKey)
	}

	// Create usecases
	orderService := usecases.NewOrderService(logger, store.orders, publisher, usecases.AssignmentPolicy{
		DefaultTTL:     config.Assignment.DefaultTTL,
		MaxTTL:         config.Assignment.MaxTTL,
		ClaimableLimit: config.Assignment.ClaimableLimit,
		Currency:       config.Wallet.Currency,
	})
	walletService := usecases.NewWalletService(logger, store.transactor, store.wallets, store.entries, store.orders,
		paymentGateway, publisher, config.Wallet.Currency)

	// Initialize and run workers
	locker, closeLocker := newLocker(logger, config)
	defer closeLocker()
	initAndRunWorkers(ctx, logger, config, orderService, locker)

	// Create handlers
	httpHandler := handlers.NewHTTPHandler(logger, orderService, walletService, retry.Policy{
		MaxAttempts:     config.Retry.MaxAttempts,
		InitialInterval: config.Retry.InitialInterval,
		MaxInterval:     config.Retry.MaxInterval,
	})
	wsHandler := handlers.NewWebSocketHandler(logger, hub)

	// Create router
	router := mux.NewRouter()
	handlers.NewMiddleware(logger).Register(router)

	// Register WebSocket routes before HTTP routes
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)
	if sandbox != nil {
		handlers.NewSandboxHandler(logger, sandbox).RegisterRoutes(router)
	}

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
	})

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}

func openStorage(logger *slog.Logger, config *cfg.Config) (*storage, error) {
	if config.DB.Driver == cfg.DriverBolt {
		store, err := boltstore.Open(logger, config.DB.BoltPath)
		if err != nil {
			return nil, err
		}
		logger.Info("Using embedded bolt storage", "path", config.DB.BoltPath)
		return &storage{
			transactor: store,
			orders:     store,
			wallets:    store,
			entries:    store,
			close: func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close bolt storage", "error", err)
				}
			},
		}, nil
	}

	// Connect to Database
	pg, err := database.New(config.DB.DatabaseURL,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		return nil, err
	}

	// Run database migrations
	migrationsPath := database.ResolveMigrationsPath(config.DB.MigrationsPath)
	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		pg.Close()
		return nil, err
	}
	logger.Info("Database migrations completed successfully")

	return &storage{
		transactor: pg.Transactor,
		orders:     repository.NewOrdersRepository(logger, pg),
		wallets:    repository.NewWalletsRepository(logger, pg),
		entries:    repository.NewTransactionsRepository(logger, pg),
		close:      pg.Close,
	}, nil
}

// newLocker elects the sweeper through Redis when configured. A single
// instance falls back to an in-process lock.
func newLocker(logger *slog.Logger, config *cfg.Config) (ports.Locker, func()) {
	if config.Redis.Addr == "" {
		return workers.NewLocalLocker(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
	})
	logger.Info("Using redis sweeper lock", "addr", config.Redis.Addr, "lock_key", config.Redis.LockKey)

	return workers.NewRedisLocker(client, config.Redis.LockTTL), func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close redis client", "error", err)
		}
	}
}

func initAndRunWorkers(
	ctx context.Context,
	logger *slog.Logger,
	config *cfg.Config,
	orderService *usecases.OrderService,
	locker ports.Locker,
) {
	sweeper := workers.NewAssignmentSweeper(
		logger,
		orderService,
		locker,
		config.Redis.LockKey,
		config.Assignment.SweepInterval,
		config.Assignment.SweepBatch,
	)

	go func() {
		logger.Info("Starting assignment sweeper worker")
		sweeper.Start(ctx)
	}()

	logger.Info("All workers initialized and started")
}
