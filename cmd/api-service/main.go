package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/applabs/tollquery/internal/api/handler"
	"github.com/applabs/tollquery/internal/api/router"
	"github.com/applabs/tollquery/internal/batch"
	"github.com/applabs/tollquery/internal/browser"
	"github.com/applabs/tollquery/internal/config"
	"github.com/applabs/tollquery/internal/storage"
	"github.com/applabs/tollquery/shared/logger"
	"github.com/applabs/tollquery/shared/postgresql"
	"github.com/applabs/tollquery/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("TOLLQUERY_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting toll query service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	consultaStore := storage.NewConsultaStore(dbClient)

	// Initialize the optional batch-event publisher
	var rabbitClient *rabbitmq.Client
	var events batch.EventPublisher
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		events = rabbitClient

		appLogger.Info("RabbitMQ connection established")
	} else {
		appLogger.Info("RabbitMQ disabled, batch completion events will not be published")
	}

	// Initialize the browser session manager and portal executor
	sessionManager := browser.NewManager(&browser.Config{
		EntryURL:           cfg.Browser.EntryURL,
		Headless:           cfg.Browser.Headless,
		NavigationTimeout:  cfg.Browser.NavigationTimeout.Std(),
		SettleDelay:        cfg.Browser.SettleDelay.Std(),
		ReadinessAttempts:  cfg.Browser.ReadinessAttempts,
		ReadinessBaseDelay: cfg.Browser.ReadinessBaseDelay.Std(),
		Identities:         cfg.Browser.Identity,
	}, appLogger.Logger)

	executor := browser.NewPortalExecutor(cfg.Browser.LookupTimeout.Std(), appLogger.Logger)

	// Initialize batch tracking and scheduling
	tracker := batch.NewTracker(cfg.Batch.Retention.Std(), appLogger.Logger)

	scheduler := batch.NewScheduler(batch.Config{
		ChunkSize:          cfg.Batch.ChunkSize,
		RecycleEveryChunks: cfg.Batch.RecycleEveryChunks,
		ItemDelayMin:       cfg.Batch.ItemDelayMin.Std(),
		ItemDelayMax:       cfg.Batch.ItemDelayMax.Std(),
		ChunkDelayMin:      cfg.Batch.ChunkDelayMin.Std(),
		ChunkDelayMax:      cfg.Batch.ChunkDelayMax.Std(),
		SyncCap:            cfg.Batch.SyncCap,
		SyncDelayMin:       cfg.Batch.SyncDelayMin.Std(),
		SyncDelayMax:       cfg.Batch.SyncDelayMax.Std(),
		LookupEstimate:     cfg.Batch.LookupEstimate.Std(),
	}, sessionManager, executor, consultaStore, tracker, events, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, scheduler, consultaStore, dbClient)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout.Std()),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout.Std()),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Toll query service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		tracker.Close()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime.Std(),
		ConnMaxIdleTime: cfg.ConnMaxIdleTime.Std(),
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ batch-event publisher
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval.Std(),
		Heartbeat:          cfg.Connection.Heartbeat.Std(),
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout.Std(),
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval.Std(),
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, scheduler *batch.Scheduler, store *storage.ConsultaStore, dbClient *postgresql.Client) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:       logger,
		Scheduler:    scheduler,
		Store:        store,
		DBClient:     dbClient,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		ServiceName:  cfg.App.Name,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
