package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/cache"
	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/internal/database"
	"github.com/temcen/affinity/internal/handlers"
	"github.com/temcen/affinity/internal/messaging"
	"github.com/temcen/affinity/internal/middleware"
	"github.com/temcen/affinity/internal/services"
	"github.com/temcen/affinity/internal/validation"
)

type publisher interface {
	services.EventPublisher
	Close() error
}

type App struct {
	config    *config.Config
	logger    *logrus.Logger
	db        *database.Database
	memory    *database.MemoryStore
	publisher publisher
	services  *services.Services
	handlers  *handlers.Handlers
	router    *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	return NewWithLogger(cfg, setupLogger(cfg))
}

func NewWithLogger(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	deps, err := app.dependencies()
	if err != nil {
		db.Close()
		return nil, err
	}

	// Initialize services
	app.services = services.New(cfg, app.logger, deps)

	// Initialize handlers
	app.handlers = handlers.New(app.logger, app.services)

	// Setup router
	app.setupRouter()

	return app, nil
}

// dependencies picks a backend for every repository from what is configured.
func (a *App) dependencies() (services.Dependencies, error) {
	deps := services.Dependencies{Backends: a.db}

	if a.config.Database.Driver == database.DriverMemory {
		a.memory = database.NewMemoryStore()
		deps.Profiles = a.memory
		deps.Interactions = a.memory
		deps.Images = a.memory
		deps.Tournaments = a.memory
		deps.Styles = a.memory
		deps.Weights = a.memory
		deps.Feedback = a.memory
		a.logger.Warn("Using in-memory storage; data will not survive a restart")
	} else {
		validator, err := validation.NewRecordValidator()
		if err != nil {
			return deps, fmt.Errorf("failed to initialize record validator: %w", err)
		}
		store := database.NewPostgresStore(a.db.PG, validator, a.logger)

		ctx, cancel := context.WithTimeout(context.Background(), a.config.Database.ConnectTimeout)
		defer cancel()
		if err := store.Migrate(ctx); err != nil {
			return deps, fmt.Errorf("failed to migrate schema: %w", err)
		}

		deps.Profiles = store
		deps.Interactions = store
		deps.Images = store
		deps.Tournaments = store
		deps.Styles = store
		deps.Weights = store
		deps.Feedback = store
	}

	if a.db.Neo4j != nil {
		deps.Interactions = database.NewGraphInteractionStore(a.db.Neo4j, a.logger)
	}

	if a.db.Redis != nil {
		deps.Results = cache.NewRedisResultCache(a.db.Redis)
	}

	if len(a.config.Kafka.Brokers) > 0 {
		a.publisher = messaging.NewEventBus(a.config, a.logger)
	} else {
		a.publisher = messaging.NoopPublisher{}
	}
	deps.Publisher = a.publisher

	return deps, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Memory returns the in-memory store when the memory driver is configured.
func (a *App) Memory() *database.MemoryStore {
	return a.memory
}

// Start launches the background feedback batching and sweeps.
func (a *App) Start() {
	a.services.Start()
	a.logger.Info("Background workers started")
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	done := make(chan struct{})
	go func() {
		a.services.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Timed out waiting for background workers")
	}

	var errs []error
	if err := a.publisher.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing event publisher")
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	router.GET("/health", a.handlers.Health.Check)

	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	{
		tournaments := api.Group("/tournaments")
		{
			tournaments.POST("", a.handlers.Tournament.Start)
			tournaments.GET("/active", a.handlers.Tournament.Active)
			tournaments.POST("/:id/choices", a.handlers.Tournament.SubmitChoice)
		}

		users := api.Group("/users/:userId")
		{
			users.GET("/recommendations", a.handlers.Recommendation.Get)
			users.GET("/weights", a.handlers.Weights.Get)
			users.PUT("/weights", a.handlers.Weights.Put)
		}

		api.POST("/feedback", a.handlers.Feedback.Submit)
	}

	a.router = router
}
