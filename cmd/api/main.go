package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pdfstore/docs"
	"pdfstore/internal/config"
	"pdfstore/internal/database"
	"pdfstore/internal/database/migration"
	handlers "pdfstore/internal/http/handler"
	"pdfstore/internal/http/middleware"
	"pdfstore/internal/logging"
	"pdfstore/internal/otel"
	"pdfstore/internal/repository"
	"pdfstore/internal/repository/postgres"
	"pdfstore/internal/repository/sidecar"
	"pdfstore/internal/service"
	"pdfstore/internal/storage"
)

// @title PDF Store API
// @version 1.0
// @description Upload, list and download PDF documents.
// @BasePath /
func main() {
	if err := run(); err != nil {
		logging.Default().Error("startup_failed", err, nil)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	logger := logging.New(os.Stdout, cfg.Location())
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	store, err := newStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	checks := []handlers.DependencyCheck{{Name: "storage", Ping: store.Ping}}

	repo, db, err := newRepository(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		checks = append(checks, handlers.DependencyCheck{Name: "database", Ping: db.PingContext})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}
	metrics, err := service.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("init document metrics: %w", err)
	}

	docSvc := service.NewDocumentService(store, repo,
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	)

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		BodyLimit:             int(cfg.MaxUploadBytes),
		DisableStartupMessage: true,
	})

	// Register global middleware
	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.LoggerWithWriter(os.Stdout, cfg.Location()))
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", handlers.Metrics(reg))

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, docSvc, checks...)

	addr := ":" + cfg.Port
	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server_started", map[string]any{
			"addr":             addr,
			"storage_backend":  cfg.Storage.Backend,
			"metadata_backend": cfg.MetadataBackend,
		})
		listenErr <- app.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("server_stopping", map[string]any{"timeout_sec": cfg.ShutdownTimeoutSec})
	}

	shutdownErr := app.ShutdownWithTimeout(cfg.ShutdownTimeout())

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Error("tracing_shutdown_failed", err, nil)
	}

	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	logger.Info("server_stopped", nil)
	return nil
}

func newStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.StorageBackendLocal:
		return storage.NewLocal(cfg.Root)
	case config.StorageBackendMinIO:
		// Reusable S3-compatible object storage client (MinIO-supported)
		return storage.NewMinIO(cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Backend)
	}
}

// newRepository picks the metadata backend. The returned *sql.DB is nil
// unless the postgres backend is selected.
func newRepository(ctx context.Context, cfg *config.AppConfig, store storage.Storage, logger *logging.Logger) (repository.DocumentRepository, *sql.DB, error) {
	switch cfg.MetadataBackend {
	case config.MetadataBackendSidecar:
		return sidecar.NewDocumentSidecar(store), nil, nil
	case config.MetadataBackendPostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := migration.EnsureMigrated(ctx, db, logger, cfg.Database.Host); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		return postgres.NewDocumentPostgres(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown METADATA_BACKEND %q", cfg.MetadataBackend)
	}
}
