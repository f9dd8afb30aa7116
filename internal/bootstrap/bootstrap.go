package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	httpadapter "github.com/kirillkom/mditd/internal/adapters/http"
	"github.com/kirillkom/mditd/internal/config"
	"github.com/kirillkom/mditd/internal/core/ports"
	"github.com/kirillkom/mditd/internal/core/usecase"
	"github.com/kirillkom/mditd/internal/infrastructure/converter"
	"github.com/kirillkom/mditd/internal/infrastructure/events/nats"
	"github.com/kirillkom/mditd/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/mditd/internal/infrastructure/resilience"
	"github.com/kirillkom/mditd/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/mditd/internal/observability/metrics"
)

type App struct {
	Config config.Config

	BatchUC   *usecase.BatchConversionUseCase
	OutputsUC *usecase.OutputsUseCase
	History   ports.HistoryReader
	Converter *converter.Registry

	handler http.Handler
	closers []func()
}

// New builds every service from cfg. NATS and Postgres are optional and only
// connected when their settings are present.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	registry := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPServerMetrics(registry, config.ServiceName)
	conversionMetrics := metrics.NewConversionMetrics(registry, config.ServiceName)

	resolver, err := localfs.NewResolver(cfg.ProjectRoot, cfg.OutputDir, cfg.MaxOutputDirLength)
	if err != nil {
		return nil, fmt.Errorf("init output resolver: %w", err)
	}
	store, err := localfs.New(underRoot(resolver.Root(), cfg.UploadsDir), localfs.Options{
		ChunkSize:   cfg.UploadChunkSize,
		MaxFileSize: cfg.MaxFileSize,
		MinFileSize: cfg.MinFileSize,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	if err := resolver.Reserve(store.UploadsDir()); err != nil {
		return nil, fmt.Errorf("reserve uploads dir: %w", err)
	}
	app.Converter = converter.NewRegistry(converter.Options{
		MaxArchiveEntrySize: cfg.MaxFileSize,
		MaxArchiveTotalSize: cfg.MaxFileSize,
	})

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)
	healthChecks := map[string]httpadapter.HealthCheck{
		"storage": func(context.Context) error {
			return dirsAccessible(store.UploadsDir(), resolver.Root())
		},
		"converter": func(context.Context) error {
			if len(app.Converter.SupportedExtensions()) == 0 {
				return fmt.Errorf("no converters registered")
			}
			return nil
		},
		"events":  nil,
		"history": nil,
	}

	var events ports.EventPublisher
	if cfg.NATSURL != "" {
		publisher, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		app.closers = append(app.closers, publisher.Close)
		events = publisher
		healthChecks["events"] = publisher.Ping
	}

	var history ports.HistoryStore
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, func() { _ = db.Close() })

		repo := postgres.NewHistoryRepository(db, executor)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		history = repo
		app.History = repo
		healthChecks["history"] = pingDB(db)
	}

	app.BatchUC = usecase.NewBatchConversionUseCase(
		store,
		resolver,
		app.Converter,
		events,
		history,
		conversionMetrics,
		logger,
		usecase.BatchOptions{
			MaxFiles:     cfg.MaxFilesCount,
			MaxTotalSize: cfg.MaxTotalSize,
			Workers:      cfg.MaxConcurrentFiles,
			Frontmatter:  cfg.Frontmatter,
		},
	)
	app.OutputsUC = usecase.NewOutputsUseCase(resolver, store)

	app.handler = httpadapter.NewRouter(cfg, app.BatchUC, app.OutputsUC, app.History, app.Converter, httpadapter.Options{
		Logger:         logger,
		HTTPMetrics:    httpMetrics,
		MetricsHandler: metrics.Handler(registry),
		HealthChecks:   healthChecks,
		Workers:        app.BatchUC.Workers(),
	}).Handler()

	logger.Info("app_initialized",
		"project_root", resolver.Root(),
		"uploads_dir", store.UploadsDir(),
		"workers", app.BatchUC.Workers(),
		"formats", len(app.Converter.SupportedExtensions()),
		"events_enabled", events != nil,
		"history_enabled", history != nil,
	)
	ok = true
	return app, nil
}

func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func underRoot(root, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

func dirsAccessible(dirs ...string) error {
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
	}
	return nil
}

func pingDB(db *sql.DB) httpadapter.HealthCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
