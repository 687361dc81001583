// Package app wires configuration into the running cube-query service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/arkilian/cubecore/internal/api/http"
	"github.com/arkilian/cubecore/internal/config"
	"github.com/arkilian/cubecore/internal/cuboid"
	"github.com/arkilian/cubecore/internal/logging"
	"github.com/arkilian/cubecore/internal/measure"
	"github.com/arkilian/cubecore/internal/observability"
	"github.com/arkilian/cubecore/internal/query"
	"github.com/arkilian/cubecore/internal/search"
	"github.com/arkilian/cubecore/internal/server"
	"github.com/arkilian/cubecore/internal/storage"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/rs/zerolog"
)

// NewObjectStorage builds the artifact storage named by cfg.
func NewObjectStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "local", "":
		return storage.NewLocalStorage(cfg.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		s3Cfg.Prefix = cfg.S3.Prefix
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// CubeDimensions returns the cube's dimensions in cuboid bit order.
func CubeDimensions(c config.CubeConfig) []types.Column {
	dims := make([]types.Column, len(c.Dimensions))
	for i, d := range c.Dimensions {
		dims[i] = types.NewColumn(c.FactTable, d)
	}
	return dims
}

// CubeFromConfig builds the query-side cube description.
func CubeFromConfig(c config.CubeConfig) *query.CubeDesc {
	cols := make([]types.Column, len(c.Columns))
	for i, name := range c.Columns {
		cols[i] = types.NewColumn(c.FactTable, name)
	}
	return query.NewCubeDesc(c.Name, c.FactTable, cols, CubeDimensions(c), c.Measures)
}

// ValidateMeasures resolves every cube measure so that misdeclared
// functions or return types fail at startup.
func ValidateMeasures(registry *measure.Registry, c config.CubeConfig) error {
	var errs []error
	for _, m := range c.Measures {
		if _, err := registry.ResolveFunction(m.Function); err != nil {
			errs = append(errs, fmt.Errorf("measure %s: %w", m.Name, err))
		}
	}
	return errors.Join(errs...)
}

// NewStatisticsStore builds the statistics store configured by cfg.
func NewStatisticsStore(objects storage.ObjectStorage, cfg config.StatisticsConfig, logger *zerolog.Logger) *cuboid.Store {
	return cuboid.NewStore(objects, cuboid.StoreOptions{
		Precision:  cfg.Precision,
		MaxEntries: cfg.MaxEntries,
		Compress:   cfg.Compress,
		WorkDir:    cfg.WorkDir,
		Logger:     logger,
	})
}

// usageWindow is how long an unused filter column or cuboid stays listed
// by /v1/usage.
const usageWindow = time.Hour

// App runs the cube-query service.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	shutdown *server.ShutdownManager
	engine   *search.SQLiteEngine
	stats    *cuboid.CachedReader
	server   *http.Server

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New validates cfg and prepares its directories.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	logger := logging.Component("cube-query")
	return &App{
		cfg:      cfg,
		logger:   logger,
		shutdown: server.NewShutdownManager(server.ShutdownConfig{Logger: &logger}),
	}, nil
}

// Handler builds the HTTP handler and opens the resources behind it.
func (a *App) Handler(ctx context.Context) (http.Handler, error) {
	registry, err := measure.Default()
	if err != nil {
		return nil, fmt.Errorf("measure registry: %w", err)
	}
	if err := ValidateMeasures(registry, a.cfg.Cube); err != nil {
		return nil, err
	}

	objects, err := NewObjectStorage(ctx, a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.logger.Info().Str("type", a.cfg.Storage.Type).Msg("storage initialized")

	a.stats, err = cuboid.NewCachedReader(NewStatisticsStore(objects, a.cfg.Statistics, &a.logger), a.cfg.Statistics.CacheMaxCost)
	if err != nil {
		return nil, err
	}
	a.shutdown.Register("statistics cache", server.CloserFunc(func() error { a.stats.Close(); return nil }))

	if n, err := a.stats.Warm(ctx, []string{a.cfg.Statistics.ArtifactPath}, 1); err != nil {
		a.logger.Warn().Err(err).Str("path", a.cfg.Statistics.ArtifactPath).
			Msg("statistics not loaded, cuboid sizes fall back to worst case")
	} else {
		a.logger.Info().Int("artifacts", n).Msg("statistics cache warmed")
	}

	a.engine, err = search.Open(a.cfg.Query.SQLitePath, search.Options{Registry: registry, Logger: &a.logger})
	if err != nil {
		return nil, err
	}
	a.shutdown.Register("search engine", a.engine)
	a.logger.Info().Str("path", a.cfg.Query.SQLitePath).Str("cube", a.cfg.Cube.Name).Msg("search engine opened")

	queryHandler := httpapi.NewQueryHandler(a.engine, CubeFromConfig(a.cfg.Cube), httpapi.QueryHandlerConfig{
		DefaultScanThreshold: a.cfg.Query.DefaultScanThreshold,
		MaxRows:              a.cfg.Query.MaxRows,
		Dimensions:           CubeDimensions(a.cfg.Cube),
		Usage:                observability.NewQueryUsage(usageWindow),
	})
	statsHandler := httpapi.NewStatisticsHandler(a.stats, a.cfg.Statistics.ArtifactPath, CubeDimensions(a.cfg.Cube))
	return httpapi.NewRouter(queryHandler, statsHandler, a.logger, "cube-query", a.shutdown.Middleware), nil
}

// Start opens resources and serves HTTP in the background.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	handler, err := a.Handler(ctx)
	if err != nil {
		a.shutdown.Shutdown(context.Background(), "startup failed")
		return err
	}

	a.server = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterServer("http", a.server)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info().Str("addr", a.cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Msg("HTTP server error")
			go a.shutdown.Shutdown(context.Background(), "server error")
		}
	}()
	return nil
}

// Wait blocks until a signal or ctx ends the process, then shuts down.
func (a *App) Wait(ctx context.Context) error {
	err := a.shutdown.WaitForSignal(ctx)
	a.wg.Wait()
	return err
}

// Stop shuts the service down.
func (a *App) Stop(ctx context.Context) error {
	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()
	return err
}
