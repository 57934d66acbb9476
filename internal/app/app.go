// Package app wires configuration into a running progress engine: the
// snapshot store for the configured driver, the event sinks, the
// coordinator and the query handlers. The server and the CLI both build
// on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alem-hub/learning-progress/config"
	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/application/query"
	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/infrastructure/messaging"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/retrystore"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// App is a fully wired engine.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Topology *curriculum.Topology
	Store    progress.SnapshotStore
	Bus      *messaging.InMemoryEventBus

	Coordinator     *command.Coordinator
	GetProgress     *query.GetProgressHandler
	ExportAnalytics *query.ExportAnalyticsHandler

	// Checks are named liveness probes for the backing services.
	Checks map[string]func(ctx context.Context) error

	closers []func() error
}

// NewLogger builds the service logger from configuration.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// New builds an App. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	if log == nil {
		log = logger.Nop()
	}

	a := &App{
		Config: cfg,
		Logger: log,
		Checks: make(map[string]func(ctx context.Context) error),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve timezone: %w", err)
	}

	a.Topology, err = curriculum.LoadOrDefault(cfg.Engine.CurriculumPath)
	if err != nil {
		return nil, fmt.Errorf("load curriculum: %w", err)
	}
	log.Info("curriculum loaded",
		logger.Int("modules", len(a.Topology.Modules())),
		logger.Int("lessons", a.Topology.TotalLessons()),
	)

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = redis.NewClient(ctx, redisConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, redisClient.Close)
		a.Checks["redis"] = redisClient.Ping
		log.Info("redis connection established", logger.String("addr", cfg.Redis.Addr))
	}

	store, err := a.openStore(ctx, redisClient)
	if err != nil {
		return nil, err
	}
	a.Store = retrystore.New(store, retrystore.Config{
		Attempts:     cfg.Store.RetryAttempts,
		InitialDelay: cfg.Store.RetryDelay,
		Logger:       log,
	})

	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	a.Bus = messaging.NewInMemoryEventBus(busConfig)
	a.closers = append(a.closers, a.Bus.Close)

	if err := a.Bus.SubscribeAll(messaging.LogHandler(log)); err != nil {
		return nil, err
	}
	if cfg.Redis.PublishEvents && redisClient != nil {
		publisher := messaging.NewRedisPublisher(redisClient, messaging.RedisPublisherConfig{
			Channel: redisClient.EventChannel(),
			Timeout: cfg.Redis.WriteTimeout,
			Logger:  log,
		})
		if err := a.Bus.SubscribeAll(publisher.Handler()); err != nil {
			return nil, err
		}
	}

	a.Coordinator = command.NewCoordinator(a.Store, a.Topology, a.Bus, log, command.CoordinatorConfig{
		StrictReferences: cfg.Engine.StrictReferences,
		Location:         loc,
	})
	a.GetProgress = query.NewGetProgressHandler(a.Store, a.Topology, nil)
	a.ExportAnalytics = query.NewExportAnalyticsHandler(a.Store, a.Topology, nil)

	return a, nil
}

func (a *App) openStore(ctx context.Context, redisClient *redis.Client) (progress.SnapshotStore, error) {
	cfg := a.Config

	switch cfg.Store.Driver {
	case config.DriverMemory:
		a.Logger.Warn("using in-memory store, progress is lost on exit")
		return memory.NewStore(), nil

	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.Checks["sqlite"] = s.Ping
		a.Logger.Info("sqlite store opened", logger.String("path", cfg.SQLite.Path))
		return s, nil

	case config.DriverPostgres:
		conn, err := postgres.NewConnection(ctx, PostgresConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { conn.Close(); return nil })
		a.Checks["postgres"] = conn.Ping

		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.Logger.Info("postgres schema is up to date", logger.Int("applied", applied))
		return postgres.NewSnapshotRepository(conn), nil

	case config.DriverRedis:
		if redisClient == nil {
			return nil, errors.New("redis driver selected without a redis client")
		}
		return redis.NewSnapshotStore(redisClient), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.Logger.Sync()
	return errors.Join(errs...)
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = cfg.Redis.Addr
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	rc.KeyPrefix = cfg.Redis.KeyPrefix
	return rc
}

// PostgresConfig maps DB_* settings onto the pool configuration.
func PostgresConfig(cfg *config.Config) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = cfg.Database.URL
	pc.MaxConns = cfg.Database.MaxConns
	pc.MinConns = cfg.Database.MinConns
	pc.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pc.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	return pc
}
