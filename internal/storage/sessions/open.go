package sessions

import (
	"context"
	"fmt"
	"log/slog"

	"medportal/internal/auth"
	"medportal/internal/platform/pg"
	"medportal/internal/platform/rdb"
	"medportal/internal/platform/sqlite"
	"medportal/internal/shared"
)

// Backend names a session store implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Config selects and locates the session store.
type Config struct {
	Backend     Backend
	SQLitePath  string
	PostgresDSN string
	RedisURL    string
	RedisPrefix string
}

// Opened is a ready store together with the function releasing its connections.
type Opened struct {
	Store auth.Store
	// Ping reports whether the backing database is reachable.
	Ping  func(ctx context.Context) error
	Close func() error
}

// Open connects to the configured backend, migrating SQL schemas first.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Opened, error) {
	if log == nil {
		log = slog.Default()
	}
	switch cfg.Backend {
	case BackendSQLite, "":
		db, err := sqlite.NewDB(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, shared.Wrap(err, "open sqlite")
		}
		st, err := NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.InfoContext(ctx, "session store ready", "backend", BackendSQLite, "path", cfg.SQLitePath)
		return &Opened{Store: st, Ping: db.PingContext, Close: db.Close}, nil

	case BackendPostgres:
		opts := pg.DefaultPoolOptions()
		opts.PingTimeout = 0
		pool, err := pg.NewPoolWithOptions(ctx, cfg.PostgresDSN, opts)
		if err != nil {
			return nil, shared.Wrap(err, "open postgres")
		}
		if err := pg.WaitForDB(ctx, pool, pg.DefaultHealthCheckOptions()); err != nil {
			pool.Close()
			return nil, err
		}
		if err := MigratePostgres(cfg.PostgresDSN); err != nil {
			pool.Close()
			return nil, err
		}
		log.InfoContext(ctx, "session store ready", "backend", BackendPostgres)
		return &Opened{
			Store: NewPostgresStore(pool),
			Ping:  func(ctx context.Context) error { return pg.HealthCheck(ctx, pool) },
			Close: func() error { pool.Close(); return nil },
		}, nil

	case BackendRedis:
		client, err := rdb.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, shared.Wrap(err, "open redis")
		}
		log.InfoContext(ctx, "session store ready", "backend", BackendRedis)
		return &Opened{
			Store: NewRedisStore(client, cfg.RedisPrefix),
			Ping:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
			Close: client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Backend)
	}
}
