package pg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"medportal/pkg/retry"
)

// Pinger - то, что умеет проверять доступность БД (например, *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheckOptions содержит опции ожидания доступности БД.
type HealthCheckOptions struct {
	// MaxRetries - максимальное количество попыток (0 = до таймаута контекста)
	MaxRetries int
	// InitialInterval - начальная задержка между попытками
	InitialInterval time.Duration
	// MaxInterval - максимальная задержка между попытками
	MaxInterval time.Duration
	// PingTimeout - таймаут для каждой попытки ping
	PingTimeout time.Duration
}

// DefaultHealthCheckOptions возвращает опции по умолчанию.
func DefaultHealthCheckOptions() HealthCheckOptions {
	return HealthCheckOptions{
		MaxRetries:      10,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		PingTimeout:     5 * time.Second,
	}
}

// WaitForDB ожидает доступности БД с экспоненциальной задержкой между попытками.
// Возвращает nil при успешном ping или ошибку при превышении лимитов.
func WaitForDB(ctx context.Context, db Pinger, opts HealthCheckOptions) error {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = opts.MaxRetries
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = math.MaxInt32 // до отмены контекста
	}
	cfg.InitialDelay = opts.InitialInterval
	cfg.MaxDelay = opts.MaxInterval
	cfg.Jitter = false

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return ping(ctx, db, opts.PingTimeout)
	}, func(error) bool {
		// Любая ошибка ping - повод подождать ещё
		return ctx.Err() == nil
	})
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			return fmt.Errorf("database not available after %d attempts: %w", ex.Attempts, ex.LastError)
		}
		return fmt.Errorf("wait for database: %w", err)
	}
	return nil
}

// HealthCheck выполняет разовую проверку доступности БД.
func HealthCheck(ctx context.Context, db Pinger) error {
	if db == nil {
		return errors.New("pool is nil")
	}
	return ping(ctx, db, 5*time.Second)
}

func ping(ctx context.Context, db Pinger, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
