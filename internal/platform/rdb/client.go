// Package rdb открывает подключение к Redis по URL и проверяет его.
package rdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options содержит настройки клиента Redis.
type Options struct {
	// PingTimeout - таймаут для проверки соединения при создании клиента
	PingTimeout time.Duration
	// PoolSize - размер пула соединений (0 = по умолчанию go-redis)
	PoolSize int
	// DialTimeout - таймаут установки соединения
	DialTimeout time.Duration
}

// DefaultOptions возвращает настройки по умолчанию.
func DefaultOptions() Options {
	return Options{
		PingTimeout: 5 * time.Second,
		DialTimeout: 5 * time.Second,
	}
}

// NewClient создает клиента по URL вида redis://[:password@]host:port/db
// с настройками по умолчанию.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	return NewClientWithOptions(ctx, url, DefaultOptions())
}

// NewClientWithOptions создает клиента с заданными параметрами и проверяет соединение.
func NewClientWithOptions(ctx context.Context, url string, opts Options) (*redis.Client, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		ro.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		ro.DialTimeout = opts.DialTimeout
	}

	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
