// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package redis connects the shared token cache.

Every backend instance must point at the same Redis so that a refresh record
rotated or revoked on one instance is seen by all of them. The refresh
protocol relies on Lua scripts touching several keys at once, which rules
out Redis Cluster; standalone and Sentinel deployments are supported.

URL forms:

  - redis://[:password@]host:port/db
  - rediss://... for TLS
  - redis-sentinel://[:password@]host1:port,host2:port/master?db=0
*/
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
	pingTimeout  = 2 * time.Second

	defaultPoolSize = 10

	sentinelScheme = "redis-sentinel"
)

// Open parses redisURL, connects and pings.
//
// # Parameters
//   - ctx: Context for the initial ping.
//   - redisURL: See the package documentation for accepted forms.
//   - logger: Structured logger for connection events.
func Open(ctx context.Context, redisURL string, logger *slog.Logger) (redis.UniversalClient, error) {
	options, err := parseUniversal(redisURL)
	if err != nil {
		return nil, err
	}

	options.PoolSize = defaultPoolSize
	options.MinIdleConns = 2
	options.DialTimeout = dialTimeout
	options.ReadTimeout = readTimeout
	options.WriteTimeout = writeTimeout

	client := redis.NewUniversalClient(options)

	if err := Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("redis_client_connected",
		slog.Any("addrs", options.Addrs),
		slog.String("master", options.MasterName),
		slog.Int("db", options.DB),
	)

	return client, nil
}

// parseUniversal maps a URL onto [redis.UniversalOptions]. A sentinel URL
// names the master in its path; every other scheme goes through
// [redis.ParseURL].
func parseUniversal(redisURL string) (*redis.UniversalOptions, error) {
	if !strings.HasPrefix(redisURL, sentinelScheme+"://") {
		single, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: invalid URL: %w", err)
		}
		return &redis.UniversalOptions{
			Addrs:     []string{single.Addr},
			Username:  single.Username,
			Password:  single.Password,
			DB:        single.DB,
			TLSConfig: single.TLSConfig,
		}, nil
	}

	parsed, err := url.Parse(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid sentinel URL: %w", err)
	}

	master := strings.Trim(parsed.Path, "/")
	if master == "" {
		return nil, fmt.Errorf("redis: sentinel URL must name the master")
	}

	options := &redis.UniversalOptions{
		Addrs:      strings.Split(parsed.Host, ","),
		MasterName: master,
	}
	if parsed.User != nil {
		options.Password, _ = parsed.User.Password()
	}
	if db := parsed.Query().Get("db"); db != "" {
		options.DB, err = strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("redis: invalid db %q: %w", db, err)
		}
	}
	return options, nil
}

// Ping verifies that the Redis client is healthy.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}

	return nil
}
