package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions builds client options from the environment.  REDIS_URL
// (redis:// or rediss://) wins; otherwise REDIS_HOST/REDIS_PORT or
// REDIS_ADDR, REDIS_PASSWORD, REDIS_DB and REDIS_TLS are read.
func RedisOptions() (*redis.Options, error) {
	if url := envStr("REDIS_URL", ""); url != "" {
		opt, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		return opt, nil
	}

	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", ""); host != "" && port != "" {
		addr = net.JoinHostPort(host, port)
	}
	opt := &redis.Options{
		Addr:         addr,
		Password:     envStr("REDIS_PASSWORD", ""),
		DB:           envInt("REDIS_DB", 0),
		DialTimeout:  envDur("REDIS_DIAL_TIMEOUT", 2*time.Second),
		ReadTimeout:  envDur("REDIS_READ_TIMEOUT", time.Second),
		WriteTimeout: envDur("REDIS_WRITE_TIMEOUT", time.Second),
	}
	if v := strings.ToLower(envStr("REDIS_TLS", "")); v == "true" || v == "1" {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt, nil
}

// NewRedisClient connects and pings.  Redis carries only derived state
// (live feed, last-good rate, rate limit buckets, board cache), so callers
// treat an error as "run without those features".
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	opt, err := RedisOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opt.Addr, err)
	}
	return client, nil
}
