package config

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "os"
    "time"

    "github.com/redis/go-redis/v9"
)

// ErrRedisDisabled is returned by NewRedisClient when REDIS_DISABLED is set.
var ErrRedisDisabled = errors.New("redis disabled")

// RedisConfig locates the Redis that backs rate limiting, the stats cache
// and the change fan-out between server instances.  REDIS_HOST and
// REDIS_PORT win over REDIS_ADDR.
type RedisConfig struct {
    Disabled bool
    Addr     string
    Password string
    DB       int
    TLS      bool
}

func LoadRedisConfig() RedisConfig {
    cfg := RedisConfig{
        Disabled: envBool("REDIS_DISABLED", false),
        Addr:     envStr("REDIS_ADDR", "localhost:6379"),
        Password: os.Getenv("REDIS_PASSWORD"),
        DB:       envInt("REDIS_DB", 0),
        TLS:      envBool("REDIS_TLS", false),
    }
    if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
        cfg.Addr = net.JoinHostPort(host, port)
    }
    return cfg
}

// NewRedisClient connects and pings.  On any error the caller runs
// without Redis: no rate limit, no stats cache, in-process change dispatch.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
    if cfg.Disabled {
        return nil, ErrRedisDisabled
    }
    opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
    if cfg.TLS {
        opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    rdb := redis.NewClient(opts)
    pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := rdb.Ping(pctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, err
    }
    return rdb, nil
}
