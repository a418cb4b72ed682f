package config

// Redis holds the checkout reservations, carries the cross-process room
// relay and backs distributed rate limiting.  If Redis cannot be reached
// at startup NewRedisClient returns nil and the server runs alone with
// in-process holds, local-only room delivery and no rate limiting.

import (
    "context"
    "crypto/tls"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig is read from REDIS_ADDR (or REDIS_HOST + REDIS_PORT),
// REDIS_PASSWORD, REDIS_DB and REDIS_TLS.
type RedisConfig struct {
    Addr     string
    Password string
    DB       int
    TLS      bool
    // Per-command deadlines stay below a second; the hold store adds
    // its own tighter bound on top.
    DialTimeout  time.Duration
    ReadTimeout  time.Duration
    WriteTimeout time.Duration
}

func LoadRedisConfig() RedisConfig {
    c := RedisConfig{
        Addr:         envStr("REDIS_ADDR", "localhost:6379"),
        Password:     envStr("REDIS_PASSWORD", ""),
        DB:           envInt("REDIS_DB", 0),
        TLS:          envBool("REDIS_TLS", false),
        DialTimeout:  envDur("REDIS_DIAL_TIMEOUT", time.Second),
        ReadTimeout:  envDur("REDIS_READ_TIMEOUT", 500*time.Millisecond),
        WriteTimeout: envDur("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
    }
    host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", "")
    if host != "" && port != "" {
        c.Addr = host + ":" + port
    }
    return c
}

// NewRedisClient connects with LoadRedisConfig and pings once.  It
// returns nil when the server does not answer within two seconds.
func NewRedisClient() *redis.Client {
    c := LoadRedisConfig()
    opts := &redis.Options{
        Addr:         c.Addr,
        Password:     c.Password,
        DB:           c.DB,
        DialTimeout:  c.DialTimeout,
        ReadTimeout:  c.ReadTimeout,
        WriteTimeout: c.WriteTimeout,
    }
    if c.TLS {
        opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(opts)

    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}
