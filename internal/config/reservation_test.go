package config

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
)

func TestLoadReservationConfig_Defaults(t *testing.T) {
    c := LoadReservationConfig()
    assert.Equal(t, 5*time.Minute, c.HoldTTL)
    assert.True(t, c.RefreshOnRelock)
    assert.Equal(t, 250*time.Millisecond, c.StoreTimeout)
    assert.Equal(t, "hold", c.KeyPrefix)
    assert.Equal(t, 15*time.Minute, c.OrderPendingTTL)
    assert.Equal(t, 30*time.Second, c.SweepInterval)
    assert.True(t, c.ReleaseOnDisconnect)
}

func TestLoadReservationConfig_OverridesAndClamps(t *testing.T) {
    t.Setenv("RESERVATION_HOLD_TTL", "90s")
    t.Setenv("RESERVATION_REFRESH_ON_RELOCK", "false")
    t.Setenv("SWEEP_INTERVAL", "10ms")
    t.Setenv("ORDER_PENDING_TTL", "garbage")
    c := LoadReservationConfig()
    assert.Equal(t, 90*time.Second, c.HoldTTL)
    assert.False(t, c.RefreshOnRelock)
    assert.Equal(t, time.Second, c.SweepInterval)
    assert.Equal(t, 15*time.Minute, c.OrderPendingTTL)
}

func TestLoadRateLimitConfig_BurstAlias(t *testing.T) {
    t.Setenv("RATE_LIMIT_BURST", "5")
    t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
    c := LoadRateLimitConfig()
    assert.Equal(t, 5, c.Capacity)
    assert.Equal(t, 1, c.RefillTokens)
    assert.Equal(t, 2*time.Second, c.RefillInterval)
    assert.Equal(t, 10*time.Minute, c.TTL)
}

func TestLoadRedisConfig(t *testing.T) {
    t.Setenv("REDIS_ADDR", "cache:7000")
    assert.Equal(t, "cache:7000", LoadRedisConfig().Addr)

    t.Setenv("REDIS_HOST", "redis")
    t.Setenv("REDIS_PORT", "6380")
    t.Setenv("REDIS_TLS", "on")
    c := LoadRedisConfig()
    assert.Equal(t, "redis:6380", c.Addr)
    assert.True(t, c.TLS)
}
