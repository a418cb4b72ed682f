package config

import "time"

// ReservationConfig tunes holds, pending orders and the sweeper.
type ReservationConfig struct {
    HoldTTL             time.Duration // lifetime of a checkout hold
    RefreshOnRelock     bool          // re-locking an owned seat extends its expiry
    StoreTimeout        time.Duration // per-call bound on reservation store calls
    StoreRetry          time.Duration // wait before probing a failed store again
    KeyPrefix           string        // namespace of hold keys and relay channels
    OrderPendingTTL     time.Duration // payment deadline of a pending order
    SweepInterval       time.Duration // expiry sweeper period
    ReleaseOnDisconnect bool          // drop a session's holds when its socket closes
}

func LoadReservationConfig() ReservationConfig {
    c := ReservationConfig{
        HoldTTL:             envDur("RESERVATION_HOLD_TTL", 5*time.Minute),
        RefreshOnRelock:     envBool("RESERVATION_REFRESH_ON_RELOCK", true),
        StoreTimeout:        envDur("RESERVATION_STORE_TIMEOUT", 250*time.Millisecond),
        StoreRetry:          envDur("RESERVATION_STORE_RETRY", 10*time.Second),
        KeyPrefix:           envStr("RESERVATION_KEY_PREFIX", "hold"),
        OrderPendingTTL:     envDur("ORDER_PENDING_TTL", 15*time.Minute),
        SweepInterval:       envDur("SWEEP_INTERVAL", 30*time.Second),
        ReleaseOnDisconnect: envBool("RELEASE_ON_DISCONNECT", true),
    }
    if c.HoldTTL < time.Second { c.HoldTTL = time.Second }
    if c.StoreTimeout <= 0 { c.StoreTimeout = 250 * time.Millisecond }
    if c.StoreRetry <= 0 { c.StoreRetry = 10 * time.Second }
    if c.OrderPendingTTL < time.Minute { c.OrderPendingTTL = time.Minute }
    if c.SweepInterval < time.Second { c.SweepInterval = time.Second }
    return c
}
