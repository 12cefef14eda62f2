package config

import "time"

// Bucket is one token bucket: Capacity requests, one token back every
// Refill.  PerAccount buckets are keyed by the authenticated account and
// must sit behind JWTAuth; the others are keyed by client IP.
type Bucket struct {
    Name       string
    Capacity   int
    Refill     time.Duration
    PerAccount bool
}

// Expiry is how long an idle bucket is kept: long enough to refill fully.
func (b Bucket) Expiry() time.Duration {
    return time.Duration(b.Capacity+1) * b.Refill
}

// RateLimitConfig configures the Redis token buckets.  Clients poll every
// 10-30s and toggle rarely, so API is generous.  Verify guards the
// unauthenticated link-code redemption and is tight enough that six digit
// codes cannot be walked within their five minute life.
type RateLimitConfig struct {
    Enabled bool
    Prefix  string
    API     Bucket
    Verify  Bucket
}

func LoadRateLimitConfig() RateLimitConfig {
    cfg := RateLimitConfig{
        Enabled: envBool("RATE_LIMIT_ENABLED", true),
        Prefix:  envStr("RATE_LIMIT_PREFIX", "brick:rl"),
        API: Bucket{
            Name:       "api",
            Capacity:   envInt("RATE_LIMIT_CAPACITY", 60),
            Refill:     envDur("RATE_LIMIT_REFILL", time.Second),
            PerAccount: true,
        },
        Verify: Bucket{
            Name:     "verify",
            Capacity: envInt("RATE_LIMIT_VERIFY_CAPACITY", 5),
            Refill:   envDur("RATE_LIMIT_VERIFY_REFILL", 12*time.Second),
        },
    }
    cfg.API = cfg.API.sane()
    cfg.Verify = cfg.Verify.sane()
    return cfg
}

func (b Bucket) sane() Bucket {
    if b.Capacity < 1 {
        b.Capacity = 1
    }
    if b.Refill <= 0 {
        b.Refill = time.Second
    }
    return b
}
