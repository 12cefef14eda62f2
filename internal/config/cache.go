package config

import "time"

// StatsCacheConfig configures the Redis cache in front of the analytics
// projections.  Focus and site reads are never cached.  Entries are
// dropped early when the account records a session or a blocked attempt,
// so TTL only bounds how stale "today" can get across midnight.
type StatsCacheConfig struct {
    Enabled      bool
    TTL          time.Duration
    Prefix       string
    MaxBodyBytes int
}

func LoadStatsCacheConfig() StatsCacheConfig {
    cfg := StatsCacheConfig{
        Enabled:      envBool("STATS_CACHE_ENABLED", true),
        TTL:          envDur("STATS_CACHE_TTL", time.Minute),
        Prefix:       envStr("STATS_CACHE_PREFIX", "brick:stats"),
        MaxBodyBytes: envInt("STATS_CACHE_MAX_BODY_BYTES", 64<<10),
    }
    if cfg.TTL <= 0 {
        cfg.TTL = time.Minute
    }
    return cfg
}
