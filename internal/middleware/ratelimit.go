package middleware

import (
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/iliyamo/brick-focus/internal/config"
)

// takeToken refills KEYS[1] by whole Refill periods since its last refill,
// then spends one token if there is one.  Returns {allowed, remaining,
// wait_ms}.
var takeToken = redis.NewScript(`
    local capacity  = tonumber(ARGV[1])
    local refill_ms = tonumber(ARGV[2])
    local now_ms    = tonumber(ARGV[3])

    local s = redis.call('HMGET', KEYS[1], 'tokens', 'refilled_ms')
    local tokens = tonumber(s[1]) or capacity
    local refilled = tonumber(s[2]) or now_ms

    local periods = math.floor(math.max(0, now_ms - refilled) / refill_ms)
    if periods > 0 then
        tokens = math.min(capacity, tokens + periods)
        refilled = refilled + periods * refill_ms
    end

    local allowed, wait = 0, 0
    if tokens >= 1 then
        allowed = 1
        tokens = tokens - 1
    else
        wait = refill_ms - (now_ms - refilled)
    end

    redis.call('HSET', KEYS[1], 'tokens', tokens, 'refilled_ms', refilled)
    redis.call('PEXPIRE', KEYS[1], (capacity + 1) * refill_ms)
    return {allowed, tokens, wait}
`)

// NewTokenBucket limits requests with bucket b, kept in Redis so every
// server instance shares it.  Without Redis, or with limiting disabled, it
// passes everything through.  A Redis error fails open.
func NewTokenBucket(cfg config.RateLimitConfig, b config.Bucket, rdb *redis.Client, lg *zap.SugaredLogger) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return passThrough
    }
    limit := strconv.Itoa(b.Capacity)
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := bucketKey(cfg.Prefix, b, c)
            res, err := takeToken.Run(c.Request().Context(), rdb, []string{key},
                b.Capacity, b.Refill.Milliseconds(), time.Now().UnixMilli()).Int64Slice()
            if err != nil || len(res) != 3 {
                lg.Warnw("rate limit check failed", "key", key, "err", err)
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", limit)
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
            if res[0] == 1 {
                return next(c)
            }
            secs := (res[2] + 999) / 1000
            h.Set("Retry-After", strconv.FormatInt(secs, 10))
            lg.Debugw("rate limited", "key", key, "retry_after", secs)
            return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate_limited", "retryAfter": secs})
        }
    }
}

// bucketKey is prefix:bucket:acct:<id> for per-account buckets and
// prefix:bucket:ip:<addr> otherwise.
func bucketKey(prefix string, b config.Bucket, c echo.Context) string {
    if b.PerAccount {
        return prefix + ":" + b.Name + ":acct:" + accountOrAnon(c)
    }
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    return prefix + ":" + b.Name + ":ip:" + ip
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
