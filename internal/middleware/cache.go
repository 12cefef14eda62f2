package middleware

import (
    "bytes"
    "crypto/sha1"
    "encoding/hex"
    "encoding/json"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/iliyamo/brick-focus/internal/config"
)

// StatsCache caches the per-account analytics responses in Redis.  Every
// account has a generation counter in its keys; Invalidate bumps it after
// a write that changes the numbers, which orphans the old entries until
// their TTL runs out.  A nil *StatsCache is valid and caches nothing.
type StatsCache struct {
    cfg config.StatsCacheConfig
    rdb *redis.Client
    lg  *zap.SugaredLogger
}

// NewStatsCache returns nil when caching is disabled or Redis is absent.
func NewStatsCache(cfg config.StatsCacheConfig, rdb *redis.Client, lg *zap.SugaredLogger) *StatsCache {
    if !cfg.Enabled || rdb == nil {
        return nil
    }
    return &StatsCache{cfg: cfg, rdb: rdb, lg: lg}
}

type cachedResponse struct {
    ContentType string `json:"contentType"`
    Body        []byte `json:"body"`
}

// Serve answers GETs from the cache and stores 200 responses on a miss.
// Responses carry X-Cache: HIT or MISS.
func (s *StatsCache) Serve() echo.MiddlewareFunc {
    if s == nil {
        return passThrough
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            acct := AccountID(c)
            if c.Request().Method != http.MethodGet || acct == "" {
                return next(c)
            }
            ctx := c.Request().Context()
            gen, err := s.rdb.Get(ctx, s.genKey(acct)).Result()
            if err == redis.Nil {
                gen = "0"
            } else if err != nil {
                return next(c)
            }
            key := s.entryKey(acct, gen, c)

            if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
                var hit cachedResponse
                if json.Unmarshal(raw, &hit) == nil {
                    c.Response().Header().Set("X-Cache", "HIT")
                    return c.Blob(http.StatusOK, hit.ContentType, hit.Body)
                }
            }

            rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: s.cfg.MaxBodyBytes}
            c.Response().Writer = rec
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if rec.status != http.StatusOK || rec.overflow {
                return nil
            }
            raw, _ := json.Marshal(cachedResponse{
                ContentType: c.Response().Header().Get(echo.HeaderContentType),
                Body:        rec.buf.Bytes(),
            })
            if err := s.rdb.Set(ctx, key, raw, s.cfg.TTL).Err(); err != nil {
                s.lg.Debugw("stats cache store failed", "err", err)
            }
            return nil
        }
    }
}

// Invalidate bumps the account's generation after a successful write.
func (s *StatsCache) Invalidate() echo.MiddlewareFunc {
    if s == nil {
        return passThrough
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if err := next(c); err != nil {
                return err
            }
            status := c.Response().Status
            if acct := AccountID(c); acct != "" && status >= 200 && status < 300 {
                if err := s.rdb.Incr(c.Request().Context(), s.genKey(acct)).Err(); err != nil {
                    s.lg.Warnw("stats cache invalidation failed", "account_id", acct, "err", err)
                }
            }
            return nil
        }
    }
}

func (s *StatsCache) genKey(acct string) string {
    return s.cfg.Prefix + ":gen:" + acct
}

func (s *StatsCache) entryKey(acct, gen string, c echo.Context) string {
    return cacheKey(s.cfg.Prefix, acct, gen, c.Path(), c.Request().URL.RawQuery)
}

func cacheKey(prefix, acct, gen, route, query string) string {
    sum := sha1.Sum([]byte(route + "?" + query))
    return prefix + ":" + acct + ":" + gen + ":" + hex.EncodeToString(sum[:])
}

// bodyRecorder tees the response into buf until limit bytes.
type bodyRecorder struct {
    http.ResponseWriter
    status   int
    limit    int
    buf      bytes.Buffer
    overflow bool
}

func (r *bodyRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
    if !r.overflow {
        if r.limit > 0 && r.buf.Len()+len(b) > r.limit {
            r.overflow = true
            r.buf.Reset()
        } else {
            r.buf.Write(b)
        }
    }
    return r.ResponseWriter.Write(b)
}
