package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/brick-focus/internal/config"
	"github.com/iliyamo/brick-focus/internal/utils"
)

const secret = "test-secret"

func runJWT(t *testing.T, allowQuery bool, target, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	h := JWTAuth(secret, allowQuery)(func(c echo.Context) error {
		seen = AccountID(c)
		return c.NoContent(http.StatusNoContent)
	})
	require.NoError(t, h(c))
	return rec, seen
}

func TestJWTAuth(t *testing.T) {
	tok, err := utils.NewAccessToken(secret, "acct-1", "cli", time.Hour)
	require.NoError(t, err)

	rec, acct := runJWT(t, false, "/v1/focus", "Bearer "+tok.Token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "acct-1", acct)

	rec, _ = runJWT(t, false, "/v1/focus", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = runJWT(t, false, "/v1/focus", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = runJWT(t, false, "/v1/realtime?token="+tok.Token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "query token only honoured when allowed")

	rec, acct = runJWT(t, true, "/v1/realtime?token="+tok.Token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "acct-1", acct)

	other, err := utils.NewAccessToken("other-secret", "acct-1", "cli", time.Hour)
	require.NoError(t, err)
	rec, _ = runJWT(t, false, "/v1/focus", "Bearer "+other.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func ctxFor(account, target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "10.0.0.1:5555"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/stats")
	if account != "" {
		c.Set(AccountKey, account)
	}
	return c
}

func TestBucketKey(t *testing.T) {
	rl := config.LoadRateLimitConfig()
	assert.Equal(t, "brick:rl:api:acct:a1", bucketKey(rl.Prefix, rl.API, ctxFor("a1", "/v1/stats")))
	assert.Equal(t, "brick:rl:api:acct:anon", bucketKey(rl.Prefix, rl.API, ctxFor("", "/v1/stats")))
	assert.Equal(t, "brick:rl:verify:ip:10.0.0.1", bucketKey(rl.Prefix, rl.Verify, ctxFor("a1", "/")))
}

func TestCacheKeyPerAccountAndGeneration(t *testing.T) {
	a := cacheKey("brick:stats", "a1", "0", "/v1/stats", "")
	assert.Equal(t, a, cacheKey("brick:stats", "a1", "0", "/v1/stats", ""))
	assert.NotEqual(t, a, cacheKey("brick:stats", "a2", "0", "/v1/stats", ""))
	assert.NotEqual(t, a, cacheKey("brick:stats", "a1", "1", "/v1/stats", ""))
	assert.NotEqual(t, a, cacheKey("brick:stats", "a1", "0", "/v1/stats/history", ""))
	assert.True(t, strings.HasPrefix(a, "brick:stats:a1:0:"))
}

func TestBodyRecorderDropsOversizedBodies(t *testing.T) {
	rr := httptest.NewRecorder()
	r := &bodyRecorder{ResponseWriter: rr, status: http.StatusOK, limit: 8}
	_, _ = r.Write([]byte("1234"))
	assert.Equal(t, "1234", r.buf.String())
	_, _ = r.Write([]byte("56789"))
	assert.True(t, r.overflow)
	assert.Equal(t, 0, r.buf.Len())
	assert.Equal(t, "123456789", rr.Body.String(), "client still gets everything")
}

func TestPassThroughWithoutRedis(t *testing.T) {
	called := 0
	next := func(c echo.Context) error { called++; return nil }
	rl := config.LoadRateLimitConfig()
	require.NoError(t, NewTokenBucket(rl, rl.API, nil, zap.NewNop().Sugar())(next)(ctxFor("a", "/")))

	sc := NewStatsCache(config.LoadStatsCacheConfig(), nil, zap.NewNop().Sugar())
	assert.Nil(t, sc)
	require.NoError(t, sc.Serve()(next)(ctxFor("a", "/")))
	require.NoError(t, sc.Invalidate()(next)(ctxFor("a", "/")))
	assert.Equal(t, 3, called)
}

func TestRequestLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := echo.New()
	e.Use(RequestLog(zap.New(core).Sugar()))
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/v1/focus", func(c echo.Context) error {
		c.Set(AccountKey, "acct-1")
		return c.NoContent(http.StatusOK)
	})

	for _, target := range []string{"/healthz", "/v1/focus"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "acct-1", entries[1].ContextMap()["account_id"])
	assert.EqualValues(t, http.StatusOK, entries[1].ContextMap()["status"])
}
