package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/brick-focus/internal/handler"
	"github.com/iliyamo/brick-focus/internal/middleware"
	"github.com/iliyamo/brick-focus/internal/realtime"
)

// V1 carries what RegisterV1 needs besides the handlers themselves.
type V1 struct {
	JWTSecret string
	Limit     echo.MiddlewareFunc // general token bucket
	Verify    echo.MiddlewareFunc // tighter bucket for code verification
	Stats     *middleware.StatsCache
	Hub       *realtime.Hub
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func orPass(m echo.MiddlewareFunc) echo.MiddlewareFunc {
	if m == nil {
		return passThrough
	}
	return m
}

// RegisterV1 registers the account-scoped record store under /v1 and the
// unauthenticated link-code verification route.
func RegisterV1(e *echo.Echo, a *handler.API, o V1) {
	e.POST("/link-codes/verify", a.VerifyLinkCode, orPass(o.Verify))

	// The push channel is long-lived and authenticates once at upgrade, so
	// it sits outside the rate-limited group.
	e.GET("/v1/realtime", handler.Realtime(o.Hub), middleware.JWTAuth(o.JWTSecret, true))

	// JWTAuth runs before the limiter so buckets are keyed by account.
	g := e.Group("/v1", middleware.JWTAuth(o.JWTSecret, false), orPass(o.Limit))

	g.GET("/focus", a.GetFocus)
	g.PATCH("/focus", a.PatchFocus)

	g.GET("/sites", a.ListSites)
	g.POST("/sites", a.AddSite)
	g.DELETE("/sites/:domain", a.RemoveSite)

	// Session and attempt writes move the analytics, so they drop the
	// account's cached stats.
	g.POST("/sessions", a.OpenSession, o.Stats.Invalidate())
	g.GET("/sessions", a.ListSessions)
	g.PATCH("/sessions/:id/close", a.CloseSession, o.Stats.Invalidate())

	g.POST("/attempts", a.LogAttempt, o.Stats.Invalidate())
	g.GET("/attempts", a.ListAttempts)

	g.GET("/stats", a.Stats, o.Stats.Serve())
	g.GET("/stats/history", a.History, o.Stats.Serve())

	g.POST("/link-codes", a.IssueLinkCode)
}
