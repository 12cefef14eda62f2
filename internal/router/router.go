package router // package router registers every HTTP route of the record store

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/brick-focus/internal/handler"
)

// RegisterRoutes registers the unauthenticated probes.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
}

// RegisterRelay registers the global relay surface used by NFC hardware
// and for manual testing.  It is unauthenticated and holds no account data.
func RegisterRelay(e *echo.Echo, r *handler.Relay) {
	g := e.Group("/api")
	g.GET("/status", r.Status)
	g.POST("/toggle", r.Toggle)
	g.POST("/nfc-tap", r.NFCTap)
	g.GET("/ws", r.Listen)
}
