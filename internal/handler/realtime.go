package handler

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/brick-focus/internal/middleware"
    "github.com/iliyamo/brick-focus/internal/realtime"
)

// Realtime handles GET /v1/realtime by upgrading to the push channel.  The
// socket is scoped to the token's account; Serve blocks until it closes.
func Realtime(hub *realtime.Hub) echo.HandlerFunc {
    return func(c echo.Context) error {
        ws, err := realtime.Upgrader.Upgrade(c.Response(), c.Request(), nil)
        if err != nil {
            // Upgrade has already written the error response.
            return nil
        }
        hub.Serve(ws, middleware.AccountID(c))
        return nil
    }
}
