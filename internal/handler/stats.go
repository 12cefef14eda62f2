package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/brick-focus/internal/middleware"
    "github.com/iliyamo/brick-focus/internal/stats"
)

// streakHorizonDays bounds how far back sessions are read for the streak.
const streakHorizonDays = 366

// Stats handles GET /v1/stats.  Analytics are best effort: a read failure
// yields zeroed numbers with status 200, never an error.
func (h *API) Stats(c echo.Context) error {
    acct := middleware.AccountID(c)
    ctx := c.Request().Context()
    now := h.now()

    sessions, err := h.Sessions.List(ctx, acct, stats.StartOfDay(now).AddDate(0, 0, -streakHorizonDays), 0)
    if err != nil {
        h.Log.Warnw("stats: sessions unavailable", "account", acct, "err", err)
        return c.JSON(http.StatusOK, stats.Empty())
    }
    // all attempts: the weekly numbers window themselves, the top list
    // is all-time
    attempts, err := h.Attempts.List(ctx, acct, epoch)
    if err != nil {
        h.Log.Warnw("stats: attempts unavailable", "account", acct, "err", err)
        return c.JSON(http.StatusOK, stats.Empty())
    }
    return c.JSON(http.StatusOK, stats.All(now, sessions, attempts))
}

// History handles GET /v1/stats/history: totals over every session.
func (h *API) History(c echo.Context) error {
    sessions, err := h.Sessions.List(c.Request().Context(), middleware.AccountID(c), epoch, 0)
    if err != nil {
        h.Log.Warnw("stats: history unavailable", "err", err)
        return c.JSON(http.StatusOK, stats.History(nil))
    }
    return c.JSON(http.StatusOK, stats.History(sessions))
}
