package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/brick-focus/internal/middleware"
    "github.com/iliyamo/brick-focus/internal/model"
    "github.com/iliyamo/brick-focus/internal/queue"
    "github.com/iliyamo/brick-focus/internal/repository"
)

// GetFocus handles GET /v1/focus.
func (h *API) GetFocus(c echo.Context) error {
    rec, err := h.Focus.Get(c.Request().Context(), middleware.AccountID(c))
    if err != nil {
        return serverError(c, h.Log, "could not read focus record", err)
    }
    return c.JSON(http.StatusOK, rec)
}

// PatchFocus handles PATCH /v1/focus.  The response is always the record
// as stored after the request; a failed precondition answers 409 with
// error "stale_write" so the client can adopt the record silently.
func (h *API) PatchFocus(c echo.Context) error {
    acct := middleware.AccountID(c)
    var patch model.FocusPatch
    if err := c.Bind(&patch); err != nil {
        return errJSON(c, http.StatusBadRequest, "invalid request body")
    }
    if patch.TimerDurationSeconds != nil && *patch.TimerDurationSeconds < 0 {
        return errJSON(c, http.StatusBadRequest, "timerDurationSeconds must not be negative")
    }
    if patch.Source == "" {
        patch.Source = model.SourceAPI
    }
    if !patch.Source.Valid() {
        return errJSON(c, http.StatusBadRequest, "unknown source")
    }

    ctx := c.Request().Context()
    res, err := h.Focus.Set(ctx, acct, patch)
    if errors.Is(err, repository.ErrStaleWrite) {
        return c.JSON(http.StatusConflict, echo.Map{"error": "stale_write", "record": res.Record})
    }
    if err != nil {
        return serverError(c, h.Log, "could not update focus record", err)
    }

    if res.Transitioned {
        h.announce(ctx, model.EventUpdate, model.TableFocus, acct, res.Record)
        h.audit(queue.Envelope{
            Type:      queue.TypeFocusChanged,
            AccountID: acct,
            Focus: &queue.FocusChangedEvent{
                Locked:               res.Record.Locked,
                Source:               string(patch.Source),
                TimerDurationSeconds: res.Record.TimerDurationSeconds,
            },
        })
    }
    return c.JSON(http.StatusOK, res)
}
