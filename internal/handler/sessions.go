package handler

import (
    "errors"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/brick-focus/internal/middleware"
    "github.com/iliyamo/brick-focus/internal/model"
    "github.com/iliyamo/brick-focus/internal/queue"
    "github.com/iliyamo/brick-focus/internal/repository"
    "github.com/iliyamo/brick-focus/internal/utils"
)

const defaultSessionLimit = 50

// OpenSession handles POST /v1/sessions.  An account has at most one open
// session; a second open answers 409 with the one already running.
func (h *API) OpenSession(c echo.Context) error {
    acct := middleware.AccountID(c)
    var body struct {
        Source model.Source `json:"source"`
    }
    if err := c.Bind(&body); err != nil {
        return errJSON(c, http.StatusBadRequest, "invalid request body")
    }
    if body.Source == "" {
        body.Source = model.SourceAPI
    }
    if !body.Source.Valid() {
        return errJSON(c, http.StatusBadRequest, "unknown source")
    }

    ctx := c.Request().Context()
    s, err := h.Sessions.Open(ctx, acct, body.Source, h.now())
    if errors.Is(err, repository.ErrConflict) {
        active, aerr := h.Sessions.Active(ctx, acct)
        if aerr != nil {
            return errJSON(c, http.StatusConflict, "session already open")
        }
        return c.JSON(http.StatusConflict, echo.Map{"error": "session already open", "session": active})
    }
    if err != nil {
        return serverError(c, h.Log, "could not open session", err)
    }
    h.announce(ctx, model.EventInsert, model.TableSessions, acct, s)
    return c.JSON(http.StatusCreated, s)
}

// CloseSession handles PATCH /v1/sessions/:id/close.  Closing a session
// that is already closed returns it unchanged.
func (h *API) CloseSession(c echo.Context) error {
    acct := middleware.AccountID(c)
    var body struct {
        EndedAt *time.Time `json:"endedAt"`
    }
    if err := c.Bind(&body); err != nil {
        return errJSON(c, http.StatusBadRequest, "invalid request body")
    }
    end := h.now()
    if body.EndedAt != nil {
        end = *body.EndedAt
    }

    ctx := c.Request().Context()
    s, changed, err := h.Sessions.Close(ctx, acct, c.Param("id"), end)
    if errors.Is(err, repository.ErrNotFound) {
        return errJSON(c, http.StatusNotFound, "session not found")
    }
    if err != nil {
        return serverError(c, h.Log, "could not close session", err)
    }
    if changed {
        h.announce(ctx, model.EventUpdate, model.TableSessions, acct, s)
        h.audit(queue.Envelope{
            Type:      queue.TypeSessionClosed,
            AccountID: acct,
            Session: &queue.SessionClosedEvent{
                SessionID:       s.ID,
                Source:          string(s.Source),
                StartedAt:       s.StartedAt,
                EndedAt:         *s.EndedAt,
                DurationSeconds: *s.DurationSeconds,
                Completed:       s.Completed,
            },
        })
    }
    return c.JSON(http.StatusOK, s)
}

// ListSessions handles GET /v1/sessions?since=&limit=.
func (h *API) ListSessions(c echo.Context) error {
    since, err := parseSince(c.QueryParam("since"))
    if err != nil {
        return errJSON(c, http.StatusBadRequest, "since must be RFC 3339")
    }
    limit := defaultSessionLimit
    if v := c.QueryParam("limit"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil || n < 0 {
            return errJSON(c, http.StatusBadRequest, "invalid limit")
        }
        limit = n
    }
    out, err := h.Sessions.List(c.Request().Context(), middleware.AccountID(c), since, limit)
    if err != nil {
        return serverError(c, h.Log, "could not list sessions", err)
    }
    return c.JSON(http.StatusOK, out)
}

// LogAttempt handles POST /v1/attempts.
func (h *API) LogAttempt(c echo.Context) error {
    acct := middleware.AccountID(c)
    var body struct {
        Domain    string       `json:"domain"`
        SessionID *string      `json:"sessionId"`
        Source    model.Source `json:"source"`
    }
    if err := c.Bind(&body); err != nil {
        return errJSON(c, http.StatusBadRequest, "invalid request body")
    }
    domain, err := utils.NormalizeDomain(body.Domain)
    if err != nil {
        return errJSON(c, http.StatusBadRequest, err.Error())
    }
    if body.Source == "" {
        body.Source = model.SourceExtension
    }
    if !body.Source.Valid() {
        return errJSON(c, http.StatusBadRequest, "unknown source")
    }

    ctx := c.Request().Context()
    a, err := h.Attempts.Insert(ctx, acct, model.BlockedAttempt{
        Domain:      domain,
        SessionID:   body.SessionID,
        AttemptedAt: h.now(),
        Source:      body.Source,
    })
    if err != nil {
        return serverError(c, h.Log, "could not log attempt", err)
    }
    h.announce(ctx, model.EventInsert, model.TableAttempts, acct, a)
    h.audit(queue.Envelope{
        Type:      queue.TypeBlockedAttempt,
        AccountID: acct,
        Attempt: &queue.BlockedAttemptEvent{
            AttemptID: a.ID,
            Domain:    a.Domain,
            SessionID: a.SessionID,
            Source:    string(a.Source),
        },
    })
    return c.JSON(http.StatusCreated, a)
}

// ListAttempts handles GET /v1/attempts?since=.
func (h *API) ListAttempts(c echo.Context) error {
    since, err := parseSince(c.QueryParam("since"))
    if err != nil {
        return errJSON(c, http.StatusBadRequest, "since must be RFC 3339")
    }
    out, err := h.Attempts.List(c.Request().Context(), middleware.AccountID(c), since)
    if err != nil {
        return serverError(c, h.Log, "could not list attempts", err)
    }
    return c.JSON(http.StatusOK, out)
}

// epoch is the default lower bound; DATETIME columns cannot hold the zero time.
var epoch = time.Unix(0, 0).UTC()

func parseSince(v string) (time.Time, error) {
    if v == "" {
        return epoch, nil
    }
    return time.Parse(time.RFC3339, v)
}
