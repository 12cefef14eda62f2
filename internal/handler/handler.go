package handler // HTTP handlers for the record store

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/brick-focus/internal/model"
    "github.com/iliyamo/brick-focus/internal/queue"
    "github.com/iliyamo/brick-focus/internal/realtime"
)

// The store interfaces below are satisfied by the repository package; the
// handlers depend on them rather than on *sql.DB so tests can substitute
// in-memory fakes.

type FocusStore interface {
    Get(ctx context.Context, accountID string) (model.FocusRecord, error)
    Set(ctx context.Context, accountID string, patch model.FocusPatch) (model.FocusResult, error)
}

type SiteStore interface {
    List(ctx context.Context, accountID string) ([]model.BlockedSite, error)
    Add(ctx context.Context, accountID, domain, icon string) (model.BlockedSite, error)
    Remove(ctx context.Context, accountID, domain string) (model.BlockedSite, error)
}

type SessionStore interface {
    Open(ctx context.Context, accountID string, source model.Source, startedAt time.Time) (model.Session, error)
    Close(ctx context.Context, accountID, id string, endedAt time.Time) (model.Session, bool, error)
    Active(ctx context.Context, accountID string) (model.Session, error)
    List(ctx context.Context, accountID string, since time.Time, limit int) ([]model.Session, error)
}

type AttemptStore interface {
    Insert(ctx context.Context, accountID string, a model.BlockedAttempt) (model.BlockedAttempt, error)
    List(ctx context.Context, accountID string, since time.Time) ([]model.BlockedAttempt, error)
}

type LinkCodeStore interface {
    Issue(ctx context.Context, accountID, code string, now time.Time) (model.LinkCode, error)
    Find(ctx context.Context, code string) (model.LinkCode, error)
}

// EventPublisher sends audit events to the broker.
type EventPublisher interface {
    Publish(ctx context.Context, ev queue.Envelope) error
}

const auditTimeout = 5 * time.Second

// API bundles the dependencies of every /v1 handler.
type API struct {
    Focus    FocusStore
    Sites    SiteStore
    Sessions SessionStore
    Attempts AttemptStore
    Codes    LinkCodeStore

    Changes realtime.Publisher
    Events  EventPublisher // optional

    JWTSecret string
    AccessTTL time.Duration
    Now       func() time.Time
    Log       *zap.SugaredLogger
}

func (h *API) now() time.Time {
    if h.Now != nil {
        return h.Now()
    }
    return time.Now()
}

// announce publishes a committed row change.  Delivery is best effort:
// subscribers that miss it converge through their poll fallback.
func (h *API) announce(ctx context.Context, event, table, accountID string, rec any) {
    if h.Changes == nil {
        return
    }
    ch, err := model.NewChange(event, table, accountID, rec)
    if err == nil {
        err = h.Changes.Publish(ctx, ch)
    }
    if err != nil {
        h.Log.Warnw("change publish failed", "table", table, "account", accountID, "err", err)
    }
}

// audit sends ev to the broker when one is configured.  It runs detached
// from the request so a slow or absent broker never delays the response.
func (h *API) audit(ev queue.Envelope) {
    if h.Events == nil {
        return
    }
    ev.OccurredAt = h.now().UTC()
    go func() {
        ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
        defer cancel()
        if err := h.Events.Publish(ctx, ev); err != nil {
            h.Log.Warnw("audit publish failed", "type", ev.Type, "err", err)
        }
    }()
}

func errJSON(c echo.Context, status int, msg string) error {
    return c.JSON(status, echo.Map{"error": msg})
}

func serverError(c echo.Context, log *zap.SugaredLogger, what string, err error) error {
    log.Errorw(what, "path", c.Path(), "err", err)
    return errJSON(c, http.StatusInternalServerError, what)
}
