package handler

import (
    "net/http"
    "sync"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/brick-focus/internal/model"
    "github.com/iliyamo/brick-focus/internal/realtime"
)

// relayAccount scopes relay listeners inside the hub.  It cannot collide
// with a real account because clients may not subscribe to TableRelay.
const relayAccount = "_relay"

// RelayState is the single global focus mirror served under /api.  It
// exists for NFC hardware and manual testing, carries no account and is
// kept in memory only.
type RelayState struct {
    IsLocked       bool         `json:"isLocked"`
    LockStartedAt  *time.Time   `json:"lockStartedAt"`
    LastUpdated    time.Time    `json:"lastUpdated"`
    Source         model.Source `json:"source,omitempty"`
    BlockedDomains []string     `json:"blockedDomains"`
}

// Relay serves the /api surface.
type Relay struct {
    hub *realtime.Hub
    log *zap.SugaredLogger
    now func() time.Time

    mu    sync.Mutex
    state RelayState
}

func NewRelay(hub *realtime.Hub, log *zap.SugaredLogger) *Relay {
    domains := make([]string, len(model.DefaultBlockedDomains))
    copy(domains, model.DefaultBlockedDomains)
    return &Relay{
        hub: hub,
        log: log,
        now: time.Now,
        state: RelayState{
            LastUpdated:    time.Now().UTC(),
            BlockedDomains: domains,
        },
    }
}

// Status handles GET /api/status.
func (r *Relay) Status(c echo.Context) error {
    r.mu.Lock()
    s := r.state
    r.mu.Unlock()
    return c.JSON(http.StatusOK, s)
}

// Toggle handles POST /api/toggle with an optional {source}.
func (r *Relay) Toggle(c echo.Context) error {
    var body struct {
        Source model.Source `json:"source"`
    }
    _ = c.Bind(&body)
    if !body.Source.Valid() {
        body.Source = model.SourceAPI
    }
    return c.JSON(http.StatusOK, r.flip(body.Source))
}

// NFCTap handles POST /api/nfc-tap.
func (r *Relay) NFCTap(c echo.Context) error {
    return c.JSON(http.StatusOK, r.flip(model.SourceNFC))
}

// Listen handles GET /api/ws: every listener receives each new state.
func (r *Relay) Listen(c echo.Context) error {
    ws, err := realtime.Upgrader.Upgrade(c.Response(), c.Request(), nil)
    if err != nil {
        return nil
    }
    r.hub.Serve(ws, relayAccount, realtime.TableRelay)
    return nil
}

func (r *Relay) flip(src model.Source) RelayState {
    r.mu.Lock()
    now := r.now().UTC()
    if !now.After(r.state.LastUpdated) {
        now = r.state.LastUpdated.Add(time.Millisecond)
    }
    r.state.IsLocked = !r.state.IsLocked
    if r.state.IsLocked {
        r.state.LockStartedAt = &now
    } else {
        r.state.LockStartedAt = nil
    }
    r.state.LastUpdated = now
    r.state.Source = src
    s := r.state
    r.mu.Unlock()

    ch, err := model.NewChange(model.EventUpdate, realtime.TableRelay, relayAccount, s)
    if err != nil {
        r.log.Warnw("relay: encode failed", "err", err)
        return s
    }
    n := r.hub.Dispatch(ch)
    r.log.Infow("relay toggled", "locked", s.IsLocked, "source", src, "listeners", n)
    return s
}
