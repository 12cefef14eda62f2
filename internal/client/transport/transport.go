package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raulk/clock"
	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/model"
	"github.com/iliyamo/brick-focus/internal/realtime"
)

// EventSnapshot marks a change synthesised by the poll timer for a table
// read in list form; Record then holds the whole list.
const EventSnapshot = "SNAPSHOT"

// Handler receives changes for one watched table.  It is called from the
// transport's goroutines and must not block; the agent forwards it onto its
// event loop.
type Handler func(model.Change)

// Options configures a Transport.
type Options struct {
	API          *API
	PollInterval time.Duration
	Heartbeat    time.Duration
	Dialer       *websocket.Dialer
	Clock        clock.Clock
	Log          *zap.SugaredLogger
	// ExternalPoll disables the internal poll timer; the owner calls
	// PollOnce on its own schedule.  PollNow still works.
	ExternalPoll bool
}

// Transport keeps the push subscription and the poll timer for every
// watched table.
type Transport struct {
	api    *API
	poll   time.Duration
	hb     time.Duration
	dialer *websocket.Dialer
	clk    clock.Clock
	log    *zap.SugaredLogger
	extern bool

	mu        sync.Mutex
	watched   map[string]watch
	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected bool
	ref       int

	reconnect chan struct{}
	pollNow   chan struct{}
}

type watch struct {
	filter  string
	handler Handler
}

// New builds a Transport.  Nothing happens until Run.
func New(o Options) *Transport {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	return &Transport{
		api:       o.API,
		poll:      o.PollInterval,
		hb:        o.Heartbeat,
		dialer:    o.Dialer,
		clk:       o.Clock,
		log:       o.Log,
		extern:    o.ExternalPoll,
		watched:   map[string]watch{},
		reconnect: make(chan struct{}, 1),
		pollNow:   make(chan struct{}, 1),
	}
}

// PollInterval is the safety-net poll period.
func (t *Transport) PollInterval() time.Duration { return t.poll }

// API exposes the request/response half.
func (t *Transport) API() *API { return t.api }

// OnChange watches table with filter (empty means the scoped account) and
// delivers its changes to h.  Watching a table again replaces the handler.
// If the push channel is up the subscription is sent at once; otherwise it
// goes out with the next connect.
func (t *Transport) OnChange(table, filter string, h Handler) {
	t.mu.Lock()
	t.watched[table] = watch{filter: filter, handler: h}
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		if err := t.subscribe(conn, table, t.filterFor(filter)); err != nil {
			t.log.Debugw("subscribe on live socket failed", "table", table, "err", err)
		}
	}
}

// Connected reports whether the push channel is currently established.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connect binds the transport to an account.  Any live socket is dropped
// so every watched table is re-subscribed under the new scope, and an
// immediate poll re-reads them.  Run must be running for either to happen.
func (t *Transport) Connect(accountID, token string) {
	t.api.SetScope(accountID, token)
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	select {
	case t.reconnect <- struct{}{}:
	default:
	}
	t.PollNow()
}

// PollNow requests an immediate poll of every watched table.
func (t *Transport) PollNow() {
	select {
	case t.pollNow <- struct{}{}:
	default:
	}
}

// Run keeps the push channel and the poll timer alive until ctx ends.
func (t *Transport) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); t.pushLoop(ctx) }()
	go func() { defer wg.Done(); t.pollLoop(ctx) }()
	wg.Wait()
	return ctx.Err()
}

func (t *Transport) filterFor(filter string) string {
	if filter != "" {
		return filter
	}
	return model.AccountFilter(t.api.AccountID())
}

func (t *Transport) handlerFor(table string) (Handler, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.watched[table]
	return w.handler, ok
}

// pushLoop dials, serves and redials with Backoff.  The attempt counter
// resets whenever a connection was established.
func (t *Transport) pushLoop(ctx context.Context) {
	attempt := 0
	for {
		established, err := t.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			attempt = 0
		}
		attempt++
		wait := Backoff(attempt)
		t.log.Infow("push channel down, polling only", "err", err, "attempt", attempt, "retry_in", wait)

		timer := t.clk.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.reconnect:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (t *Transport) wsURL() string {
	u := t.api.BaseURL()
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/realtime"
}

// session runs one socket to completion.  established is true once the
// handshake succeeded and every subscription was sent.
func (t *Transport) session(ctx context.Context) (established bool, err error) {
	hdr := http.Header{}
	if _, tok := t.api.scope.get(); tok != "" {
		hdr.Set("Authorization", "Bearer "+tok)
	}
	conn, _, err := t.dialer.DialContext(ctx, t.wsURL(), hdr)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	t.mu.Lock()
	subs := make(map[string]string, len(t.watched))
	for table, w := range t.watched {
		subs[table] = w.filter
	}
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
			t.connected = false
		}
		t.mu.Unlock()
	}()

	for table, filter := range subs {
		if err := t.subscribe(conn, table, t.filterFor(filter)); err != nil {
			return false, err
		}
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	t.log.Infow("push channel up", "tables", len(subs))
	// anything missed while down is picked up by an immediate poll
	t.PollNow()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go t.heartbeat(conn, done)

	return true, t.readLoop(conn)
}

// heartbeat sends a heartbeat frame every interval on the transport clock.
func (t *Transport) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	tk := t.clk.Ticker(t.hb)
	defer tk.Stop()
	for {
		select {
		case <-done:
			return
		case <-tk.C:
			if err := t.send(conn, realtime.Message{Type: realtime.TypeHeartbeat, Ref: t.nextRef()}); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) error {
	// socket deadlines are wall-clock; the server heartbeats every interval
	idle := 2 * t.hb
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		var m realtime.Message
		if err := conn.ReadJSON(&m); err != nil {
			return err
		}
		switch m.Type {
		case realtime.TypeChange:
			h, ok := t.handlerFor(m.Table)
			if !ok {
				continue
			}
			h(model.Change{Event: m.Event, Table: m.Table, AccountID: t.api.AccountID(), Record: m.Record})
		case realtime.TypeHeartbeat:
			if err := t.send(conn, realtime.Message{Type: realtime.TypeHeartbeat}); err != nil {
				return err
			}
		case realtime.TypeReply:
			if m.Status == realtime.StatusError {
				t.log.Warnw("push channel refused frame", "ref", m.Ref, "err", m.Error)
			}
		}
	}
}

func (t *Transport) nextRef() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ref++
	return strconv.Itoa(t.ref)
}

func (t *Transport) subscribe(conn *websocket.Conn, table, filter string) error {
	return t.send(conn, realtime.Message{Type: realtime.TypeSubscribe, Ref: t.nextRef(), Table: table, Filter: filter})
}

func (t *Transport) send(conn *websocket.Conn, m realtime.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(m)
}

// pollLoop re-reads every watched table each interval and on demand.  Every
// successful read is delivered like a push; receivers are idempotent.
func (t *Transport) pollLoop(ctx context.Context) {
	var tick <-chan time.Time
	if !t.extern {
		tk := t.clk.Ticker(t.poll)
		defer tk.Stop()
		tick = tk.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-t.pollNow:
		}
		t.PollOnce(ctx)
	}
}

// PollOnce polls every watched table once.
func (t *Transport) PollOnce(ctx context.Context) {
	t.mu.Lock()
	subs := make(map[string]string, len(t.watched))
	for table, w := range t.watched {
		subs[table] = w.filter
	}
	t.mu.Unlock()

	for table, filter := range subs {
		raw, err := t.Poll(ctx, table, filter)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.log.Debugw("poll failed", "table", table, "err", err)
			}
			continue
		}
		h, ok := t.handlerFor(table)
		if !ok {
			continue
		}
		event := EventSnapshot
		if table == model.TableFocus {
			event = model.EventUpdate
		}
		h(model.Change{Event: event, Table: table, AccountID: t.api.AccountID(), Record: raw})
	}
}

// Poll reads table once.  The store only serves the bound account, so a
// filter naming any other account is refused without a request.
func (t *Transport) Poll(ctx context.Context, table, filter string) (json.RawMessage, error) {
	if err := t.checkFilter("poll "+table, filter); err != nil {
		return nil, err
	}
	return t.api.Poll(ctx, table)
}

// Mutate applies one write to table and returns the resulting row.  focus
// takes a model.FocusPatch and answers with the record; sites takes a
// model.BlockedSite and answers with the stored row.
func (t *Transport) Mutate(ctx context.Context, table, filter string, patch any) (json.RawMessage, error) {
	op := "mutate " + table
	if err := t.checkFilter(op, filter); err != nil {
		return nil, err
	}
	var (
		out any
		err error
	)
	switch p := patch.(type) {
	case model.FocusPatch:
		if table != model.TableFocus {
			return nil, fmt.Errorf("%s: focus patch for table %q", op, table)
		}
		var res model.FocusResult
		res, err = t.api.PatchFocus(ctx, p)
		out = res.Record
	case model.BlockedSite:
		if table != model.TableSites {
			return nil, fmt.Errorf("%s: site row for table %q", op, table)
		}
		out, err = t.api.AddSite(ctx, p.Domain, p.Icon)
	default:
		return nil, fmt.Errorf("%s: unsupported patch %T", op, patch)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (t *Transport) checkFilter(op, filter string) error {
	if filter == "" || filter == model.AccountFilter(t.api.AccountID()) {
		return nil
	}
	return &RejectedError{Op: op, Status: http.StatusForbidden, Message: "filter outside the bound account"}
}
