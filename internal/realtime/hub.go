package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/config"
	"github.com/iliyamo/brick-focus/internal/model"
)

// Upgrader accepts any origin: browser extensions connect from
// chrome-extension:// origins and authenticate with a bearer token instead.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub tracks every open socket on this server instance and delivers
// changes to those subscribed to the change's table for the change's
// account.
type Hub struct {
	cfg config.RealtimeConfig
	log *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*conn]struct{}
	closed  bool
}

// NewHub returns an empty hub.
func NewHub(cfg config.RealtimeConfig, log *zap.SugaredLogger) *Hub {
	return &Hub{cfg: cfg, log: log, clients: map[*conn]struct{}{}}
}

type conn struct {
	ws        *websocket.Conn
	accountID string
	send      chan Message

	mu   sync.Mutex
	subs map[string]bool
	done chan struct{}
	once sync.Once
}

func (c *conn) subscribed(table string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[table]
}

func (c *conn) setSub(table string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.subs[table] = true
	} else {
		delete(c.subs, table)
	}
}

func (c *conn) stop() { c.once.Do(func() { close(c.done) }) }

// enqueue never blocks the dispatcher: a client whose buffer is full is
// dropped and will resync through its reconnect and poll paths.
func (c *conn) enqueue(m Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- m:
		return true
	default:
		c.stop()
		return false
	}
}

// Serve runs one socket until it closes.  tables, when non-empty, are
// subscribed up front (used by the relay listeners, which never send
// subscribe frames).
func (h *Hub) Serve(ws *websocket.Conn, accountID string, tables ...string) {
	c := &conn{
		ws:        ws,
		accountID: accountID,
		send:      make(chan Message, h.cfg.SendBuffer),
		subs:      map[string]bool{},
		done:      make(chan struct{}),
	}
	for _, t := range tables {
		c.subs[t] = true
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.stop()
		_ = ws.Close()
	}()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *conn) {
	idle := 2 * h.cfg.Heartbeat
	_ = c.ws.SetReadDeadline(time.Now().Add(idle))
	for {
		var m Message
		if err := c.ws.ReadJSON(&m); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				h.log.Debugw("realtime: read ended", "account", c.accountID, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(idle))

		switch m.Type {
		case TypeHeartbeat:
			if m.Ref != "" {
				c.enqueue(Message{Type: TypeReply, Ref: m.Ref, Status: StatusOK})
			}
		case TypeSubscribe, TypeUnsubscribe:
			if err := h.checkSubscription(c, m); err != nil {
				c.enqueue(Message{Type: TypeReply, Ref: m.Ref, Status: StatusError, Error: err.Error()})
				continue
			}
			c.setSub(m.Table, m.Type == TypeSubscribe)
			c.enqueue(Message{Type: TypeReply, Ref: m.Ref, Status: StatusOK})
		default:
			c.enqueue(Message{Type: TypeReply, Ref: m.Ref, Status: StatusError, Error: "unknown frame type"})
		}
		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (h *Hub) checkSubscription(c *conn, m Message) error {
	if !subscribable[m.Table] {
		return errors.New("unknown table")
	}
	acct, err := model.ParseAccountFilter(m.Filter)
	if err != nil {
		return err
	}
	if acct != c.accountID {
		return errors.New("filter outside token scope")
	}
	return nil
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(h.cfg.Heartbeat)
	defer ticker.Stop()
	defer func() { _ = c.ws.Close() }()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case m := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(m); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(Message{Type: TypeHeartbeat}); err != nil {
				c.stop()
				return
			}
		}
	}
}

// Dispatch delivers ch to every local socket of ch.AccountID subscribed to
// ch.Table and returns how many sockets accepted it.
func (h *Hub) Dispatch(ch model.Change) int {
	msg := ChangeMessage(ch)
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.accountID != ch.AccountID || !c.subscribed(ch.Table) {
			continue
		}
		if c.enqueue(msg) {
			n++
		}
	}
	return n
}

// Publish implements Publisher for a single-instance deployment.
func (h *Hub) Publish(_ context.Context, ch model.Change) error {
	h.Dispatch(ch)
	return nil
}

// Count returns the number of open sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops every socket and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.stop()
	}
}

// Publisher is how mutation handlers announce a committed change.
type Publisher interface {
	Publish(ctx context.Context, ch model.Change) error
}

// marshalChange is split out for the Redis bridge.
func marshalChange(ch model.Change) ([]byte, error) { return json.Marshal(ch) }
