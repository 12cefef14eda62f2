// Package realtime implements the record store's push channel: a WebSocket
// per client over which it subscribes to (table, filter) pairs and receives
// row-level change notifications.  The wire types here are shared with the
// client transport.
package realtime

import (
	"encoding/json"

	"github.com/iliyamo/brick-focus/internal/model"
)

// Frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeHeartbeat   = "heartbeat"
	TypeReply       = "reply"
	TypeChange      = "change"
)

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// TableRelay is the pseudo-table the relay surface broadcasts on.
const TableRelay = "relay"

// Message is every frame in both directions; unused fields are omitted.
type Message struct {
	Type   string          `json:"type"`
	Ref    string          `json:"ref,omitempty"`
	Table  string          `json:"table,omitempty"`
	Filter string          `json:"filter,omitempty"`
	Event  string          `json:"event,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`
	Status string          `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ChangeMessage converts a store change into its wire frame.
func ChangeMessage(c model.Change) Message {
	return Message{Type: TypeChange, Event: c.Event, Table: c.Table, Record: c.Record}
}

// subscribable lists the tables a client may watch.
var subscribable = map[string]bool{
	model.TableFocus:    true,
	model.TableSites:    true,
	model.TableSessions: true,
	model.TableAttempts: true,
}
