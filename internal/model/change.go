package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Table names used by the push channel and the poll fallback.
const (
	TableFocus    = "focus_records"
	TableSites    = "blocked_sites"
	TableSessions = "sessions"
	TableAttempts = "blocked_attempts"
)

// Change events delivered on the push channel.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Change is a row-level notification: {event, table, record}.  Record is
// kept raw so the hub can fan it out without knowing the row type.
type Change struct {
	Event     string          `json:"event"`
	Table     string          `json:"table"`
	AccountID string          `json:"accountId"`
	Record    json.RawMessage `json:"record"`
}

// NewChange marshals rec into a Change.
func NewChange(event, table, accountID string, rec any) (Change, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return Change{}, err
	}
	return Change{Event: event, Table: table, AccountID: accountID, Record: raw}, nil
}

// AccountFilter builds the only filter form the store accepts.
func AccountFilter(accountID string) string {
	return "account_id=eq." + accountID
}

// ParseAccountFilter extracts the account id from an AccountFilter string.
func ParseAccountFilter(filter string) (string, error) {
	const prefix = "account_id=eq."
	if !strings.HasPrefix(filter, prefix) || len(filter) == len(prefix) {
		return "", fmt.Errorf("unsupported filter %q", filter)
	}
	return strings.TrimPrefix(filter, prefix), nil
}
