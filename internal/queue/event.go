// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// EventsQueue is the durable queue every focus audit event is published to.
const EventsQueue = "focus.events"

// Event types carried in Envelope.Type.
const (
	TypeSessionClosed  = "session.closed"
	TypeBlockedAttempt = "blocked.attempt"
	TypeFocusChanged   = "focus.changed"
)

// Envelope wraps every event so a single consumer can dispatch on Type.
type Envelope struct {
	Type       string               `json:"type"`
	AccountID  string               `json:"account_id"`
	OccurredAt time.Time            `json:"occurred_at"`
	Session    *SessionClosedEvent  `json:"session,omitempty"`
	Attempt    *BlockedAttemptEvent `json:"attempt,omitempty"`
	Focus      *FocusChangedEvent   `json:"focus,omitempty"`
}

// SessionClosedEvent is published when a session is closed.  It carries
// enough to log or aggregate without querying the primary database.
type SessionClosedEvent struct {
	SessionID       string    `json:"session_id"`
	Source          string    `json:"source"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Completed       bool      `json:"completed"`
}

// BlockedAttemptEvent is published for each blocked navigation.
type BlockedAttemptEvent struct {
	AttemptID string  `json:"attempt_id"`
	Domain    string  `json:"domain"`
	SessionID *string `json:"session_id,omitempty"`
	Source    string  `json:"source"`
}

// FocusChangedEvent is published when a focus mutation flips the lock.
type FocusChangedEvent struct {
	Locked               bool   `json:"locked"`
	Source               string `json:"source"`
	TimerDurationSeconds *int   `json:"timer_duration_seconds,omitempty"`
}
