package model

import "time"

// Session is one contiguous interval during which an account's Focus
// Record was locked.  At most one row per account has EndedAt == nil.
//
// Fields:
//  ID              – sessions.id (uuid).
//  AccountID       – owning account.
//  StartedAt       – when the lock began.
//  EndedAt         – when it ended; nil while open.
//  DurationSeconds – EndedAt - StartedAt in whole seconds; nil while open.
//  Source          – which client opened the session.
//  Completed       – set true when the session is closed normally.
type Session struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"accountId"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt"`
	DurationSeconds *int       `json:"durationSeconds"`
	Source          Source     `json:"source"`
	Completed       bool       `json:"completed"`
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool { return s.EndedAt == nil }

// DurationBetween returns the whole number of seconds from start to end,
// never negative.
func DurationBetween(start, end time.Time) int {
	d := int(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// BlockedAttempt is an append-only row written whenever navigation to a
// blocked domain happens while locked.
//
// Fields:
//  ID          – blocked_attempts.id (uuid).
//  AccountID   – owning account.
//  Domain      – host that was blocked.
//  SessionID   – the open session known to the reporting client, if any.
//  AttemptedAt – when the navigation was intercepted.
//  Source      – which client intercepted it.
type BlockedAttempt struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	Domain      string    `json:"domain"`
	SessionID   *string   `json:"sessionId"`
	AttemptedAt time.Time `json:"attemptedAt"`
	Source      Source    `json:"source"`
}
