package model

import (
	"errors"
	"time"
)

// Source identifies which kind of client caused a lock transition or a
// blocked attempt.  Values are stored verbatim in the sessions and
// blocked_attempts tables.
type Source string

const (
	SourceMobile    Source = "mobile"
	SourceExtension Source = "extension"
	SourceNFC       Source = "nfc"
	SourceAPI       Source = "api"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceMobile, SourceExtension, SourceNFC, SourceAPI:
		return true
	}
	return false
}

// ErrInvalidFocus is returned by FocusRecord.Validate when the record
// violates the lock/timer invariants.
var ErrInvalidFocus = errors.New("invalid focus record")

// FocusRecord is the single shared row per account that says whether
// blocking is active, since when, and until when.  Every timestamp is
// assigned by the record store; clients only ever cache it.
//
// Fields:
//  AccountID            – owner of the record (focus_records.account_id).
//  Locked               – whether focus mode is active.
//  LockStartedAt        – when the current lock began; nil while unlocked.
//  TimerDurationSeconds – countdown length; nil for an open-ended lock.
//  TimerEndAt           – LockStartedAt + TimerDurationSeconds; nil otherwise.
//  LastUpdated          – store timestamp of the last mutation, strictly increasing.
type FocusRecord struct {
	AccountID            string     `json:"accountId"`
	Locked               bool       `json:"locked"`
	LockStartedAt        *time.Time `json:"lockStartedAt"`
	TimerDurationSeconds *int       `json:"timerDurationSeconds"`
	TimerEndAt           *time.Time `json:"timerEndAt"`
	LastUpdated          time.Time  `json:"lastUpdated"`
}

// Validate checks the invariants a well-formed record must satisfy:
// an unlocked record carries no lock start or deadline, and a timed lock
// ends exactly TimerDurationSeconds after it started.
func (f FocusRecord) Validate() error {
	if !f.Locked {
		if f.LockStartedAt != nil || f.TimerEndAt != nil {
			return ErrInvalidFocus
		}
		return nil
	}
	if f.LockStartedAt == nil {
		return ErrInvalidFocus
	}
	if f.TimerDurationSeconds != nil {
		if f.TimerEndAt == nil {
			return ErrInvalidFocus
		}
		want := f.LockStartedAt.Add(time.Duration(*f.TimerDurationSeconds) * time.Second)
		if !f.TimerEndAt.Equal(want) {
			return ErrInvalidFocus
		}
	}
	return nil
}

// NotOlderThan reports whether f may replace other under last-writer-wins.
// Equal timestamps are accepted so a mutation echo re-applies cleanly.
func (f FocusRecord) NotOlderThan(other FocusRecord) bool {
	return !f.LastUpdated.Before(other.LastUpdated)
}

// Equal compares every field, treating nil and non-nil pointers as different.
func (f FocusRecord) Equal(o FocusRecord) bool {
	return f.AccountID == o.AccountID &&
		f.Locked == o.Locked &&
		timePtrEqual(f.LockStartedAt, o.LockStartedAt) &&
		intPtrEqual(f.TimerDurationSeconds, o.TimerDurationSeconds) &&
		timePtrEqual(f.TimerEndAt, o.TimerEndAt) &&
		f.LastUpdated.Equal(o.LastUpdated)
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing the pointer fields.
func (f FocusRecord) Clone() FocusRecord {
	out := f
	if f.LockStartedAt != nil {
		t := *f.LockStartedAt
		out.LockStartedAt = &t
	}
	if f.TimerDurationSeconds != nil {
		d := *f.TimerDurationSeconds
		out.TimerDurationSeconds = &d
	}
	if f.TimerEndAt != nil {
		t := *f.TimerEndAt
		out.TimerEndAt = &t
	}
	return out
}

// Unlocked returns the default record for an account that has never locked.
func Unlocked(accountID string, at time.Time) FocusRecord {
	return FocusRecord{AccountID: accountID, LastUpdated: at}
}

// FocusPatch is the mutation request a client sends for the Focus Record.
// The optional If* fields form a precondition evaluated by the store in
// the same UPDATE statement; when it does not hold the write is rejected
// as stale and the current record is returned instead.
type FocusPatch struct {
	Locked               bool       `json:"locked"`
	TimerDurationSeconds *int       `json:"timerDurationSeconds,omitempty"`
	IfLocked             *bool      `json:"ifLocked,omitempty"`
	IfLockStartedAt      *time.Time `json:"ifLockStartedAt,omitempty"`
	Source               Source     `json:"source,omitempty"`
}

// FocusResult is the store's answer to a FocusPatch.  Transitioned is true
// only when this write flipped the locked flag; callers use it to decide
// whether to open or close a session.
type FocusResult struct {
	Record       FocusRecord `json:"record"`
	Transitioned bool        `json:"transitioned"`
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
