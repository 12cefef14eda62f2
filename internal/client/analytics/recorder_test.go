package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/brick-focus/internal/client/replica"
	"github.com/iliyamo/brick-focus/internal/client/transport"
	"github.com/iliyamo/brick-focus/internal/model"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeRemote struct {
	sessions map[string]*model.Session
	attempts []model.BlockedAttempt
	opened   int
	closes   int
	openErr  error
	closeErr error
	readErr  error
	nextID   int
}

func newFakeRemote() *fakeRemote { return &fakeRemote{sessions: map[string]*model.Session{}} }

func (f *fakeRemote) OpenSession(_ context.Context, src model.Source) (model.Session, error) {
	if f.openErr != nil {
		return model.Session{}, f.openErr
	}
	f.opened++
	f.nextID++
	s := &model.Session{ID: fmt.Sprintf("s%d", f.nextID), StartedAt: t0, Source: src}
	f.sessions[s.ID] = s
	return *s, nil
}

func (f *fakeRemote) CloseSession(_ context.Context, id string, endedAt time.Time) (model.Session, error) {
	f.closes++
	if f.closeErr != nil {
		return model.Session{}, f.closeErr
	}
	s := f.sessions[id]
	if s.EndedAt == nil {
		end := endedAt
		d := model.DurationBetween(s.StartedAt, end)
		s.EndedAt, s.DurationSeconds, s.Completed = &end, &d, true
	}
	return *s, nil
}

func (f *fakeRemote) LogAttempt(_ context.Context, domain string, sid *string, src model.Source) (model.BlockedAttempt, error) {
	a := model.BlockedAttempt{Domain: domain, SessionID: sid, AttemptedAt: t0, Source: src}
	f.attempts = append(f.attempts, a)
	return a, nil
}

func (f *fakeRemote) ListSessions(context.Context, time.Time, int) ([]model.Session, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]model.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeRemote) ListAttempts(_ context.Context, since time.Time) ([]model.BlockedAttempt, error) {
	out := []model.BlockedAttempt{}
	for _, a := range f.attempts {
		if !a.AttemptedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, f.readErr
}

func commit(locked, own bool, at time.Time) replica.Commit {
	prev := model.Unlocked("acct", at.Add(-time.Second))
	next := model.Unlocked("acct", at)
	if locked {
		s := at
		next.Locked, next.LockStartedAt = true, &s
	} else {
		s := at.Add(-time.Minute)
		prev.Locked, prev.LockStartedAt = true, &s
	}
	return replica.Commit{Prev: prev, Next: next, Own: own}
}

func TestReleaseClosesThenForgets(t *testing.T) {
	remote := newFakeRemote()
	r := NewRecorder(remote, model.SourceExtension, nil)
	ctx := context.Background()

	require.NoError(t, r.Release(ctx, t0), "nothing open")
	assert.Zero(t, remote.closes)

	require.NoError(t, r.OnCommit(ctx, commit(true, true, t0)))
	id := r.OpenSessionID()
	require.NoError(t, r.Release(ctx, t0.Add(time.Minute)))
	assert.Equal(t, 60, *remote.sessions[id].DurationSeconds)
	assert.Empty(t, r.OpenSessionID())

	require.NoError(t, r.OnCommit(ctx, commit(true, true, t0)))
	remote.closeErr = &transport.UnavailableError{Op: "close session", Err: errors.New("down")}
	assert.Error(t, r.Release(ctx, t0.Add(time.Minute)))
	assert.Empty(t, r.OpenSessionID(), "dropped even when the close failed")
}

func TestSessionLifecycle(t *testing.T) {
	remote := newFakeRemote()
	r := NewRecorder(remote, model.SourceExtension, nil)
	ctx := context.Background()

	require.NoError(t, r.OnCommit(ctx, commit(true, true, t0)))
	id := r.OpenSessionID()
	require.NotEmpty(t, id)

	require.NoError(t, r.RecordAttempt(ctx, "reddit.com"))
	require.NotNil(t, remote.attempts[0].SessionID)
	assert.Equal(t, id, *remote.attempts[0].SessionID)

	require.NoError(t, r.OnCommit(ctx, commit(false, false, t0.Add(125*time.Second))))
	s := remote.sessions[id]
	require.NotNil(t, s.DurationSeconds)
	assert.Equal(t, 125, *s.DurationSeconds)
	assert.True(t, s.Completed)
	assert.Empty(t, r.OpenSessionID())

	// a second unlock has nothing to close
	require.NoError(t, r.OnCommit(ctx, commit(false, false, t0.Add(200*time.Second))))
	assert.Equal(t, 1, remote.closes)

	require.NoError(t, r.RecordAttempt(ctx, "x.com"))
	assert.Nil(t, remote.attempts[1].SessionID)
}

func TestOnlyOwnLockOpensSession(t *testing.T) {
	remote := newFakeRemote()
	r := NewRecorder(remote, model.SourceMobile, nil)

	require.NoError(t, r.OnCommit(context.Background(), commit(true, false, t0)))
	assert.Zero(t, remote.opened)
	assert.Empty(t, r.OpenSessionID())

	require.NoError(t, r.OnCommit(context.Background(), commit(false, false, t0.Add(time.Minute))))
	assert.Zero(t, remote.closes, "an unknown session is left for its owner")
}

func TestOpenConflictIsNotAnError(t *testing.T) {
	remote := newFakeRemote()
	remote.openErr = &transport.RejectedError{Op: "open session", Status: http.StatusConflict, Message: "a session is already open"}
	r := NewRecorder(remote, model.SourceMobile, nil)

	assert.NoError(t, r.OnCommit(context.Background(), commit(true, true, t0)))
	assert.Empty(t, r.OpenSessionID())

	remote.openErr = &transport.UnavailableError{Op: "open session", Err: errors.New("down")}
	assert.ErrorIs(t, r.OnCommit(context.Background(), commit(true, true, t0)), transport.ErrTransportUnavailable)
}

func TestStats(t *testing.T) {
	remote := newFakeRemote()
	r := NewRecorder(remote, model.SourceMobile, nil)
	ctx := context.Background()
	require.NoError(t, r.OnCommit(ctx, commit(true, true, t0)))
	require.NoError(t, r.RecordAttempt(ctx, "reddit.com"))
	require.NoError(t, r.OnCommit(ctx, commit(false, false, t0.Add(30*time.Minute))))
	remote.attempts = append(remote.attempts, model.BlockedAttempt{Domain: "old.com", AttemptedAt: t0.AddDate(-1, 0, 0)})

	got := r.Stats(ctx, t0.Add(time.Hour))
	assert.Equal(t, 1, got.Today.TotalSessions)
	assert.Equal(t, 1, got.Today.CompletedSessions)
	assert.Equal(t, 30, got.Today.TotalMinutes)
	assert.Equal(t, 1, got.Streak)
	assert.Equal(t, 1, got.Week.BlockedAttempts)
	require.Len(t, got.TopBlocked, 2, "attempts from before the week still rank")
	assert.Equal(t, "old.com", got.TopBlocked[0].Domain)
	assert.Equal(t, "reddit.com", got.TopBlocked[1].Domain)

	h := r.History(ctx)
	assert.Equal(t, 1, h.TotalSessions)
	assert.Equal(t, 30, h.AverageMinutes)

	remote.readErr = errors.New("offline")
	zero := r.Stats(ctx, t0)
	assert.Zero(t, zero.Today.TotalSessions)
	assert.Zero(t, zero.Streak)
	assert.Empty(t, zero.TopBlocked)
	assert.Zero(t, r.History(ctx).TotalSessions)
}
