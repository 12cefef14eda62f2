package replica

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/brick-focus/internal/client/transport"
	"github.com/iliyamo/brick-focus/internal/model"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// fakeStore mimics the store's conditional update with a single record.
type fakeStore struct {
	mu      sync.Mutex
	rec     model.FocusRecord
	clock   time.Time
	sites   []model.BlockedSite
	failAll error
	// before runs inside PatchFocus ahead of the update, to model races
	before func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{rec: model.Unlocked("acct", t0), clock: t0}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) GetFocus(context.Context) (model.FocusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return model.FocusRecord{}, f.failAll
	}
	return f.rec.Clone(), nil
}

// externalSet flips the record as another client would.
func (f *fakeStore) externalSet(locked bool) model.FocusRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	f.rec = model.FocusRecord{AccountID: "acct", Locked: locked, LastUpdated: now}
	if locked {
		f.rec.LockStartedAt = &now
	}
	return f.rec.Clone()
}

func (f *fakeStore) PatchFocus(_ context.Context, p model.FocusPatch) (model.FocusResult, error) {
	if f.before != nil {
		f.before()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return model.FocusResult{}, f.failAll
	}
	if p.IfLocked != nil && *p.IfLocked != f.rec.Locked {
		return model.FocusResult{}, &transport.StaleWriteError{Current: f.rec.Clone()}
	}
	if p.IfLockStartedAt != nil && (f.rec.LockStartedAt == nil || !f.rec.LockStartedAt.Equal(*p.IfLockStartedAt)) {
		return model.FocusResult{}, &transport.StaleWriteError{Current: f.rec.Clone()}
	}
	if p.Locked == f.rec.Locked {
		return model.FocusResult{Record: f.rec.Clone()}, nil
	}
	now := f.tick()
	next := model.FocusRecord{AccountID: "acct", Locked: p.Locked, LastUpdated: now}
	if p.Locked {
		next.LockStartedAt = &now
		if p.TimerDurationSeconds != nil {
			d := *p.TimerDurationSeconds
			end := now.Add(time.Duration(d) * time.Second)
			next.TimerDurationSeconds, next.TimerEndAt = &d, &end
		}
	}
	f.rec = next
	return model.FocusResult{Record: next.Clone(), Transitioned: true}, nil
}

func (f *fakeStore) ListSites(context.Context) ([]model.BlockedSite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.BlockedSite(nil), f.sites...), f.failAll
}

func (f *fakeStore) AddSite(_ context.Context, domain, icon string) (model.BlockedSite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return model.BlockedSite{}, f.failAll
	}
	s := model.BlockedSite{ID: "s-" + domain, AccountID: "acct", Domain: domain, Icon: icon, CreatedAt: f.tick()}
	f.sites = append(f.sites, s)
	return s, nil
}

func (f *fakeStore) RemoveSite(_ context.Context, domain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	for i, s := range f.sites {
		if s.Domain == domain {
			f.sites = append(f.sites[:i], f.sites[i+1:]...)
			return nil
		}
	}
	return nil
}

type events struct {
	views   []model.FocusRecord
	commits []Commit
	sites   [][]model.BlockedSite
}

func (e *events) listeners() Listeners {
	return Listeners{
		View:   func(_, next model.FocusRecord) { e.views = append(e.views, next) },
		Commit: func(c Commit) { e.commits = append(e.commits, c) },
		Sites:  func(l []model.BlockedSite) { e.sites = append(e.sites, l) },
	}
}

func newReplica(t *testing.T, store *fakeStore) (*Replica, *events) {
	t.Helper()
	r := New("acct", store, model.SourceMobile, nil)
	require.NoError(t, r.Refresh(context.Background()))
	ev := &events{}
	r.SetListeners(ev.listeners())
	return r, ev
}

func TestSetLockedConfirms(t *testing.T) {
	store := newFakeStore()
	r, ev := newReplica(t, store)

	dur := 1500
	require.NoError(t, r.SetLocked(context.Background(), true, &dur, t0))

	got := r.GetFocus()
	assert.True(t, got.Locked)
	assert.Equal(t, Confirmed, r.FocusState())
	assert.True(t, got.Equal(store.rec), "view settles on the store's record")
	require.Len(t, ev.commits, 1)
	assert.True(t, ev.commits[0].Own)
	assert.True(t, ev.commits[0].Next.Locked)
	// optimistic view first, then the store's timestamps
	require.Len(t, ev.views, 2)
	assert.True(t, ev.views[0].Locked)
}

func TestSetLockedNoOpWhenAlreadyThere(t *testing.T) {
	store := newFakeStore()
	r, ev := newReplica(t, store)

	require.NoError(t, r.SetLocked(context.Background(), false, nil, t0))
	assert.Empty(t, ev.views)
	assert.Equal(t, Clean, r.FocusState())
}

func TestSetLockedRollsBack(t *testing.T) {
	store := newFakeStore()
	r, ev := newReplica(t, store)
	store.failAll = &transport.UnavailableError{Op: "patch focus", Err: errors.New("down")}

	err := r.SetLocked(context.Background(), true, nil, t0)
	require.ErrorIs(t, err, transport.ErrTransportUnavailable)
	assert.False(t, r.GetFocus().Locked)
	assert.Equal(t, RolledBack, r.FocusState())
	assert.Empty(t, ev.commits)
	require.Len(t, ev.views, 2)
	assert.True(t, ev.views[0].Locked)
	assert.False(t, ev.views[1].Locked)
}

func TestToggleLosesRace(t *testing.T) {
	store := newFakeStore()
	r, ev := newReplica(t, store)
	// another client locks between our read and our write
	store.before = func() { store.before = nil; store.externalSet(true) }

	require.NoError(t, r.Toggle(context.Background(), nil, t0), "a lost race is reconciled, not reported")
	got := r.GetFocus()
	assert.True(t, got.Locked)
	assert.True(t, got.Equal(store.rec))
	require.Len(t, ev.commits, 1)
	assert.False(t, ev.commits[0].Own, "the other client caused the transition")
}

func TestExpireOnlyEndsItsOwnLock(t *testing.T) {
	store := newFakeStore()
	r, _ := newReplica(t, store)
	require.NoError(t, r.SetLocked(context.Background(), true, nil, t0))
	oldStart := *r.GetFocus().LockStartedAt

	// the lock is ended and restarted elsewhere before our expiry lands
	store.externalSet(false)
	newer := store.externalSet(true)

	require.NoError(t, r.Expire(context.Background(), oldStart, t0))
	got := r.GetFocus()
	assert.True(t, got.Locked)
	assert.True(t, got.LockStartedAt.Equal(*newer.LockStartedAt))
	assert.True(t, store.rec.Locked)
}

func TestApplyRemoteLastWriterWins(t *testing.T) {
	store := newFakeStore()
	r, ev := newReplica(t, store)

	newer := store.externalSet(true)
	assert.True(t, r.ApplyRemote(newer))
	older := model.Unlocked("acct", t0.Add(-time.Hour))
	assert.False(t, r.ApplyRemote(older))
	assert.True(t, r.GetFocus().Locked)

	assert.True(t, r.ApplyRemote(newer), "an equal stamp re-applies")
	require.Len(t, ev.commits, 1)
	assert.False(t, ev.commits[0].Own)

	other := newer
	other.AccountID = "someone-else"
	assert.False(t, r.ApplyRemote(other))

	bad := newer
	bad.LockStartedAt = nil
	bad.LastUpdated = newer.LastUpdated.Add(time.Hour)
	assert.False(t, r.ApplyRemote(bad), "malformed records are dropped")
}

func TestEchoBeforeAnswerYieldsOneOwnCommit(t *testing.T) {
	store := newFakeStore()
	r, ev := newReplica(t, store)

	op, ok := r.BeginSetLocked(true, nil, t0)
	require.True(t, ok)
	res, err := op.Exec(context.Background(), store)
	require.NoError(t, err)

	// the push echo overtakes the HTTP answer
	assert.True(t, r.ApplyRemote(res.Record))
	assert.Empty(t, ev.commits)
	assert.Equal(t, Pending, r.FocusState())

	require.NoError(t, r.Complete(op, res, nil))
	require.Len(t, ev.commits, 1)
	assert.True(t, ev.commits[0].Own)
	assert.True(t, r.GetFocus().Equal(res.Record))
}

func TestRemoteDuringPendingKeepsOptimisticView(t *testing.T) {
	store := newFakeStore()
	r, _ := newReplica(t, store)

	op, ok := r.BeginSetLocked(true, nil, t0)
	require.True(t, ok)
	assert.True(t, r.GetFocus().Locked)

	// an unrelated, newer unlocked record arrives while pending
	rec := model.Unlocked("acct", t0.Add(30*time.Second))
	assert.True(t, r.ApplyRemote(rec))
	assert.True(t, r.GetFocus().Locked, "still optimistic")

	require.Error(t, r.Complete(op, model.FocusResult{}, &transport.RejectedError{Op: "patch focus", Status: 400, Message: "bad"}))
	assert.True(t, r.GetFocus().Equal(rec))
}

func TestSitesOptimisticAndRollback(t *testing.T) {
	store := newFakeStore()
	r, ev := newReplica(t, store)
	ctx := context.Background()

	s, err := r.AddSite(ctx, "https://www.Reddit.com/r/all", "", t0)
	require.NoError(t, err)
	assert.Equal(t, "reddit.com", s.Domain)
	assert.Equal(t, []string{"reddit.com"}, model.Domains(r.GetSites()))
	assert.Equal(t, Confirmed, r.SiteState("reddit.com"))
	// optimistic row, then the confirmed one
	require.Len(t, ev.sites, 2)
	require.Len(t, ev.sites[0], 1)
	assert.Equal(t, t0, ev.sites[0][0].CreatedAt, "the optimistic row is stamped with the caller's time")

	store.failAll = &transport.UnavailableError{Op: "remove site", Err: errors.New("down")}
	require.Error(t, r.RemoveSite(ctx, "reddit.com"))
	assert.Equal(t, []string{"reddit.com"}, model.Domains(r.GetSites()), "the site reappears")
	assert.Equal(t, RolledBack, r.SiteState("reddit.com"))

	_, err = r.AddSite(ctx, "x.com", "", t0)
	require.Error(t, err)
	assert.Equal(t, []string{"reddit.com"}, model.Domains(r.GetSites()))

	_, err = r.AddSite(ctx, "", "", t0)
	assert.Error(t, err)
}

func TestApplyChangeRoutesTables(t *testing.T) {
	store := newFakeStore()
	r, _ := newReplica(t, store)

	list := []model.BlockedSite{
		{AccountID: "acct", Domain: "b.com", CreatedAt: t0.Add(time.Second)},
		{AccountID: "acct", Domain: "a.com", CreatedAt: t0},
	}
	ch, err := model.NewChange(transport.EventSnapshot, model.TableSites, "acct", list)
	require.NoError(t, err)
	require.NoError(t, r.ApplyChange(ch))
	assert.Equal(t, []string{"a.com", "b.com"}, model.Domains(r.GetSites()))

	ch, err = model.NewChange(model.EventDelete, model.TableSites, "acct", model.BlockedSite{AccountID: "acct", Domain: "a.com"})
	require.NoError(t, err)
	require.NoError(t, r.ApplyChange(ch))
	assert.Equal(t, []string{"b.com"}, model.Domains(r.GetSites()))

	ch, err = model.NewChange(model.EventUpdate, model.TableFocus, "acct", store.externalSet(true))
	require.NoError(t, err)
	require.NoError(t, r.ApplyChange(ch))
	assert.True(t, r.GetFocus().Locked)

	assert.Error(t, r.ApplyChange(model.Change{Table: model.TableFocus, Record: []byte("{")}))
}

func TestResetClearsState(t *testing.T) {
	store := newFakeStore()
	r, _ := newReplica(t, store)
	require.NoError(t, r.SetLocked(context.Background(), true, nil, t0))

	r.Reset("other")
	assert.Equal(t, "other", r.AccountID())
	assert.False(t, r.GetFocus().Locked)
	assert.Empty(t, r.GetSites())
	assert.Equal(t, Clean, r.FocusState())
}

func TestPolledSnapshotDropsUnconfirmedPush(t *testing.T) {
	stored := []model.BlockedSite{{ID: "s-a", AccountID: "acct", Domain: "a.com", CreatedAt: t0}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(stored)
	}))
	defer srv.Close()

	r := New("acct", newFakeStore(), model.SourceMobile, nil)
	ev := &events{}
	r.SetListeners(ev.listeners())
	tr := transport.New(transport.Options{API: transport.NewAPI(srv.URL, time.Second, nil, "acct", "tok")})
	tr.OnChange(model.TableSites, "", func(ch model.Change) { require.NoError(t, r.ApplyChange(ch)) })
	ctx := context.Background()

	tr.PollOnce(ctx)
	assert.Equal(t, []string{"a.com"}, model.Domains(r.GetSites()))
	require.Len(t, ev.sites, 1)

	// a push the store never kept; its DELETE never arrives
	r.ApplySiteChange(model.EventInsert, model.BlockedSite{AccountID: "acct", Domain: "b.com", CreatedAt: t0.Add(time.Second)})
	assert.Equal(t, []string{"a.com", "b.com"}, model.Domains(r.GetSites()))

	tr.PollOnce(ctx)
	assert.Equal(t, []string{"a.com"}, model.Domains(r.GetSites()), "an unchanged poll still restores the store's list")
	require.Len(t, ev.sites, 3)

	tr.PollOnce(ctx)
	assert.Len(t, ev.sites, 3, "an identical snapshot does not re-fire")
}
