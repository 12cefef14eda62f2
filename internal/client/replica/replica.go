// Package replica holds the client's cached copy of the Focus Record and
// the Blocked Site list.  Local writes are applied optimistically and then
// confirmed or rolled back; remote records are accepted last-writer-wins on
// the store's lastUpdated stamp.
package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/client/transport"
	"github.com/iliyamo/brick-focus/internal/model"
)

// Remote is the slice of the transport the replica writes through.
type Remote interface {
	GetFocus(ctx context.Context) (model.FocusRecord, error)
	PatchFocus(ctx context.Context, p model.FocusPatch) (model.FocusResult, error)
	ListSites(ctx context.Context) ([]model.BlockedSite, error)
	AddSite(ctx context.Context, domain, icon string) (model.BlockedSite, error)
	RemoveSite(ctx context.Context, domain string) error
}

// State is the per-entity write state.
type State int

const (
	Clean State = iota
	Pending
	Confirmed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Commit describes a change of the store-confirmed locked flag.  Own is
// true only when this client's write caused it.
type Commit struct {
	Prev, Next model.FocusRecord
	Own        bool
}

// Listeners are invoked synchronously, outside the replica's lock.
type Listeners struct {
	// View fires whenever the visible record changes, optimistic or not.
	View func(prev, next model.FocusRecord)
	// Commit fires when the confirmed locked flag flips.
	Commit func(Commit)
	// Sites fires whenever the visible site list changes.
	Sites func([]model.BlockedSite)
}

// Replica is safe for concurrent use, but is designed to be driven from
// one event loop.
type Replica struct {
	remote Remote
	source model.Source
	log    *zap.SugaredLogger

	mu        sync.Mutex
	accountID string
	base      model.FocusRecord // last record accepted from the store
	view      model.FocusRecord // base, or the optimistic record while pending
	haveBase  bool
	state     State
	inflight  int
	held      *model.FocusRecord // base when commits started being held
	heldKnown bool
	heldOwn   bool

	sites      map[string]model.BlockedSite // confirmed
	siteView   map[string]model.BlockedSite
	siteStates map[string]State

	ls Listeners
}

// New returns an empty replica for accountID.
func New(accountID string, remote Remote, source model.Source, log *zap.SugaredLogger) *Replica {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Replica{
		remote:     remote,
		source:     source,
		log:        log,
		accountID:  accountID,
		base:       model.FocusRecord{AccountID: accountID},
		view:       model.FocusRecord{AccountID: accountID},
		sites:      map[string]model.BlockedSite{},
		siteView:   map[string]model.BlockedSite{},
		siteStates: map[string]State{},
	}
}

// SetListeners replaces the notification hooks.
func (r *Replica) SetListeners(ls Listeners) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ls = ls
}

// Reset clears everything and rebinds to accountID, e.g. after pairing.
// Listeners are told about the now-empty view.
func (r *Replica) Reset(accountID string) {
	r.mu.Lock()
	prev := r.view
	r.accountID = accountID
	r.base = model.FocusRecord{AccountID: accountID}
	r.view = r.base
	r.haveBase = false
	r.state = Clean
	r.inflight = 0
	r.held, r.heldKnown, r.heldOwn = nil, false, false
	r.sites = map[string]model.BlockedSite{}
	r.siteView = map[string]model.BlockedSite{}
	r.siteStates = map[string]State{}
	ls := r.ls
	next := r.view
	r.mu.Unlock()

	if ls.View != nil && !prev.Equal(next) {
		ls.View(prev, next)
	}
	if ls.Sites != nil {
		ls.Sites(nil)
	}
}

// AccountID returns the account this replica mirrors.
func (r *Replica) AccountID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accountID
}

// GetFocus returns the visible record.
func (r *Replica) GetFocus() model.FocusRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Clone()
}

// FocusState returns the write state of the Focus Record.
func (r *Replica) FocusState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Refresh fetches the record and the site list from the store.
func (r *Replica) Refresh(ctx context.Context) error {
	f, err := r.remote.GetFocus(ctx)
	if err != nil {
		return err
	}
	r.ApplyRemote(f)
	sites, err := r.remote.ListSites(ctx)
	if err != nil {
		return err
	}
	r.ApplySiteSnapshot(sites)
	return nil
}

// ApplyRemote offers a record observed through a push or a poll.  It is
// accepted only if it is not older than the cached one and belongs to this
// account; it reports whether it was accepted.
func (r *Replica) ApplyRemote(rec model.FocusRecord) bool {
	if rec.Validate() != nil {
		r.log.Warnw("replica: dropping invalid focus record", "account", rec.AccountID)
		return false
	}
	r.mu.Lock()
	if rec.AccountID != r.accountID {
		r.mu.Unlock()
		return false
	}
	n, ok := r.acceptLocked(rec, false)
	r.mu.Unlock()
	if ok {
		n.fire()
	}
	return ok
}

// notice collects listener calls so they run after the lock is released.
type notice struct {
	ls         Listeners
	view       bool
	prev, next model.FocusRecord
	commit     *Commit
}

func (n notice) fire() {
	if n.view && n.ls.View != nil {
		n.ls.View(n.prev, n.next)
	}
	if n.commit != nil && n.ls.Commit != nil {
		n.ls.Commit(*n.commit)
	}
}

// acceptLocked applies LWW against base.  While a write is in flight the
// visible record stays optimistic and lock commits are held back, so the
// push echo of our own write and its HTTP answer yield a single commit.
func (r *Replica) acceptLocked(rec model.FocusRecord, own bool) (notice, bool) {
	if r.haveBase && !rec.NotOlderThan(r.base) {
		return notice{}, false
	}
	prevBase, hadBase := r.base, r.haveBase
	r.base = rec.Clone()
	r.haveBase = true

	n := notice{ls: r.ls}
	if r.inflight > 0 {
		if r.held == nil {
			r.held = &prevBase
			r.heldKnown = hadBase
		}
		r.heldOwn = r.heldOwn || own
		return n, true
	}
	if (hadBase || own) && prevBase.Locked != rec.Locked {
		n.commit = &Commit{Prev: prevBase, Next: rec.Clone(), Own: own}
	}
	if !r.view.Equal(rec) {
		n.view, n.prev, n.next = true, r.view, rec.Clone()
		r.view = rec.Clone()
	}
	return n, true
}

// settleLocked runs once no write is in flight: it releases a held commit
// and moves the view back onto base.
func (r *Replica) settleLocked(n *notice) {
	if r.held != nil {
		from := *r.held
		if (r.heldKnown || r.heldOwn) && from.Locked != r.base.Locked {
			n.commit = &Commit{Prev: from, Next: r.base.Clone(), Own: r.heldOwn}
		}
		r.held, r.heldKnown, r.heldOwn = nil, false, false
	}
	if !r.view.Equal(r.base) {
		n.view, n.prev, n.next = true, r.view, r.base.Clone()
		r.view = r.base.Clone()
	}
}

// FocusOp is one in-flight focus mutation, produced by Begin and finished
// by Complete.  Exec is the only part that blocks.
type FocusOp struct {
	Patch model.FocusPatch
	// Expiry marks the release of a timed lock; the lock is named by
	// Patch.IfLockStartedAt.
	Expiry bool
}

// Exec sends the mutation.  It may run on any goroutine.
func (op FocusOp) Exec(ctx context.Context, remote Remote) (model.FocusResult, error) {
	return remote.PatchFocus(ctx, op.Patch)
}

// BeginSetLocked applies the optimistic record for locked (with an
// optional countdown in seconds) and returns the mutation to send.  ok is
// false when the visible record already has that flag.
func (r *Replica) BeginSetLocked(locked bool, duration *int, now time.Time) (FocusOp, bool) {
	return r.begin(model.FocusPatch{Locked: locked, TimerDurationSeconds: duration}, now, false)
}

// BeginToggle flips the visible flag; the mutation is conditional on the
// store still holding the flag this client saw.
func (r *Replica) BeginToggle(duration *int, now time.Time) FocusOp {
	r.mu.Lock()
	cur := r.view.Locked
	r.mu.Unlock()
	op, _ := r.begin(model.FocusPatch{Locked: !cur, TimerDurationSeconds: duration, IfLocked: &cur}, now, true)
	return op
}

// BeginExpire releases the lock started at startedAt.  It is conditional on
// that lock still being the current one, so a late expiry can never end a
// newer lock.
func (r *Replica) BeginExpire(startedAt time.Time, now time.Time) (FocusOp, bool) {
	s := startedAt
	op, ok := r.begin(model.FocusPatch{Locked: false, IfLockStartedAt: &s}, now, false)
	op.Expiry = ok
	return op, ok
}

func (r *Replica) begin(p model.FocusPatch, now time.Time, force bool) (FocusOp, bool) {
	p.Source = r.source
	r.mu.Lock()
	if !force && r.view.Locked == p.Locked {
		r.mu.Unlock()
		return FocusOp{}, false
	}
	prev := r.view
	opt := optimistic(r.view, p, now)
	r.view = opt
	r.state = Pending
	r.inflight++
	ls := r.ls
	r.mu.Unlock()

	if ls.View != nil && !prev.Equal(opt) {
		ls.View(prev, opt)
	}
	return FocusOp{Patch: p}, true
}

// optimistic predicts the store's answer using the local clock.  The
// store's own timestamps replace it on confirmation.
func optimistic(cur model.FocusRecord, p model.FocusPatch, now time.Time) model.FocusRecord {
	next := model.FocusRecord{AccountID: cur.AccountID, Locked: p.Locked, LastUpdated: cur.LastUpdated}
	if p.Locked {
		start := now.UTC()
		next.LockStartedAt = &start
		if p.TimerDurationSeconds != nil && *p.TimerDurationSeconds > 0 {
			d := *p.TimerDurationSeconds
			end := start.Add(time.Duration(d) * time.Second)
			next.TimerDurationSeconds = &d
			next.TimerEndAt = &end
		}
	}
	return next
}

// Complete finishes op with the transport's answer.  A stale write is
// reconciled silently and reported as nil; other failures roll the visible
// record back and are returned.
func (r *Replica) Complete(op FocusOp, res model.FocusResult, err error) error {
	r.mu.Lock()
	var out error
	var stale *transport.StaleWriteError
	switch {
	case err == nil:
		r.acceptLocked(res.Record, res.Transitioned)
		r.state = Confirmed
	case errors.As(err, &stale):
		r.acceptLocked(stale.Current, false)
		r.state = Confirmed
		r.log.Debugw("replica: stale write reconciled", "locked", stale.Current.Locked, "wanted", op.Patch.Locked)
	default:
		r.state = RolledBack
		out = err
	}
	if r.inflight > 0 {
		r.inflight--
	}
	n := notice{ls: r.ls}
	if r.inflight == 0 {
		r.settleLocked(&n)
	}
	r.mu.Unlock()

	n.fire()
	return out
}

// SetLocked is the blocking form: optimistic apply, remote write,
// confirmation or rollback.
func (r *Replica) SetLocked(ctx context.Context, locked bool, duration *int, now time.Time) error {
	op, ok := r.BeginSetLocked(locked, duration, now)
	if !ok {
		return nil
	}
	res, err := op.Exec(ctx, r.remote)
	return r.Complete(op, res, err)
}

// Toggle is the blocking form of BeginToggle.
func (r *Replica) Toggle(ctx context.Context, duration *int, now time.Time) error {
	op := r.BeginToggle(duration, now)
	res, err := op.Exec(ctx, r.remote)
	return r.Complete(op, res, err)
}

// Expire is the blocking form of BeginExpire.
func (r *Replica) Expire(ctx context.Context, startedAt, now time.Time) error {
	op, ok := r.BeginExpire(startedAt, now)
	if !ok {
		return nil
	}
	res, err := op.Exec(ctx, r.remote)
	return r.Complete(op, res, err)
}

// ApplyChange routes a transport change for the focus or sites table.
func (r *Replica) ApplyChange(ch model.Change) error {
	switch ch.Table {
	case model.TableFocus:
		var f model.FocusRecord
		if err := json.Unmarshal(ch.Record, &f); err != nil {
			return fmt.Errorf("decode focus change: %w", err)
		}
		r.ApplyRemote(f)
	case model.TableSites:
		if ch.Event == transport.EventSnapshot {
			var list []model.BlockedSite
			if err := json.Unmarshal(ch.Record, &list); err != nil {
				return fmt.Errorf("decode site snapshot: %w", err)
			}
			r.ApplySiteSnapshot(list)
			return nil
		}
		var s model.BlockedSite
		if err := json.Unmarshal(ch.Record, &s); err != nil {
			return fmt.Errorf("decode site change: %w", err)
		}
		r.ApplySiteChange(ch.Event, s)
	}
	return nil
}

func sortedSites(m map[string]model.BlockedSite) []model.BlockedSite {
	out := make([]model.BlockedSite, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}
