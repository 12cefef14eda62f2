// Package agent runs a client as one event loop.  Pushes, poll ticks,
// timer ticks and user actions are consumed by a single goroutine; remote
// calls run off the loop and post their completion back as MutationDone.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raulk/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/client/analytics"
	"github.com/iliyamo/brick-focus/internal/client/enforce"
	"github.com/iliyamo/brick-focus/internal/client/replica"
	"github.com/iliyamo/brick-focus/internal/client/shield"
	"github.com/iliyamo/brick-focus/internal/client/timer"
	"github.com/iliyamo/brick-focus/internal/client/transport"
	"github.com/iliyamo/brick-focus/internal/config"
	"github.com/iliyamo/brick-focus/internal/model"
)

// ErrStopped is returned by actions posted after the loop has exited.
var ErrStopped = errors.New("agent stopped")

const (
	eventBuffer = 64
	jobBuffer   = 128
)

// Options wires the components.  Transport should be built with
// ExternalPoll set: the loop owns the poll schedule.
type Options struct {
	Transport *transport.Transport
	Replica   *replica.Replica
	Timer     *timer.Engine
	Compiler  *enforce.Compiler
	Recorder  *analytics.Recorder
	Shield    shield.AppShield
	Selection shield.Selection
	NFC       shield.NFCReader
	Notifier  shield.Notifier
	Clock     clock.Clock
	Log       *zap.SugaredLogger
	// OnDisplay receives every timer tick.
	OnDisplay func(timer.Display)
}

type job func(ctx context.Context) error

type Agent struct {
	o   Options
	clk clock.Clock
	log *zap.SugaredLogger

	events     chan Event
	jobs       chan job
	sitesDirty chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	// ctx and calls belong to Run
	ctx   context.Context
	calls sync.WaitGroup

	// loop-owned: failed release writes of the current timed lock, and the
	// lock whose completion was last announced
	expireFails int
	expireFor   time.Time
	notified    time.Time
}

func New(o Options) *Agent {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	if o.Shield == nil {
		o.Shield = shield.UnavailableShield{Log: o.Log}
	}
	if o.NFC == nil {
		o.NFC = shield.UnavailableNFC{Log: o.Log}
	}
	if o.Notifier == nil {
		o.Notifier = shield.LogNotifier{Log: o.Log}
	}
	return &Agent{
		o:          o,
		clk:        o.Clock,
		log:        o.Log,
		events:     make(chan Event, eventBuffer),
		jobs:       make(chan job, jobBuffer),
		sitesDirty: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Status returns the visible Focus Record.
func (a *Agent) Status() model.FocusRecord { return a.o.Replica.GetFocus() }

func (a *Agent) Lock(ctx context.Context, duration *int) error {
	return a.do(ctx, Action{Op: OpLock, Duration: duration})
}

func (a *Agent) Unlock(ctx context.Context) error {
	return a.do(ctx, Action{Op: OpUnlock})
}

func (a *Agent) Toggle(ctx context.Context, duration *int) error {
	return a.do(ctx, Action{Op: OpToggle, Duration: duration})
}

func (a *Agent) AddSite(ctx context.Context, domain, icon string) error {
	return a.do(ctx, Action{Op: OpAddSite, Domain: domain, Icon: icon})
}

func (a *Agent) RemoveSite(ctx context.Context, domain string) error {
	return a.do(ctx, Action{Op: OpRemoveSite, Domain: domain})
}

// Rebind switches the agent to another account.  It satisfies
// pairing.Rebinder.
func (a *Agent) Rebind(ctx context.Context, s config.Scope) error {
	return a.do(ctx, Action{Op: OpRebind, Scope: s})
}

// BlockedAttempt satisfies enforce.AttemptSink.
func (a *Agent) BlockedAttempt(domain string) {
	a.post(Event{Kind: UserAction, Action: Action{Op: OpBlockedAttempt, Domain: domain}})
}

func (a *Agent) do(ctx context.Context, act Action) error {
	act.Reply = make(chan error, 1)
	if !a.post(Event{Kind: UserAction, Action: act}) {
		return ErrStopped
	}
	select {
	case err := <-act.Reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrStopped
	}
}

func (a *Agent) post(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = a.clk.Now()
	}
	select {
	case a.events <- ev:
		return true
	case <-a.done:
		return false
	}
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}

// Run owns the loop until ctx ends, then tears everything down.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.ctx = ctx
	a.wire()

	var bg sync.WaitGroup
	trErr := make(chan error, 1)
	bg.Add(2)
	go func() { defer bg.Done(); trErr <- a.o.Transport.Run(ctx) }()
	go func() { defer bg.Done(); a.runJobs(ctx) }()
	if a.o.NFC.Available() {
		bg.Add(1)
		go func() { defer bg.Done(); a.nfcLoop(ctx) }()
	}

	a.enforce(ctx, true)
	a.goCall(func(ctx context.Context) {
		if err := a.fetch(ctx); err != nil {
			a.log.Warnw("initial fetch failed, waiting for push or poll", "err", err)
		}
	})

	poll := a.clk.Ticker(a.o.Transport.PollInterval())
	defer poll.Stop()
	a.log.Infow("agent running", "account_id", a.o.Replica.AccountID())
	for {
		select {
		case <-ctx.Done():
			return a.teardown(&bg, trErr)
		case ev := <-a.events:
			a.handle(ctx, ev)
		case now := <-poll.C:
			a.handle(ctx, Event{Kind: PollTick, At: now})
		case now := <-a.o.Timer.C():
			a.handle(ctx, Event{Kind: TimerTick, At: now})
		case <-a.sitesDirty:
			a.enforce(ctx, false)
		}
	}
}

func (a *Agent) wire() {
	a.o.Transport.OnChange(model.TableFocus, "", a.remote)
	a.o.Transport.OnChange(model.TableSites, "", a.remote)
	a.o.Replica.SetListeners(replica.Listeners{
		View:   a.onView,
		Commit: a.onCommit,
		Sites:  a.onSites,
	})
	a.o.Timer.OnTick(a.o.OnDisplay)
	a.o.Timer.OnExpire(a.onExpire)
}

func (a *Agent) remote(ch model.Change) {
	a.post(Event{Kind: RemoteChange, Change: ch})
}

func (a *Agent) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case RemoteChange:
		if err := a.o.Replica.ApplyChange(ev.Change); err != nil {
			a.log.Warnw("dropping change", "table", ev.Change.Table, "err", err)
		}
	case PollTick:
		a.goCall(a.o.Transport.PollOnce)
	case TimerTick:
		a.o.Timer.Tick()
	case UserAction:
		a.act(ev.Action, ev.At)
	case MutationDone:
		d := ev.Done
		if d.Focus == nil {
			reply(d.Reply, d.Err)
			return
		}
		err := a.o.Replica.Complete(*d.Focus, d.Result, d.Err)
		if err != nil {
			a.log.Warnw("focus mutation rolled back", "locked", d.Focus.Patch.Locked, "err", err)
		}
		if d.Focus.Expiry {
			a.expiryDone(*d.Focus.Patch.IfLockStartedAt, err)
		}
		reply(d.Reply, err)
	}
}

func (a *Agent) act(act Action, now time.Time) {
	switch act.Op {
	case OpLock, OpUnlock:
		op, ok := a.o.Replica.BeginSetLocked(act.Op == OpLock, act.Duration, now)
		if !ok {
			reply(act.Reply, nil)
			return
		}
		a.exec(op, act.Reply)
	case OpToggle:
		a.exec(a.o.Replica.BeginToggle(act.Duration, now), act.Reply)
	case OpAddSite:
		a.goCall(func(ctx context.Context) {
			_, err := a.o.Replica.AddSite(ctx, act.Domain, act.Icon, now)
			a.post(Event{Kind: MutationDone, Done: Done{Err: err, Reply: act.Reply}})
		})
	case OpRemoveSite:
		a.goCall(func(ctx context.Context) {
			err := a.o.Replica.RemoveSite(ctx, act.Domain)
			a.post(Event{Kind: MutationDone, Done: Done{Err: err, Reply: act.Reply}})
		})
	case OpBlockedAttempt:
		domain := act.Domain
		a.enqueue(func(ctx context.Context) error { return a.o.Recorder.RecordAttempt(ctx, domain) })
		reply(act.Reply, nil)
	case OpRebind:
		// the recorder worker closes the old account's session in order
		// behind any open still queued, then hands back to the loop
		bind := Action{Op: opBind, Scope: act.Scope, Reply: act.Reply}
		queued := a.enqueue(func(ctx context.Context) error {
			err := a.o.Recorder.Release(ctx, now)
			a.post(Event{Kind: UserAction, Action: bind})
			return err
		})
		if !queued {
			a.act(bind, now)
		}
	case opBind:
		a.o.Transport.Connect(act.Scope.AccountID, act.Scope.Token)
		a.o.Replica.Reset(act.Scope.AccountID)
		a.expireFails = 0
		a.goCall(func(ctx context.Context) {
			err := a.fetch(ctx)
			a.post(Event{Kind: MutationDone, Done: Done{Err: err, Reply: act.Reply}})
		})
	}
}

// exec sends a focus mutation off the loop.
func (a *Agent) exec(op replica.FocusOp, rc chan error) {
	api := a.o.Transport.API()
	a.goCall(func(ctx context.Context) {
		res, err := op.Exec(ctx, api)
		a.post(Event{Kind: MutationDone, Done: Done{Focus: &op, Result: res, Err: err, Reply: rc}})
	})
}

func (a *Agent) goCall(fn func(context.Context)) {
	a.calls.Add(1)
	go func() {
		defer a.calls.Done()
		fn(a.ctx)
	}()
}

// fetch re-reads the Focus Record and the sites and feeds them to the
// loop like any other change.
func (a *Agent) fetch(ctx context.Context) error {
	api := a.o.Transport.API()
	f, err := api.GetFocus(ctx)
	if err != nil {
		return err
	}
	fc, err := model.NewChange(model.EventUpdate, model.TableFocus, f.AccountID, f)
	if err != nil {
		return err
	}
	a.post(Event{Kind: RemoteChange, Change: fc})

	sites, err := api.ListSites(ctx)
	if err != nil {
		return err
	}
	sc, err := model.NewChange(transport.EventSnapshot, model.TableSites, api.AccountID(), sites)
	if err != nil {
		return err
	}
	a.post(Event{Kind: RemoteChange, Change: sc})
	return nil
}

func (a *Agent) onView(prev, next model.FocusRecord) {
	a.o.Timer.Update(next)
	if prev.Locked != next.Locked {
		a.enforce(a.ctx, true)
	}
}

func (a *Agent) onCommit(c replica.Commit) {
	a.enqueue(func(ctx context.Context) error { return a.o.Recorder.OnCommit(ctx, c) })
}

// onSites may run off the loop (site writes block), so it only flags.
func (a *Agent) onSites([]model.BlockedSite) {
	select {
	case a.sitesDirty <- struct{}{}:
	default:
	}
}

func (a *Agent) onExpire(startedAt time.Time) {
	rec := a.o.Replica.GetFocus()
	if op, ok := a.o.Replica.BeginExpire(startedAt, a.clk.Now()); ok {
		a.exec(op, nil)
	}
	if a.notified.Equal(startedAt) {
		return
	}
	a.notified = startedAt
	if err := a.o.Notifier.Completed(a.ctx, rec); err != nil {
		a.log.Debugw("completion notifier failed", "err", err)
	}
}

// expiryDone follows up the release of a timed lock.  A release that
// rolled back leaves the lock showing; the timer is rearmed to try again
// on the transport backoff schedule until the store takes it or the lock
// ends some other way.
func (a *Agent) expiryDone(startedAt time.Time, err error) {
	if err == nil {
		a.expireFails = 0
		return
	}
	if !a.expireFor.Equal(startedAt) {
		a.expireFor, a.expireFails = startedAt, 0
	}
	a.expireFails++
	wait := transport.Backoff(a.expireFails)
	a.log.Warnw("lock release failed, retrying", "lock_started_at", startedAt, "attempt", a.expireFails, "retry_in", wait)
	a.o.Timer.Rearm(startedAt, wait)
}

// enforce re-applies the rule set; withShield also re-applies app
// shielding, which only depends on the lock.
func (a *Agent) enforce(ctx context.Context, withShield bool) {
	locked := a.o.Replica.GetFocus().Locked
	if err := a.o.Compiler.Apply(ctx, locked, a.o.Replica.GetSites()); err != nil {
		a.log.Warnw("enforcement apply failed", "locked", locked, "err", err)
	}
	if !withShield {
		return
	}
	if err := shield.Apply(ctx, a.o.Shield, locked, a.o.Selection); err != nil {
		a.log.Warnw("app shield failed", "locked", locked, "err", err)
	}
}

// enqueue hands recorder work to its worker, which runs jobs in order so a
// close never overtakes the open it belongs to.
func (a *Agent) enqueue(j job) bool {
	select {
	case a.jobs <- j:
		return true
	default:
		a.log.Warnw("recorder queue full, dropping job")
		return false
	}
}

func (a *Agent) runJobs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-a.jobs:
			if err := j(ctx); err != nil {
				a.log.Warnw("recorder job failed", "err", err)
			}
		}
	}
}

func (a *Agent) nfcLoop(ctx context.Context) {
	for {
		_, err := a.o.NFC.Scan(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, shield.ErrCapabilityUnavailable):
			return
		case err != nil:
			a.log.Debugw("nfc scan failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-a.clk.After(time.Second):
			}
			continue
		}
		a.post(Event{Kind: UserAction, Action: Action{Op: OpToggle}})
	}
}

func (a *Agent) teardown(bg *sync.WaitGroup, trErr <-chan error) error {
	a.o.Timer.Stop()
	a.stopOnce.Do(func() { close(a.done) })
	bg.Wait()
	a.calls.Wait()

	var err error
	if e := <-trErr; e != nil && !errors.Is(e, context.Canceled) && !errors.Is(e, context.DeadlineExceeded) {
		err = multierr.Append(err, e)
	}
	cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = multierr.Append(err, a.o.Compiler.Apply(cctx, false, nil))
	err = multierr.Append(err, a.o.Shield.Unshield(cctx))
	a.log.Infow("agent stopped")
	return err
}
