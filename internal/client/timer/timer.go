// Package timer derives the countdown or elapsed display from the cached
// Focus Record and detects expiry of timed locks.
//
// The engine never counts: every tick recomputes the display by
// subtracting timestamps, so a suspended process shows the right value
// the moment it ticks again.
package timer

import (
	"fmt"
	"time"

	"github.com/raulk/clock"
	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/model"
)

// TickInterval is the display refresh rate.
const TickInterval = time.Second

type Mode int

const (
	Idle Mode = iota
	CountingUp
	CountingDown
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case CountingUp:
		return "counting_up"
	case CountingDown:
		return "counting_down"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Display is what a UI shows for one tick.
type Display struct {
	Mode      Mode
	Elapsed   time.Duration
	Remaining time.Duration
}

// Text renders the value relevant to the mode as HH:MM:SS.
func (d Display) Text() string {
	switch d.Mode {
	case CountingDown:
		return FormatHHMMSS(d.Remaining)
	case CountingUp:
		return FormatHHMMSS(d.Elapsed)
	}
	return FormatHHMMSS(0)
}

// FormatHHMMSS formats d in whole seconds; hours are not wrapped.
func FormatHHMMSS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

type rearm struct {
	start, at time.Time
}

// Engine is owned by a single goroutine (the agent loop).  It is not safe
// for concurrent use.
type Engine struct {
	clk clock.Clock
	log *zap.SugaredLogger

	rec    model.FocusRecord
	mode   Mode
	ticker *clock.Ticker

	// lockStartedAt of the last lock whose expiry was emitted
	expired *time.Time
	// set by Rearm: the lock may not expire again before at
	retry *rearm

	onTick   func(Display)
	onExpire func(lockStartedAt time.Time)
}

// New returns an idle engine.  clk may be nil for the wall clock.
func New(clk clock.Clock, log *zap.SugaredLogger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{clk: clk, log: log}
}

// OnTick sets the display callback.
func (e *Engine) OnTick(fn func(Display)) { e.onTick = fn }

// OnExpire sets the expiry callback.  It fires once per lock, identified by
// its lockStartedAt, unless Rearm asks for another attempt.
func (e *Engine) OnExpire(fn func(lockStartedAt time.Time)) { e.onExpire = fn }

// Mode returns the current state.
func (e *Engine) Mode() Mode { return e.mode }

// C is the tick channel, nil while idle.
func (e *Engine) C() <-chan time.Time {
	if e.ticker == nil {
		return nil
	}
	return e.ticker.C
}

// Update feeds a new visible record.  The engine picks its mode from it,
// starts or stops ticking, and evaluates once immediately so an already
// past deadline expires without waiting for a tick.
func (e *Engine) Update(rec model.FocusRecord) Display {
	e.rec = rec.Clone()
	if e.retry != nil && (!rec.Locked || rec.LockStartedAt == nil || !rec.LockStartedAt.Equal(e.retry.start)) {
		e.retry = nil
	}
	switch {
	case !rec.Locked || rec.LockStartedAt == nil:
		e.setMode(Idle)
	case rec.TimerEndAt != nil:
		if e.expired != nil && e.expired.Equal(*rec.LockStartedAt) {
			// already fired for this lock; wait for the unlock to land
			e.setMode(Idle)
		} else {
			e.setMode(CountingDown)
		}
	default:
		e.setMode(CountingUp)
	}
	return e.Tick()
}

// Rearm lets the lock started at start expire again, no sooner than after
// from now.  It is for an expiry whose release never reached the store:
// the record still shows the lock, so the engine counts down again and
// re-fires once the delay has passed.  A record for another lock, or an
// unlock, cancels it.
func (e *Engine) Rearm(start time.Time, after time.Duration) {
	if e.expired != nil && e.expired.Equal(start) {
		e.expired = nil
	}
	e.retry = &rearm{start: start, at: e.clk.Now().Add(after)}
	if e.rec.Locked && e.rec.TimerEndAt != nil && e.rec.LockStartedAt != nil && e.rec.LockStartedAt.Equal(start) {
		e.setMode(CountingDown)
	}
}

func (e *Engine) setMode(m Mode) {
	if m == e.mode && (m == Idle) == (e.ticker == nil) {
		return
	}
	e.mode = m
	if m == Idle {
		e.stop()
		return
	}
	if e.ticker == nil {
		e.ticker = e.clk.Ticker(TickInterval)
	}
}

func (e *Engine) stop() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

// Tick recomputes the display at the engine clock's now, emits it, and
// fires expiry when a countdown has reached its end.
func (e *Engine) Tick() Display {
	now := e.clk.Now()
	d := Display{Mode: e.mode}
	switch e.mode {
	case CountingUp:
		d.Elapsed = nonNeg(now.Sub(*e.rec.LockStartedAt))
	case CountingDown:
		d.Elapsed = nonNeg(now.Sub(*e.rec.LockStartedAt))
		d.Remaining = nonNeg(e.rec.TimerEndAt.Sub(now))
	}
	if e.onTick != nil {
		e.onTick(d)
	}
	if e.mode == CountingDown && !now.Before(*e.rec.TimerEndAt) && (e.retry == nil || !now.Before(e.retry.at)) {
		start := *e.rec.LockStartedAt
		e.expired = &start
		e.retry = nil
		e.mode = Idle
		e.stop()
		e.log.Infow("timer expired", "lock_started_at", start)
		if e.onExpire != nil {
			e.onExpire(start)
		}
	}
	return d
}

// Stop halts ticking; used on teardown.
func (e *Engine) Stop() {
	e.mode = Idle
	e.stop()
}

func nonNeg(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
