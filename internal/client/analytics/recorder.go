// Package analytics records focus sessions and blocked attempts from the
// client side and computes the read-side projections.
package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/client/replica"
	"github.com/iliyamo/brick-focus/internal/client/transport"
	"github.com/iliyamo/brick-focus/internal/model"
	"github.com/iliyamo/brick-focus/internal/stats"
)

// Remote is the part of the transport the recorder needs.
type Remote interface {
	OpenSession(ctx context.Context, src model.Source) (model.Session, error)
	CloseSession(ctx context.Context, id string, endedAt time.Time) (model.Session, error)
	LogAttempt(ctx context.Context, domain string, sessionID *string, src model.Source) (model.BlockedAttempt, error)
	ListSessions(ctx context.Context, since time.Time, limit int) ([]model.Session, error)
	ListAttempts(ctx context.Context, since time.Time) ([]model.BlockedAttempt, error)
}

// statsWindowDays bounds how far back Stats reads sessions for the streak.
const statsWindowDays = 366

// statsSessionLimit caps the session rows Stats reads.
const statsSessionLimit = 1000

// Recorder turns lock commits into Session rows.  Only the client whose
// own write flipped the lock opens a session; whichever client knows the
// open session id closes it.  The id lives only for the process lifetime.
type Recorder struct {
	remote Remote
	source model.Source
	log    *zap.SugaredLogger

	mu     sync.Mutex
	openID string
}

func NewRecorder(remote Remote, source model.Source, log *zap.SugaredLogger) *Recorder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Recorder{remote: remote, source: source, log: log}
}

// OpenSessionID returns the session this client opened, or "".
func (r *Recorder) OpenSessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openID
}

// Release closes the session this client opened, if any, ending it at
// endedAt, and then drops it.  It runs before switching account, while the
// transport still speaks for the old one; the id is dropped even if the
// close fails.
func (r *Recorder) Release(ctx context.Context, endedAt time.Time) error {
	err := r.close(ctx, endedAt)
	r.mu.Lock()
	r.openID = ""
	r.mu.Unlock()
	return err
}

// OnCommit reacts to a confirmed lock transition.
func (r *Recorder) OnCommit(ctx context.Context, c replica.Commit) error {
	switch {
	case c.Next.Locked && c.Own:
		return r.open(ctx)
	case !c.Next.Locked:
		end := c.Next.LastUpdated
		if end.IsZero() {
			end = time.Now().UTC()
		}
		return r.close(ctx, end)
	}
	return nil
}

func (r *Recorder) open(ctx context.Context) error {
	s, err := r.remote.OpenSession(ctx, r.source)
	if err != nil {
		if transport.IsConflict(err) {
			// another session is already open for the account; someone
			// else will close it
			r.log.Infow("session already open", "err", err)
			return nil
		}
		return err
	}
	r.mu.Lock()
	r.openID = s.ID
	r.mu.Unlock()
	r.log.Infow("session opened", "session_id", s.ID, "source", r.source)
	return nil
}

func (r *Recorder) close(ctx context.Context, endedAt time.Time) error {
	r.mu.Lock()
	id := r.openID
	r.mu.Unlock()
	if id == "" {
		return nil
	}
	s, err := r.remote.CloseSession(ctx, id, endedAt)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.openID == id {
		r.openID = ""
	}
	r.mu.Unlock()
	dur := 0
	if s.DurationSeconds != nil {
		dur = *s.DurationSeconds
	}
	r.log.Infow("session closed", "session_id", id, "duration_s", dur)
	return nil
}

// RecordAttempt appends a blocked attempt tagged with the open session,
// if this client knows one.
func (r *Recorder) RecordAttempt(ctx context.Context, domain string) error {
	r.mu.Lock()
	var sid *string
	if r.openID != "" {
		id := r.openID
		sid = &id
	}
	r.mu.Unlock()
	_, err := r.remote.LogAttempt(ctx, domain, sid, r.source)
	return err
}

// Stats reads the rows for the projection windows and computes them.  A
// read failure yields the zeroed result.
func (r *Recorder) Stats(ctx context.Context, now time.Time) model.Stats {
	sessions, err := r.remote.ListSessions(ctx, stats.StartOfDay(now).AddDate(0, 0, -statsWindowDays), statsSessionLimit)
	if err != nil {
		r.log.Warnw("stats: sessions unavailable", "err", err)
		return stats.Empty()
	}
	attempts, err := r.remote.ListAttempts(ctx, time.Unix(0, 0).UTC())
	if err != nil {
		r.log.Warnw("stats: attempts unavailable", "err", err)
		return stats.Empty()
	}
	return stats.All(now, sessions, attempts)
}

// History summarises every closed session; zeroed on failure.
func (r *Recorder) History(ctx context.Context) model.HistoryStats {
	sessions, err := r.remote.ListSessions(ctx, time.Unix(0, 0).UTC(), statsSessionLimit)
	if err != nil {
		r.log.Warnw("history unavailable", "err", err)
		return model.HistoryStats{}
	}
	return stats.History(sessions)
}
