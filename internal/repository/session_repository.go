package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/brick-focus/internal/model"
)

// SessionRepo provides data access to the sessions table.  The schema's
// open_account unique key guarantees a single open session per account;
// Open translates a violation into ErrConflict.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the provided database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionColumns = `id, account_id, started_at, ended_at, duration_seconds, source, completed`

func scanSession(row rowScanner) (model.Session, error) {
	var (
		s     model.Session
		ended sql.NullTime
		dur   sql.NullInt64
		src   string
	)
	if err := row.Scan(&s.ID, &s.AccountID, &s.StartedAt, &ended, &dur, &src, &s.Completed); err != nil {
		return model.Session{}, err
	}
	s.StartedAt = s.StartedAt.UTC()
	s.Source = model.Source(src)
	if ended.Valid {
		t := ended.Time.UTC()
		s.EndedAt = &t
	}
	if dur.Valid {
		d := int(dur.Int64)
		s.DurationSeconds = &d
	}
	return s, nil
}

// Open inserts a new open session starting at startedAt.
func (r *SessionRepo) Open(ctx context.Context, accountID string, source model.Source, startedAt time.Time) (model.Session, error) {
	s := model.Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		StartedAt: storeTime(startedAt),
		Source:    source,
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, started_at, source, completed) VALUES (?, ?, ?, ?, FALSE)`,
		s.ID, s.AccountID, s.StartedAt, string(s.Source))
	if isDuplicate(err) {
		return model.Session{}, ErrConflict
	}
	if err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// Close ends the session identified by id.  The duration is computed from
// the stored start, never from the caller's view of it.  Closing an
// already-closed session returns it unchanged with changed == false.
func (r *SessionRepo) Close(ctx context.Context, accountID, id string, endedAt time.Time) (model.Session, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	s, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND account_id = ? FOR UPDATE`, id, accountID))
	if err == sql.ErrNoRows {
		return model.Session{}, false, ErrNotFound
	}
	if err != nil {
		return model.Session{}, false, err
	}
	if !s.Open() {
		return s, false, tx.Commit()
	}

	end := storeTime(endedAt)
	if end.Before(s.StartedAt) {
		end = s.StartedAt
	}
	d := model.DurationBetween(s.StartedAt, end)
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, duration_seconds = ?, completed = TRUE WHERE id = ?`,
		end, d, s.ID); err != nil {
		return model.Session{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.Session{}, false, err
	}
	s.EndedAt, s.DurationSeconds, s.Completed = &end, &d, true
	return s, true, nil
}

// Active returns the account's open session or ErrNotFound.
func (r *SessionRepo) Active(ctx context.Context, accountID string) (model.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE open_account = ?`, accountID))
	if err == sql.ErrNoRows {
		return model.Session{}, ErrNotFound
	}
	return s, err
}

// List returns sessions started at or after since, newest first.  A
// non-positive limit means no limit.
func (r *SessionRepo) List(ctx context.Context, accountID string, since time.Time, limit int) ([]model.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions
	       WHERE account_id = ? AND started_at >= ?
	       ORDER BY started_at DESC`
	args := []any{accountID, storeTime(since)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
