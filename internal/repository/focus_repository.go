package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/brick-focus/internal/model"
)

// FocusRepo provides access to the focus_records table.  It is the only
// serialization point between concurrent clients: every Set runs inside a
// transaction that locks the account's row, evaluates the caller's
// precondition against it, and writes the next state with a store-assigned
// timestamp.
type FocusRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewFocusRepo returns a new FocusRepo bound to the provided database.
func NewFocusRepo(db *sql.DB) *FocusRepo { return &FocusRepo{db: db, now: time.Now} }

const focusColumns = `account_id, locked, lock_started_at, timer_duration_seconds, timer_end_at, last_updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFocus(row rowScanner) (model.FocusRecord, error) {
	var (
		f       model.FocusRecord
		started sql.NullTime
		dur     sql.NullInt64
		endAt   sql.NullTime
	)
	if err := row.Scan(&f.AccountID, &f.Locked, &started, &dur, &endAt, &f.LastUpdated); err != nil {
		return model.FocusRecord{}, err
	}
	if started.Valid {
		t := started.Time.UTC()
		f.LockStartedAt = &t
	}
	if dur.Valid {
		d := int(dur.Int64)
		f.TimerDurationSeconds = &d
	}
	if endAt.Valid {
		t := endAt.Time.UTC()
		f.TimerEndAt = &t
	}
	f.LastUpdated = f.LastUpdated.UTC()
	return f, nil
}

// Get returns the account's record, creating the default unlocked row on
// first read.
func (r *FocusRepo) Get(ctx context.Context, accountID string) (model.FocusRecord, error) {
	f, err := scanFocus(r.db.QueryRowContext(ctx,
		`SELECT `+focusColumns+` FROM focus_records WHERE account_id = ?`, accountID))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.FocusRecord{}, err
	}
	if err := r.ensure(ctx, r.db, accountID); err != nil {
		return model.FocusRecord{}, err
	}
	return scanFocus(r.db.QueryRowContext(ctx,
		`SELECT `+focusColumns+` FROM focus_records WHERE account_id = ?`, accountID))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensure inserts the default row if none exists.  INSERT IGNORE keeps two
// racing first reads from failing.
func (r *FocusRepo) ensure(ctx context.Context, db execer, accountID string) error {
	_, err := db.ExecContext(ctx,
		`INSERT IGNORE INTO focus_records (account_id, locked, last_updated) VALUES (?, FALSE, ?)`,
		accountID, storeTime(r.now()))
	return err
}

// Set applies patch to the account's record.  It returns ErrStaleWrite
// together with the current record when the precondition fails.
func (r *FocusRepo) Set(ctx context.Context, accountID string, patch model.FocusPatch) (model.FocusResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.FocusResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.ensure(ctx, tx, accountID); err != nil {
		return model.FocusResult{}, err
	}
	cur, err := scanFocus(tx.QueryRowContext(ctx,
		`SELECT `+focusColumns+` FROM focus_records WHERE account_id = ? FOR UPDATE`, accountID))
	if err != nil {
		return model.FocusResult{}, err
	}

	next, transitioned, err := NextFocus(cur, patch, r.now())
	if err != nil {
		return model.FocusResult{Record: cur}, err
	}
	if !transitioned {
		return model.FocusResult{Record: cur}, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE focus_records
		    SET locked = ?, lock_started_at = ?, timer_duration_seconds = ?, timer_end_at = ?, last_updated = ?
		  WHERE account_id = ?`,
		next.Locked, nullTime(next.LockStartedAt), nullInt(next.TimerDurationSeconds), nullTime(next.TimerEndAt),
		next.LastUpdated, accountID)
	if err != nil {
		return model.FocusResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.FocusResult{}, err
	}
	return model.FocusResult{Record: next, Transitioned: true}, nil
}

// NextFocus computes the record that results from applying patch to cur at
// store time now.  It is the whole of the store's focus logic:
//
//   - a precondition that does not hold yields ErrStaleWrite;
//   - a patch that does not change the locked flag is a no-op (so a second
//     deactivate, e.g. from another client observing the same expiry,
//     changes nothing and reports transitioned == false);
//   - locking stamps lockStartedAt and, for a positive duration, timerEndAt;
//   - unlocking clears every lock field;
//   - lastUpdated strictly increases even if the store clock stalls.
func NextFocus(cur model.FocusRecord, patch model.FocusPatch, now time.Time) (model.FocusRecord, bool, error) {
	if patch.IfLocked != nil && *patch.IfLocked != cur.Locked {
		return cur, false, ErrStaleWrite
	}
	if patch.IfLockStartedAt != nil {
		if cur.LockStartedAt == nil || !cur.LockStartedAt.Equal(storeTime(*patch.IfLockStartedAt)) {
			return cur, false, ErrStaleWrite
		}
	}
	if patch.Locked == cur.Locked {
		return cur, false, nil
	}

	stamp := storeTime(now)
	if floor := cur.LastUpdated.Add(time.Microsecond); stamp.Before(floor) {
		stamp = floor
	}
	next := model.FocusRecord{AccountID: cur.AccountID, Locked: patch.Locked, LastUpdated: stamp}
	if patch.Locked {
		started := stamp
		next.LockStartedAt = &started
		if patch.TimerDurationSeconds != nil && *patch.TimerDurationSeconds > 0 {
			d := *patch.TimerDurationSeconds
			end := started.Add(time.Duration(d) * time.Second)
			next.TimerDurationSeconds = &d
			next.TimerEndAt = &end
		}
	}
	return next, true, nil
}

// storeTime normalises a timestamp to what DATETIME(6) round-trips.
func storeTime(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: storeTime(*t), Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
