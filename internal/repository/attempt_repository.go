package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/brick-focus/internal/model"
)

// AttemptRepo appends to and reads the blocked_attempts log.  Rows are
// never updated or deleted.
type AttemptRepo struct {
	db *sql.DB
}

func NewAttemptRepo(db *sql.DB) *AttemptRepo { return &AttemptRepo{db: db} }

// Insert appends a. ID and AccountID are assigned here.
func (r *AttemptRepo) Insert(ctx context.Context, accountID string, a model.BlockedAttempt) (model.BlockedAttempt, error) {
	a.ID = uuid.NewString()
	a.AccountID = accountID
	a.AttemptedAt = storeTime(a.AttemptedAt)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blocked_attempts (id, account_id, domain, session_id, attempted_at, source)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountID, a.Domain, nullString(a.SessionID), a.AttemptedAt, string(a.Source))
	if err != nil {
		return model.BlockedAttempt{}, err
	}
	return a, nil
}

// List returns attempts at or after since, oldest first.
func (r *AttemptRepo) List(ctx context.Context, accountID string, since time.Time) ([]model.BlockedAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, domain, session_id, attempted_at, source
		   FROM blocked_attempts
		  WHERE account_id = ? AND attempted_at >= ?
		  ORDER BY attempted_at`, accountID, storeTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.BlockedAttempt{}
	for rows.Next() {
		var (
			a   model.BlockedAttempt
			sid sql.NullString
			src string
		)
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Domain, &sid, &a.AttemptedAt, &src); err != nil {
			return nil, err
		}
		if sid.Valid {
			v := sid.String
			a.SessionID = &v
		}
		a.Source = model.Source(src)
		a.AttemptedAt = a.AttemptedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
