package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/brick-focus/internal/model"
)

// LinkCodeRepo provides data access to the link_codes table.  An account
// owns at most one row; Issue replaces it.  Rows are not deleted on
// redemption, only by the next Issue or by PurgeExpired.
type LinkCodeRepo struct {
	db *sql.DB
}

// NewLinkCodeRepo returns a new LinkCodeRepo bound to the provided database.
func NewLinkCodeRepo(db *sql.DB) *LinkCodeRepo { return &LinkCodeRepo{db: db} }

// Issue deletes any existing code of the account and stores code with an
// expiry of now + model.LinkCodeTTL.  If code is already taken by another
// account the call returns ErrConflict and the caller should draw again.
func (r *LinkCodeRepo) Issue(ctx context.Context, accountID, code string, now time.Time) (model.LinkCode, error) {
	lc := model.LinkCode{
		Code:      code,
		AccountID: accountID,
		CreatedAt: storeTime(now),
	}
	lc.ExpiresAt = lc.CreatedAt.Add(model.LinkCodeTTL)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.LinkCode{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM link_codes WHERE account_id = ?`, accountID); err != nil {
		return model.LinkCode{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO link_codes (code, account_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		lc.Code, lc.AccountID, lc.ExpiresAt, lc.CreatedAt)
	if isDuplicate(err) {
		return model.LinkCode{}, ErrConflict
	}
	if err != nil {
		return model.LinkCode{}, err
	}
	return lc, tx.Commit()
}

// Find returns the row for code or ErrNotFound.  Expiry is the caller's
// decision so it can tell "expired" from "never existed".
func (r *LinkCodeRepo) Find(ctx context.Context, code string) (model.LinkCode, error) {
	var lc model.LinkCode
	err := r.db.QueryRowContext(ctx,
		`SELECT code, account_id, expires_at, created_at FROM link_codes WHERE code = ?`, code).
		Scan(&lc.Code, &lc.AccountID, &lc.ExpiresAt, &lc.CreatedAt)
	if err == sql.ErrNoRows {
		return model.LinkCode{}, ErrNotFound
	}
	if err != nil {
		return model.LinkCode{}, err
	}
	lc.ExpiresAt, lc.CreatedAt = lc.ExpiresAt.UTC(), lc.CreatedAt.UTC()
	return lc, nil
}

// PurgeExpired removes codes that expired before cutoff and reports how
// many rows were deleted.
func (r *LinkCodeRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM link_codes WHERE expires_at < ?`, storeTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
