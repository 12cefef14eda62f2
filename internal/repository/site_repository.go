package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/brick-focus/internal/model"
)

// SiteRepo provides data access to the blocked_sites table.  Domains are
// expected to be normalised by the caller.
type SiteRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSiteRepo returns a new SiteRepo bound to the provided database.
func NewSiteRepo(db *sql.DB) *SiteRepo { return &SiteRepo{db: db, now: time.Now} }

// List returns the account's sites in creation order.
func (r *SiteRepo) List(ctx context.Context, accountID string) ([]model.BlockedSite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, domain, icon, created_at
		   FROM blocked_sites
		  WHERE account_id = ?
		  ORDER BY created_at, domain`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sites := []model.BlockedSite{}
	for rows.Next() {
		var s model.BlockedSite
		if err := rows.Scan(&s.ID, &s.AccountID, &s.Domain, &s.Icon, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.CreatedAt = s.CreatedAt.UTC()
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// Add inserts a site.  A duplicate (account, domain) yields ErrConflict.
func (r *SiteRepo) Add(ctx context.Context, accountID, domain, icon string) (model.BlockedSite, error) {
	if icon == "" {
		icon = model.DefaultSiteIcon
	}
	s := model.BlockedSite{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Domain:    domain,
		Icon:      icon,
		CreatedAt: storeTime(r.now()),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blocked_sites (id, account_id, domain, icon, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.AccountID, s.Domain, s.Icon, s.CreatedAt)
	if isDuplicate(err) {
		return model.BlockedSite{}, ErrConflict
	}
	if err != nil {
		return model.BlockedSite{}, err
	}
	return s, nil
}

// Remove deletes a site and returns the deleted row so the change feed can
// carry it.  A missing row yields ErrNotFound.
func (r *SiteRepo) Remove(ctx context.Context, accountID, domain string) (model.BlockedSite, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.BlockedSite{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var s model.BlockedSite
	err = tx.QueryRowContext(ctx,
		`SELECT id, account_id, domain, icon, created_at FROM blocked_sites
		  WHERE account_id = ? AND domain = ? FOR UPDATE`, accountID, domain).
		Scan(&s.ID, &s.AccountID, &s.Domain, &s.Icon, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return model.BlockedSite{}, ErrNotFound
	}
	if err != nil {
		return model.BlockedSite{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocked_sites WHERE id = ?`, s.ID); err != nil {
		return model.BlockedSite{}, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, tx.Commit()
}
