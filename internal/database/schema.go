package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate.  Every statement is idempotent.
//
// sessions.open_account is a stored generated column that equals
// account_id while the session is open and NULL afterwards; the unique
// index on it lets MySQL enforce "at most one open session per account".
var schema = []string{
	`CREATE TABLE IF NOT EXISTS focus_records (
		account_id             VARCHAR(64)  NOT NULL PRIMARY KEY,
		locked                 BOOLEAN      NOT NULL DEFAULT FALSE,
		lock_started_at        DATETIME(6)  NULL,
		timer_duration_seconds INT          NULL,
		timer_end_at           DATETIME(6)  NULL,
		last_updated           DATETIME(6)  NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS blocked_sites (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		account_id VARCHAR(64)  NOT NULL,
		domain     VARCHAR(255) NOT NULL,
		icon       VARCHAR(32)  NOT NULL,
		created_at DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_blocked_sites_account_domain (account_id, domain),
		KEY idx_blocked_sites_account_created (account_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id               CHAR(36)    NOT NULL PRIMARY KEY,
		account_id       VARCHAR(64) NOT NULL,
		started_at       DATETIME(6) NOT NULL,
		ended_at         DATETIME(6) NULL,
		duration_seconds INT         NULL,
		source           VARCHAR(16) NOT NULL,
		completed        BOOLEAN     NOT NULL DEFAULT FALSE,
		open_account     VARCHAR(64) AS (IF(ended_at IS NULL, account_id, NULL)) STORED,
		UNIQUE KEY uq_sessions_open_account (open_account),
		KEY idx_sessions_account_started (account_id, started_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS blocked_attempts (
		id           CHAR(36)     NOT NULL PRIMARY KEY,
		account_id   VARCHAR(64)  NOT NULL,
		domain       VARCHAR(255) NOT NULL,
		session_id   CHAR(36)     NULL,
		attempted_at DATETIME(6)  NOT NULL,
		source       VARCHAR(16)  NOT NULL,
		KEY idx_blocked_attempts_account_time (account_id, attempted_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS link_codes (
		code       CHAR(6)     NOT NULL PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_link_codes_account (account_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema step %d: %w", i, err)
		}
	}
	return nil
}
