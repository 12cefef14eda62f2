// Package repository defines the MySQL repositories of the record store and
// the error values they share.  These sentinel values allow handlers to
// distinguish between different failure scenarios: ErrNotFound maps to 404,
// ErrConflict to 409 (duplicate site, second open session, code collision)
// and ErrStaleWrite to 409 with the current record attached, signalling
// that a conditional focus update lost a race.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the addressed row does not exist for the
// calling account.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert would violate a uniqueness rule.
var ErrConflict = errors.New("conflict")

// ErrStaleWrite is returned by FocusRepo.Set when the caller's
// precondition no longer matches the stored record.
var ErrStaleWrite = errors.New("stale write")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
