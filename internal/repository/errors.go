// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. ErrConflict in particular is what a UNIQUE index violation
// surfaces as, most importantly the (showtime_id, seat_id) index on
// tickets that guarantees a seat is never sold twice.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write violates a uniqueness
// constraint, such as a ticket for a seat that another invoice
// already holds. Handlers should translate this into an HTTP 409
// response.
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when a lookup by key matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned, alongside ErrConflict, when a write collides
// on a primary key rather than on a business unique index.  It means an
// issued identifier was taken by another writer.
var ErrDuplicateID = errors.New("identifier already in use")

const (
	mysqlDuplicateEntry  = 1062 // ER_DUP_ENTRY
	mysqlLockWaitTimeout = 1205 // ER_LOCK_WAIT_TIMEOUT
	mysqlDeadlock        = 1213 // ER_LOCK_DEADLOCK
)

func mysqlErr(err error) (*mysql.MySQLError, bool) {
	var me *mysql.MySQLError
	ok := errors.As(err, &me)
	return me, ok
}

// IsDuplicateKey reports whether err is a MySQL duplicate key error.
func IsDuplicateKey(err error) bool {
	me, ok := mysqlErr(err)
	return ok && me.Number == mysqlDuplicateEntry
}

// isDuplicatePrimary reports a duplicate on the PRIMARY key.  The server
// names the key last: "... for key 'PRIMARY'" or "... for key 'tickets.PRIMARY'".
func isDuplicatePrimary(err error) bool {
	me, ok := mysqlErr(err)
	return ok && me.Number == mysqlDuplicateEntry &&
		(strings.HasSuffix(me.Message, "'PRIMARY'") || strings.HasSuffix(me.Message, ".PRIMARY'"))
}

// IsLockConflict reports whether err is InnoDB giving up on a lock: a
// deadlock victim or a lock wait timeout.  Two writers racing for the same
// free seat end this way when both hold the gap lock of a locking read.
func IsLockConflict(err error) bool {
	me, ok := mysqlErr(err)
	return ok && (me.Number == mysqlDeadlock || me.Number == mysqlLockWaitTimeout)
}

// mapErr normalises driver errors into the package sentinels while keeping
// the original error in the chain.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case isDuplicatePrimary(err):
		return fmt.Errorf("%w: %w: %w", ErrConflict, ErrDuplicateID, err)
	case IsDuplicateKey(err), IsLockConflict(err):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}
