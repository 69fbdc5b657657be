package txn

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrVersionConflict is returned by optimistic updates whose version
// predicate matched no row.
var ErrVersionConflict = errors.New("optimistic version conflict")

// postgres SQLSTATE codes
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// mysql error numbers
const (
	myLockWaitTimeout = 1205
	myDeadlock        = 1213
)

// IsConflict reports whether err is a transient concurrency conflict that
// a fresh attempt of the same transaction may resolve.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVersionConflict) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == pgSerializationFailure || code == pgDeadlockDetected
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == myDeadlock || myErr.Number == myLockWaitTimeout
	}

	// sqlite drivers only expose the condition through the message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}
