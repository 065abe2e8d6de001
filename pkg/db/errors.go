package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// SQLState extracts the Postgres SQLSTATE from pgx or lib/pq errors.
func SQLState(err error) string {
	if err == nil {
		return ""
	}
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsDeadlock reports a deadlock_detected failure.
func IsDeadlock(err error) bool {
	return SQLState(err) == sqlStateDeadlockDetected
}

// IsSerializationFailure reports a serialization_failure under SERIALIZABLE isolation.
func IsSerializationFailure(err error) bool {
	return SQLState(err) == sqlStateSerializationFailure
}

// IsRetryable reports whether re-running the whole transaction may succeed.
// SQLite reports lock contention as "database is locked".
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsDeadlock(err) || IsSerializationFailure(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock detected")
}

// IsUniqueViolation reports whether the provided error references a unique
// violation. When constraintName is provided, the helper looks for the
// constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return SQLState(err) == sqlStateUniqueViolation ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
