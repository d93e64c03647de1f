package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// IsTransient reports whether a database error is worth retrying: timeouts,
// dropped connections, pool exhaustion, deadlocks, and serialization failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// Class 08: connection exceptions.
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		// Class 53: insufficient resources (53300 too many connections).
		case strings.HasPrefix(pgErr.Code, "53"):
			return true
		// 40001 serialization failure, 40P01 deadlock detected.
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		// 55P03 lock not available, 57P01 admin shutdown.
		case pgErr.Code == "55P03", pgErr.Code == "57P01":
			return true
		default:
			return false
		}
	}

	msg := err.Error()
	for _, fragment := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"i/o timeout",
		"database is locked",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// IsConstraintViolation reports whether the error is a permanent integrity
// failure that retrying cannot fix.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 23: integrity constraint violation.
		return strings.HasPrefix(pgErr.Code, "23")
	}

	msg := err.Error()
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}
	if strings.Contains(msg, "constraint failed") {
		return true
	}

	return false
}
