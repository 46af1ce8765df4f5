package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// DefaultOperationTimeout bounds a single store operation when the caller
// supplies no timeout of its own.
const DefaultOperationTimeout = 3 * time.Second

// ErrStoreUnavailable reports that the database could not be reached,
// was locked past the busy timeout, or did not answer in time.
var ErrStoreUnavailable = errors.New("store unavailable")

// unavailableError keeps the underlying cause while matching ErrStoreUnavailable.
type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrStoreUnavailable.Error(), e.cause)
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.cause}
}

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds
// when err is a timeout, a closed connection, or a SQLite busy, locked,
// I/O or open failure. Any other error, including nil, is returned unchanged.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if isUnavailable(err) {
		return &unavailableError{cause: err}
	}
	return err
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return true
		}
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
