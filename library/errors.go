package library

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrStaleCopy is returned by the store when a copy row was changed by someone
// else between read and write.
var ErrStaleCopy = errors.New("copy was modified concurrently")

// FormatError reports a value that does not have the required shape.
type FormatError struct {
	Field string
	Value string
	Want  string
}

func (e *FormatError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s %q: must be %s", e.Field, e.Value, e.Want)
}

// DuplicateError reports an accession number that is already taken.
type DuplicateError struct {
	AccessionNumber string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("accession number %s is already in use", e.AccessionNumber)
}

// CapacityError reports that the 7-digit accession space is exhausted.
type CapacityError struct {
	Requested int
	Next      int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("no accession numbers left: requested %d starting at %d, ceiling is %d",
		e.Requested, e.Next, MaxAccessionNumber)
}

// TransitionRejectedError reports a copy status change the state machine refused.
type TransitionRejectedError struct {
	CopyID int64
	From   CopyStatus
	To     CopyStatus
	Field  string
	Reason string
}

func (e *TransitionRejectedError) Error() string {
	msg := fmt.Sprintf("copy %d: cannot change status from %s to %s: %s", e.CopyID, e.From, e.To, e.Reason)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	return msg
}

// PastDateError reports a return date before today.
type PastDateError struct {
	Date  time.Time
	Today time.Time
}

func (e *PastDateError) Error() string {
	return fmt.Sprintf("return date %s is before today (%s)", FormatDate(e.Date), FormatDate(e.Today))
}

// ExceedsMaxDurationError reports a return date past the latest allowed date.
type ExceedsMaxDurationError struct {
	Date    time.Time
	Latest  time.Time
	MaxDays int
	Policy  string
}

func (e *ExceedsMaxDurationError) Error() string {
	return fmt.Sprintf("return date %s is after %s: %s allows at most %d day(s)",
		FormatDate(e.Date), FormatDate(e.Latest), e.Policy, e.MaxDays)
}

// OutsideAllowedWindowError reports a return time outside the daily return windows.
type OutsideAllowedWindowError struct {
	Time ClockTime
}

func (e *OutsideAllowedWindowError) Error() string {
	return fmt.Sprintf("return time %s is outside the allowed windows %s", e.Time, describeWindows())
}

// NotFoundError reports a missing member, copy, catalog item or borrow record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func notFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// isUniqueViolation recognises a unique-constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// remapNoRows turns sql.ErrNoRows into a NotFoundError and leaves anything else alone.
func remapNoRows(err error, entity string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(entity, id)
	}
	return err
}
