package session

import (
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Common session error types
var (
	// ErrNotFound is returned when a row required by an operation does not exist
	ErrNotFound = errors.New("record not found")

	// ErrNoSession is returned when an operation needs a session and the context has none
	ErrNoSession = errors.New("no session bound to context")

	// ErrNotManaged is returned when an operation requires a managed entity
	ErrNotManaged = errors.New("entity is not managed by the session")

	// ErrTransientReference is returned when a flushed entity references an unsaved entity
	ErrTransientReference = errors.New("entity references an unsaved entity")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
)

// ConvertDBError marks driver errors with the matching session error.
// The original error stays in the chain for errors.As.
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(err, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return errors.Mark(err, ErrUniqueViolation)
		case "23503": // foreign_key_violation
			return errors.Mark(err, ErrForeignKeyViolation)
		case "23514": // check_violation
			return errors.Mark(err, ErrCheckViolation)
		case "23502": // not_null_violation
			return errors.Mark(err, ErrNotNullViolation)
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return errors.Mark(err, ErrUniqueViolation)
		case sqlite3.ErrConstraintForeignKey:
			return errors.Mark(err, ErrForeignKeyViolation)
		case sqlite3.ErrConstraintCheck:
			return errors.Mark(err, ErrCheckViolation)
		case sqlite3.ErrConstraintNotNull:
			return errors.Mark(err, ErrNotNullViolation)
		}
	}

	return err
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUniqueViolation returns true if the error is ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is ErrForeignKeyViolation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}
