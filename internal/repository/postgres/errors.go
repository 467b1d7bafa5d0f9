package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE classes the repositories translate into domain errors
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

// violation returns the server error behind err, or nil when err did not
// come from postgres
func violation(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

// IsPgDuplicateError reports a unique constraint violation
func IsPgDuplicateError(err error) bool {
	v := violation(err)
	return v != nil && v.Code == sqlStateUniqueViolation
}

// IsPgForeignKeyError reports a write referencing a row that does not exist
func IsPgForeignKeyError(err error) bool {
	v := violation(err)
	return v != nil && v.Code == sqlStateForeignKeyViolation
}

// ViolatedConstraint names the constraint err violated, "" if none
func ViolatedConstraint(err error) string {
	if v := violation(err); v != nil {
		return v.ConstraintName
	}
	return ""
}

// IsPgNoRowsError reports a single-row query that matched nothing
func IsPgNoRowsError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
