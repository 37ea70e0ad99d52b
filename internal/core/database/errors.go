package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUniqueViolation is returned when an insert or update hits a unique constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrCheckViolation is returned when a CHECK constraint rejects a row.
	ErrCheckViolation = errors.New("check constraint violation")
	// ErrForeignKeyViolation is returned when a row is still referenced or references nothing.
	ErrForeignKeyViolation = errors.New("foreign key violation")
	// ErrNotFound is returned by updates and deletes that matched no row.
	ErrNotFound = errors.New("row not found")
	// ErrAssignmentClosed is returned when a session is started on a completed assignment.
	ErrAssignmentClosed = errors.New("assignment already completed")
	// ErrHasDependents is returned by deletes blocked by referencing rows.
	ErrHasDependents = errors.New("row has dependents")
	// ErrRetrievalUnsupported is returned by vector search on drivers without pgvector.
	ErrRetrievalUnsupported = errors.New("reference retrieval not supported by this driver")
)

// classify tags driver errors with one of the constraint sentinels. The
// original error stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return errors.Join(ErrUniqueViolation, err)
		case "23514":
			return errors.Join(ErrCheckViolation, err)
		case "23503":
			return errors.Join(ErrForeignKeyViolation, err)
		}
		return err
	}

	// sqlite and other drivers only expose the constraint in the message.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"), strings.Contains(msg, "duplicate key"):
		return errors.Join(ErrUniqueViolation, err)
	case strings.Contains(msg, "check constraint failed"):
		return errors.Join(ErrCheckViolation, err)
	case strings.Contains(msg, "foreign key constraint failed"):
		return errors.Join(ErrForeignKeyViolation, err)
	}
	return err
}
