package recipe

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError reports a dish name that is already taken.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// NotFoundError reports an unknown dish id.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

var errDishNotFound = &NotFoundError{Msg: "Recipe not found"}

const (
	pqUniqueViolation     = "unique_violation"
	pqForeignKeyViolation = "foreign_key_violation"
)

// storageErr wraps err as a StorageError unless it already is a domain error.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		ce *ConflictError
		ne *NotFoundError
		se *StorageError
	)
	if errors.As(err, &ve) || errors.As(err, &ce) || errors.As(err, &ne) || errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func pqErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name()
	}
	return ""
}
