package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks rejected input; no write has happened.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an absent record or one outside the caller's scope.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation marks an operation illegal in the record's current state.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrStorage marks a persistence failure.
	ErrStorage = errors.New("storage failure")

	// ErrDuplicateRequest indicates the client request id is already bound to a
	// record in the same owner scope.
	ErrDuplicateRequest = errors.New("duplicate client request id")
)

// ValidationError describes rejected input on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvariantError describes why an operation is illegal right now.
type InvariantError struct {
	Op      string
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// StorageError wraps a failure from the backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during '%s': %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

func notFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsInvariant reports whether err is an invariant violation.
func IsInvariant(err error) bool { return errors.Is(err, ErrInvariantViolation) }

// IsStorage reports whether err came from the store.
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }
