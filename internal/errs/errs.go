// Package errs defines the error kinds shared by the index, ingest, query and
// archive layers. Every kind has a sentinel for errors.Is and, where the caller
// needs details, a typed error that matches its sentinel.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the bound dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrModelMismatch is returned when ingest names a model other than the bundle's model.
	ErrModelMismatch = errors.New("embedding model mismatch")
	// ErrNotFound is returned for operations on an absent chunk or store.
	ErrNotFound = errors.New("not found")
	// ErrEmptyIndex is returned when searching a bundle that holds no vectors.
	ErrEmptyIndex = errors.New("index is empty")
	// ErrMalformedArchive is returned when an archive lacks required entries or cannot be parsed.
	ErrMalformedArchive = errors.New("malformed archive")
	// ErrPersistence is returned when a durable write fails.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidArgument is returned for caller input that fails validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// DimensionMismatchError carries the bound and offered dimensions.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (a different embedding dimension needs a new store)", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// ModelMismatchError carries the store's model and the requested model.
type ModelMismatchError struct {
	Bound     string
	Requested string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("embedding model mismatch: store uses %q, request uses %q; reset the store or create a new one to switch models", e.Bound, e.Requested)
}

func (e *ModelMismatchError) Is(target error) bool {
	return target == ErrModelMismatch
}

// MalformedArchiveError lists the entries an archive is missing, or the entry
// that failed to parse.
type MalformedArchiveError struct {
	Missing []string
	Found   []string
	Entry   string
	Err     error
}

func (e *MalformedArchiveError) Error() string {
	if len(e.Missing) > 0 {
		msg := "malformed archive: missing " + strings.Join(e.Missing, ", ")
		if len(e.Found) > 0 {
			msg += " (found " + strings.Join(e.Found, ", ") + ")"
		}
		return msg
	}
	return fmt.Sprintf("malformed archive: entry %s: %v", e.Entry, e.Err)
}

func (e *MalformedArchiveError) Is(target error) bool {
	return target == ErrMalformedArchive
}

func (e *MalformedArchiveError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failed durable write.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persistence wraps err as a PersistenceError, or returns nil when err is nil.
func Persistence(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Path: path, Err: err}
}

// NotFound returns an error matching ErrNotFound for the given kind of object.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Invalid returns an error matching ErrInvalidArgument.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Kind returns a short stable name for the error's kind, or "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrModelMismatch):
		return "model_mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrEmptyIndex):
		return "empty_index"
	case errors.Is(err, ErrMalformedArchive):
		return "malformed_archive"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}
