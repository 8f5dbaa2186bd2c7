// Package apperrors defines the error taxonomy shared by every manifest operation.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrMismatch       = errors.New("project mismatch")
	ErrNotFound       = errors.New("not found")
	ErrUpstreamFetch  = errors.New("upstream fetch failed")
	ErrConflict       = errors.New("manifest changed concurrently")
	ErrObjectNotExist = errors.New("object does not exist")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is a shorthand constructor used by request validators.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// MismatchError guards against a manifest address that belongs to another project.
type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("manifest belongs to project %q, expected %q", e.Actual, e.Expected)
}

func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

// NotFoundError names the page or asset an operation required.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UpstreamFetchError carries the status and body of a failed collaborator call.
type UpstreamFetchError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("fetch %s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s failed", e.URL)
}

func (e *UpstreamFetchError) Is(target error) bool { return target == ErrUpstreamFetch }

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// ConflictError is returned when a conditional write loses: the object was overwritten
// since ExpectedGeneration, or it already exists and a zero ExpectedGeneration asked
// for create-only.
type ConflictError struct {
	Path               string
	ExpectedGeneration int64
}

func (e *ConflictError) Error() string {
	if e.ExpectedGeneration == 0 {
		return fmt.Sprintf("%s already exists", e.Path)
	}
	return fmt.Sprintf("manifest %s was overwritten since generation %d", e.Path, e.ExpectedGeneration)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
