package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies a ServiceError for propagation and transport mapping.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConcurrency Kind = "concurrency"
	KindInternal    Kind = "internal"
)

// ServiceError is the error type returned by engine services.
type ServiceError struct {
	code string
	kind Kind
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the error classification.
func (e *ServiceError) Kind() Kind {
	return e.kind
}

// Reason returns the trailing reason segment of the code.
func (e *ServiceError) Reason() string {
	if index := strings.LastIndex(e.code, "."); index >= 0 {
		return e.code[index+1:]
	}
	return e.code
}

// NewError builds a ServiceError with code "<operation>.<reason>".
func NewError(operation, reason string, kind Kind, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), kind: kind, err: cause}
}

// KindOf extracts the classification of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	return KindInternal
}

// IsConflict reports whether err is a transient write conflict worth retrying.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) && serviceErr.kind == KindConcurrency {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, marker := range conflictMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

var conflictMarkers = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"unique constraint failed",
	"duplicate key value",
	"could not serialize access",
	"deadlock detected",
	"sqlstate 40001",
	"sqlstate 40p01",
}

// RetryOnConflict runs fn until it succeeds, fails with a non-conflict error, or attempts are exhausted.
// Exhaustion is reported as a KindConcurrency error for operation.
func RetryOnConflict(ctx context.Context, operation string, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewError(operation, "context_done", KindInternal, err)
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsConflict(lastErr) {
			return lastErr
		}
	}
	return NewError(operation, "conflict_retries_exhausted", KindConcurrency, lastErr)
}
