// Package apperr defines the application error vocabulary. Services mark
// errors with one of the sentinels below; handlers translate them to HTTP
// statuses without inspecting error strings.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound         = newSentinel(CodeNotFound, "resource not found")
	ErrAlreadyExists    = newSentinel(CodeAlreadyExists, "resource already exists")
	ErrVersionConflict  = newSentinel(CodeVersionConflict, "version conflict")
	ErrValidation       = newSentinel(CodeValidation, "validation error")
	ErrInvalidOperation = newSentinel(CodeInvalidOperation, "invalid operation")
	ErrDatabase         = newSentinel(CodeDatabase, "database error")
	ErrSystem           = newSentinel(CodeSystem, "system error")

	statusCodeMap = map[error]int{
		ErrNotFound:         http.StatusNotFound,
		ErrAlreadyExists:    http.StatusConflict,
		ErrVersionConflict:  http.StatusConflict,
		ErrValidation:       http.StatusBadRequest,
		ErrInvalidOperation: http.StatusBadRequest,
		ErrDatabase:         http.StatusInternalServerError,
		ErrSystem:           http.StatusInternalServerError,
	}
)

const (
	CodeNotFound         = "not_found"
	CodeAlreadyExists    = "already_exists"
	CodeVersionConflict  = "version_conflict"
	CodeValidation       = "validation_error"
	CodeInvalidOperation = "invalid_operation"
	CodeDatabase         = "database_error"
	CodeSystem           = "system_error"
)

// sentinelError carries a machine-readable code plus a default message.
type sentinelError struct {
	Code    string
	Message string
	Err     error
}

func (e *sentinelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *sentinelError) Unwrap() error {
	return e.Err
}

// Is matches on the code so marked errors compare equal to their sentinel.
func (e *sentinelError) Is(target error) bool {
	if target == nil {
		return false
	}
	t, ok := target.(*sentinelError)
	if !ok {
		return errors.Is(e.Err, target)
	}
	return e.Code == t.Code
}

func newSentinel(code, message string) *sentinelError {
	return &sentinelError{Code: code, Message: message}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// HTTPStatusFromErr maps a marked error to its HTTP status. Unmarked errors
// are treated as internal.
func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}

// DisplayMessage returns the user-facing text for an error: the flattened
// hints when present, otherwise the outermost message.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	if hints := errors.FlattenHints(err); hints != "" {
		return hints
	}
	return err.Error()
}
