// Package fault holds the failure taxonomy of the scheduling engine. Callers
// translate a fault's Type into protocol specific codes; distinct types are
// never collapsed into a generic failure.
package fault

import (
	"errors"
	"fmt"
)

// ErrorType classifies a failure.
type ErrorType string

const (
	TypeInvalidRequest      ErrorType = "invalid_request"
	TypeInviteOutOfDate     ErrorType = "invite_out_of_date"
	TypeMustBeOrganizer     ErrorType = "must_be_organizer"
	TypeNotFound            ErrorType = "not_found"
	TypeAlreadyExists       ErrorType = "already_exists"
	TypePermissionDenied    ErrorType = "permission_denied"
	TypeCannotCreateInTrash ErrorType = "cannot_create_in_trash"
)

// Error is a typed failure. Two errors match with errors.Is when their types
// are equal, so the package sentinels can be used as targets.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a fault of the same type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

var (
	ErrInvalidRequest      = &Error{Type: TypeInvalidRequest, Message: "invalid request"}
	ErrInviteOutOfDate     = &Error{Type: TypeInviteOutOfDate, Message: "invite out of date"}
	ErrMustBeOrganizer     = &Error{Type: TypeMustBeOrganizer, Message: "must be organizer"}
	ErrNotFound            = &Error{Type: TypeNotFound, Message: "not found"}
	ErrAlreadyExists       = &Error{Type: TypeAlreadyExists, Message: "already exists"}
	ErrPermissionDenied    = &Error{Type: TypePermissionDenied, Message: "permission denied"}
	ErrCannotCreateInTrash = &Error{Type: TypeCannotCreateInTrash, Message: "cannot create in trash"}
)

// New returns a fault of type t.
func New(t ErrorType, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a fault of type t wrapping err.
func Wrap(t ErrorType, err error, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Err: err}
}

// Invalid is shorthand for a request validation failure.
func Invalid(format string, args ...any) *Error {
	return New(TypeInvalidRequest, format, args...)
}

// TypeOf returns the fault type of err, or the empty string if err is not a fault.
func TypeOf(err error) ErrorType {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Type
	}
	return ""
}
