package domain

import "errors"

// Code is a machine-readable error code surfaced to clients.
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeForbidden           Code = "FORBIDDEN"
	CodeFull                Code = "FULL"
	CodeAlreadyStarted      Code = "ALREADY_STARTED"
	CodeInvalidPhase        Code = "INVALID_PHASE"
	CodeDuplicateSubmission Code = "DUPLICATE_SUBMISSION"
	CodeInvalidTarget       Code = "INVALID_TARGET"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeNotEnoughPlayers    Code = "NOT_ENOUGH_PLAYERS"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeCreationFailed      Code = "CREATION_FAILED"
	CodeUnknown             Code = "UNKNOWN"
)

// Error is a domain error carrying a code. Two errors match under
// errors.Is when their codes are equal, so callers compare against the
// sentinels below regardless of the message.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Domain errors
var (
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrForbidden           = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrFull                = &Error{Code: CodeFull, Message: "room is full"}
	ErrAlreadyStarted      = &Error{Code: CodeAlreadyStarted, Message: "game already started"}
	ErrInvalidPhase        = &Error{Code: CodeInvalidPhase, Message: "invalid action for current phase"}
	ErrDuplicateSubmission = &Error{Code: CodeDuplicateSubmission, Message: "already submitted"}
	ErrInvalidTarget       = &Error{Code: CodeInvalidTarget, Message: "invalid guess target"}
	ErrStoreUnavailable    = &Error{Code: CodeStoreUnavailable, Message: "store unavailable"}
	ErrNotEnoughPlayers    = &Error{Code: CodeNotEnoughPlayers, Message: "not enough players to start"}
	ErrInvalidArgument     = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrCreationFailed      = &Error{Code: CodeCreationFailed, Message: "room creation failed"}
)

// Errorf returns an error with the code of sentinel and a specific message.
func Errorf(sentinel *Error, message string) *Error {
	return &Error{Code: sentinel.Code, Message: message}
}

// Wrap returns an error with the code of sentinel wrapping cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Code: sentinel.Code, Message: sentinel.Message, Cause: cause}
}

// CodeOf extracts the domain code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}
