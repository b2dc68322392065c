package game

import "errors"

// Code is a stable error code surfaced to clients. A rejected request,
// never a system fault; state is untouched when one of these is raised.
type Code string

const (
	CodeGameNotFound       Code = "GameNotFound"
	CodeInvalidStatus      Code = "InvalidStatus"
	CodeNotYourTurn        Code = "NotYourTurn"
	CodeNotAPlayer         Code = "NotAPlayer"
	CodeIllegalMove        Code = "IllegalMove"
	CodeInvalidInviteToken Code = "InvalidInviteToken"
	CodeCannotJoinOwnGame  Code = "CannotJoinOwnGame"
)

// Error is a typed domain error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// CodeOf extracts the domain code from err, or "" for system faults.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
