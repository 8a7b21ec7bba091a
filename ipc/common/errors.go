package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// Code classifies the errors surfaced by the cache client.
type Code uint8

const (
	CodeUnknown            Code = iota // 0: Unclassified error.
	CodeSpawnFailed                    // 1: The engine process could not be started or never became ready.
	CodeInvalidArgument                // 2: The caller passed an argument the protocol cannot express.
	CodePayloadTooLarge                // 3: Key or value exceeds the fixed frame field size.
	CodeConnectionLost                 // 4: The engine process died while requests were outstanding.
	CodeReconnectExhausted             // 5: All reconnection attempts failed.
	CodeProtocolViolation              // 6: A reply could not be decoded for the command that caused it.
	CodeRequestTimeout                 // 7: No reply arrived within the configured request timeout.
	CodeEngineRejected                 // 8: The engine answered with its error sentinel.
	CodeClientClosed                   // 9: The client was closed before or during the operation.
)

// String returns the string representation of a Code.
func (c Code) String() string {
	switch c {
	case CodeSpawnFailed:
		return "spawn failed"
	case CodeInvalidArgument:
		return "invalid argument"
	case CodePayloadTooLarge:
		return "payload too large"
	case CodeConnectionLost:
		return "connection lost"
	case CodeReconnectExhausted:
		return "reconnect exhausted"
	case CodeProtocolViolation:
		return "protocol violation"
	case CodeRequestTimeout:
		return "request timeout"
	case CodeEngineRejected:
		return "engine rejected"
	case CodeClientClosed:
		return "client closed"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a Code and an error message.
// All errors returned by the client api are of this type, so callers can
// branch on the code instead of matching message strings.
type Error struct {
	Code Code   // The error code
	Msg  string // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("kvpipe (%s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code Code, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with the given code and a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// HasCode reports whether err (or any error it wraps) is an *Error
// carrying the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
