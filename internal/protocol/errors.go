package protocol

import (
	"fmt"
	"strconv"
)

// Status codes used in response messages.
const (
	CodeOK           = 200
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeTimeout      = 408
	CodeConflict     = 409
	CodeInternal     = 500
	CodeUnavailable  = 503
)

// CallError is the only error type that crosses the wire: a numeric status
// code plus a human-readable message.
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// NewCallError builds a CallError.
func NewCallError(code int, format string, args ...interface{}) *CallError {
	return &CallError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidReply marks a reply that could not be parsed. Code 0 is reserved
// for it.
func ErrInvalidReply() *CallError {
	return &CallError{Code: 0, Message: "The received reply is invalid."}
}

// ErrorFrames renders a status code and message as response frames.
func ErrorFrames(code int, message string) [][]byte {
	return [][]byte{[]byte(strconv.Itoa(code)), []byte(message)}
}

// ParseResponse interprets the post-envelope frames of a response message.
// It returns the result frames on a 200, a *CallError for any other valid
// status, and ErrInvalidReply when the frames cannot be interpreted.
func ParseResponse(rest [][]byte) ([][]byte, error) {
	if len(rest) == 0 {
		return nil, ErrInvalidReply()
	}
	code, err := strconv.Atoi(string(rest[0]))
	if err != nil {
		return nil, ErrInvalidReply()
	}
	if code == CodeOK {
		return rest[1:], nil
	}
	if len(rest) < 2 {
		return nil, ErrInvalidReply()
	}
	return nil, &CallError{Code: code, Message: string(rest[1])}
}
