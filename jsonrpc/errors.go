package jsonrpc

import (
	"errors"
	"strconv"
)

// Code is a protocol error code.
type Code int

const (
	CodeParseError     Code = -32700
	CodeInvalidRequest Code = -32600
	CodeMethodNotFound Code = -32601
	CodeInvalidParams  Code = -32602
	CodeInternalError  Code = -32603

	// CodeServerError is the default code for application errors. Codes
	// -32000 to -32099 are reserved for implementation-defined server errors.
	CodeServerError Code = -32000
)

// String returns a stable snake_case name for c, suitable for logs and
// metric labels.
func (c Code) String() string {
	switch c {
	case CodeParseError:
		return "parse_error"
	case CodeInvalidRequest:
		return "invalid_request"
	case CodeMethodNotFound:
		return "method_not_found"
	case CodeInvalidParams:
		return "invalid_params"
	case CodeInternalError:
		return "internal_error"
	}
	if c <= CodeServerError && c >= CodeServerError-99 {
		return "server_error"
	}
	return "application_error"
}

// Label is the numeric form of c as a string.
func (c Code) Label() string {
	return strconv.Itoa(int(c))
}

// Error is a protocol error. It is returned as a Go error by application code
// and serialized as the "error" member of a response item.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (e *Error) Error() string {
	if e == nil {
		return "jsonrpc: <nil>"
	}
	return e.Message
}

// NewError creates an application error.
func NewError(code Code, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// ParseError reports a body that is not JSON or not declared as JSON.
func ParseError(data any) *Error {
	return &Error{Code: CodeParseError, Message: "Parse error", Data: data}
}

// InvalidRequest reports a body that is JSON but not a valid batch.
func InvalidRequest(data any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid request", Data: data}
}

// MethodNotFound reports a call to an unregistered method.
func MethodNotFound(data any) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "Method not found", Data: data}
}

// InvalidParams reports an argument that fails its parameter schema.
func InvalidParams(data any) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: data}
}

// InternalError reports a failure inside the host or application code.
func InternalError(data any) *Error {
	return &Error{Code: CodeInternalError, Message: "Internal error", Data: data}
}

// AsError maps err to a protocol error. A *Error anywhere in err's chain is
// returned as is; any other error becomes InternalError with no data, so
// that internal details never reach the client. AsError(nil) is nil.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e
	}
	return InternalError(nil)
}
