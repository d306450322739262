package cdp

import (
	"errors"
	"fmt"
)

const (
	CodeValidation           = "VALIDATION"
	CodeDirectoryUnavailable = "DIRECTORY_UNAVAILABLE"
	CodeDirectoryParse       = "DIRECTORY_PARSE"
	CodeNoTargetFound        = "NO_TARGET_FOUND"
	CodeConnectFailed        = "CONNECT_FAILED"
	CodeCommandTimeout       = "COMMAND_TIMEOUT"
	CodeCommandError         = "COMMAND_ERROR"
	CodeSessionClosed        = "SESSION_CLOSED"
	CodeSinkWrite            = "SINK_WRITE"
)

// CodedError is a typed error used for stable exit-code and API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a *CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code of the first CodedError in err's chain, or "".
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
