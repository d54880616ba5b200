package util

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode loosely categorizes failures for the local API and notifications
type ErrorCode string

const (
	ErrAuth        ErrorCode = "AUTH"
	ErrNetwork     ErrorCode = "NETWORK"
	ErrUnreachable ErrorCode = "UNREACHABLE"
	ErrUnknown     ErrorCode = "UNKNOWN"
)

type Error struct {
	Code  ErrorCode
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.cause.Error())
}

func (e *Error) Cause() error {
	return e.cause
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Err creates a new coded error
func Err(code ErrorCode, msg string) error {
	return &Error{Code: code, cause: errors.New(msg)}
}

func Errf(code ErrorCode, format string, args ...interface{}) error {
	return &Error{Code: code, cause: errors.Errorf(format, args...)}
}

// WrapErr attaches a code and context to err. A nil err stays nil.
func WrapErr(code ErrorCode, err error, msg string) error {
	if err == nil {
		return nil
	}

	return &Error{Code: code, cause: errors.Wrap(err, msg)}
}

// CodeOf returns the outermost code in err's chain, or UNKNOWN
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	return ErrUnknown
}
