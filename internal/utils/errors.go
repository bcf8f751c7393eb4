package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeInternal        Code = "INTERNAL"
)

// AppError is the error contract shared by services and handlers.
type AppError struct {
	Code    Code
	Op      string // operation name, ex: "TurnService.Record"
	Message string // safe message
	Err     error  // wrapped error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "error"
	}
}

func (e *AppError) Unwrap() error { return e.Err }

func E(code Code, op, msg string, err error) error {
	return &AppError{Code: code, Op: op, Message: msg, Err: err}
}

func IsCode(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

func HTTPStatus(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		switch ae.Code {
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeNotFound:
			return http.StatusNotFound
		case CodeConflict:
			return http.StatusConflict
		case CodeUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Cause returns the innermost wrapped error message, or "" when there is none.
func Cause(err error) string {
	var ae *AppError
	if !errors.As(err, &ae) || ae.Err == nil {
		return ""
	}
	inner := ae.Err
	for {
		var next *AppError
		if !errors.As(inner, &next) || next.Err == nil || next == inner {
			break
		}
		inner = next.Err
	}
	return inner.Error()
}

// Sentinel errors returned by repositories and stores.
var (
	ErrNotFound = errors.New("not found")
)
