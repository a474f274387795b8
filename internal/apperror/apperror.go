package apperror

import "errors"

type Code string

const (
	Session       Code = "SESSION"
	ResolverEmpty Code = "RESOLVER_EMPTY"
	Parse         Code = "PARSE"
	Fetch         Code = "FETCH"
	Write         Code = "WRITE"
)

type AppError struct {
	code    Code
	message string
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

func (e *AppError) Error() string   { return e.message }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }

// Fatal reports whether the error aborts the whole year run. Session and
// resolver failures are fatal; everything else skips one expiry and the run
// continues.
func (e *AppError) Fatal() bool {
	switch e.code {
	case Session, ResolverEmpty:
		return true
	default:
		return false
	}
}

// CodeOf extracts the code from err, or "" if err is not an *AppError.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.code
	}
	return ""
}
