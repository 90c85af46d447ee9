package sources

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies why a fetch from an upstream source failed.
type ErrorKind string

const (
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindAuth      ErrorKind = "auth"
	ErrorKindRateLimit ErrorKind = "rate-limit"
	ErrorKindNotFound  ErrorKind = "not-found"
	ErrorKindUpstream  ErrorKind = "upstream"
)

// FetchError is returned by sources when events could not be fetched.
// A fetch never returns partial results alongside a FetchError.
type FetchError struct {
	Source     string
	Kind       ErrorKind
	StatusCode int // HTTP status code returned upstream, 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching from %s: %s error (HTTP %d): %v", e.Source, e.Kind, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("fetching from %s: %s error: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError returns the FetchError wrapped in err, if any.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}

	return nil, false
}

// ErrorKindFromStatus maps an unsuccessful HTTP status code onto an ErrorKind.
func ErrorKindFromStatus(code int) ErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorKindAuth
	case http.StatusTooManyRequests:
		return ErrorKindRateLimit
	case http.StatusNotFound:
		return ErrorKindNotFound
	default:
		return ErrorKindUpstream
	}
}

func newStatusError(source string, code int, err error) *FetchError {
	return &FetchError{
		Source:     source,
		Kind:       ErrorKindFromStatus(code),
		StatusCode: code,
		Err:        err,
	}
}

func newNetworkError(source string, err error) *FetchError {
	return &FetchError{
		Source: source,
		Kind:   ErrorKindNetwork,
		Err:    err,
	}
}
