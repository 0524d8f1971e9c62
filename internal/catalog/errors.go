package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTransport = errors.New("catalog request failed")
	ErrParse     = errors.New("catalog response could not be parsed")
	ErrNotFound  = errors.New("catalog resource does not exist")
)

type (
	catalogError struct {
		StatusCode    int    `json:"status_code"`
		StatusMessage string `json:"status_message"`
	}

	// FailedRequestError is returned when the catalog responds with a
	// non-OK status. A 404 unwraps to ErrNotFound, anything else to ErrTransport.
	FailedRequestError struct {
		httpCode    int
		catalogCode int
		message     string
	}

	// UnknownRequestError is returned when the request could not be
	// performed at all (e.g. network failure or timeout).
	UnknownRequestError struct {
		reason string
		err    error
	}
)

func (err *FailedRequestError) Error() string {
	return fmt.Sprintf("request failure (HTTP %d, catalog code %d): %s", err.httpCode, err.catalogCode, err.message)
}

func (err *FailedRequestError) Unwrap() error {
	if err.httpCode == http.StatusNotFound {
		return ErrNotFound
	}

	return ErrTransport
}

func (err *FailedRequestError) StatusCode() int { return err.httpCode }

func (err *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown error occurred while communicating with catalog: %s", err.reason)
}

func (err *UnknownRequestError) Unwrap() []error {
	if err.err == nil {
		return []error{ErrTransport}
	}

	return []error{ErrTransport, err.err}
}
