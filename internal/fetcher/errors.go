package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyLocator       = errors.New("empty locator")
	ErrUnsupportedLocator = errors.New("unsupported locator")
	ErrTooLarge           = errors.New("resource exceeds size limit")
)

// LocatorError reports a locator that could not be parsed or has no source.
type LocatorError struct {
	Raw string
	Err error
}

func (e *LocatorError) Error() string {
	return fmt.Sprintf("invalid locator %q: %v", e.Raw, e.Err)
}

func (e *LocatorError) Unwrap() error {
	return e.Err
}

// StatusError is returned by remote sources for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// NotFound reports whether the remote resource does not exist.
func (e *StatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}
