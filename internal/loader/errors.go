package loader

import (
	"fmt"

	"imageutils/internal/fetcher"
)

// ErrEmptyLocator is returned synchronously for requests without a locator.
var ErrEmptyLocator = fetcher.ErrEmptyLocator

// Op names the stage of a load that failed.
type Op string

const (
	OpParse     Op = "parse"
	OpFetch     Op = "fetch"
	OpDecode    Op = "decode"
	OpSave      Op = "save"
	OpRecovered Op = "panic"
)

// FetchError wraps any failure of a background load.
type FetchError struct {
	Locator string
	Op      Op
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Locator, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Result carries either a value or the error that prevented producing it.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}
