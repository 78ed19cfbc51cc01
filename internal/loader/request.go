package loader

import (
	"imageutils/internal/bitmap"
)

// Request describes one image load. It is immutable once built.
type Request struct {
	locator   string
	format    bitmap.Format
	filename  string
	landscape bool
	maxWidth  int
}

type RequestOption func(*Request)

// WithFormat selects the encoding used when the image is persisted.
func WithFormat(f bitmap.Format) RequestOption {
	return func(r *Request) { r.format = f }
}

// WithFilename sets the file name (without extension) used by FetchFile.
func WithFilename(name string) RequestOption {
	return func(r *Request) { r.filename = name }
}

// WithLandscape rotates portrait images a quarter turn so they are wider than tall.
func WithLandscape() RequestOption {
	return func(r *Request) { r.landscape = true }
}

// WithMaxWidth downscales images wider than n pixels.
func WithMaxWidth(n int) RequestOption {
	return func(r *Request) {
		if n > 0 {
			r.maxWidth = n
		}
	}
}

func NewRequest(locator string, opts ...RequestOption) Request {
	r := Request{locator: locator, format: bitmap.FormatPNG}
	for _, apply := range opts {
		if apply != nil {
			apply(&r)
		}
	}
	if r.format == "" {
		r.format = bitmap.FormatPNG
	}
	return r
}

func (r Request) Locator() string       { return r.locator }
func (r Request) Format() bitmap.Format { return r.format }
func (r Request) Filename() string      { return r.filename }
func (r Request) Landscape() bool       { return r.landscape }
func (r Request) MaxWidth() int         { return r.maxWidth }
