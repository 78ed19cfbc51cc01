package output

import (
	"fmt"
	"io"
)

// EmitSink writes an additional structured stream (json or ndjson), usually
// to stdout alongside or instead of the console sink.
type EmitSink struct {
	structured
}

func NewEmitSink(w io.Writer, format string) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	if !validStructuredFormat(format) {
		return nil, fmt.Errorf("unsupported emit format: %s", format)
	}
	return &EmitSink{structured{w: w, format: format}}, nil
}

func (s *EmitSink) Write(v any) error {
	return s.write(v)
}

func (s *EmitSink) Close() error {
	return s.finish()
}
