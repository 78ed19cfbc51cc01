package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes results to a file as a JSON array or an NDJSON event
// stream. The format is inferred from the extension when not given.
type FileSink struct {
	structured
	path string
	file *os.File
}

func inferFormat(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return "json", nil
	case ".ndjson", ".jsonl":
		return "ndjson", nil
	default:
		return "", fmt.Errorf("cannot infer output format from file extension %q", ext)
	}
}

func NewFileSink(path string, format string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("output path required")
	}

	if format == "" {
		inferred, err := inferFormat(path)
		if err != nil {
			return nil, err
		}
		format = inferred
	}
	if !validStructuredFormat(format) {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	return &FileSink{
		structured: structured{w: f, format: format},
		path:       path,
		file:       f,
	}, nil
}

func (s *FileSink) Path() string {
	return s.path
}

func (s *FileSink) Write(v any) error {
	return s.write(v)
}

func (s *FileSink) Close() error {
	err := s.finish()
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
