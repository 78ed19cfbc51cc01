package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// structured implements the machine-readable formats shared by EmitSink and
// FileSink:
//   - json: aggregates results and writes a single JSON array on finish
//   - ndjson: streams Event values, one JSON object per line
type structured struct {
	w       io.Writer
	format  string
	mu      sync.Mutex
	results []Result
}

func validStructuredFormat(format string) bool {
	return format == "json" || format == "ndjson"
}

func (s *structured) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		// Lifecycle events are not part of the aggregate.
		if r, ok := v.(Result); ok {
			s.results = append(s.results, r)
		}
		return nil
	case "ndjson":
		var e Event
		switch t := v.(type) {
		case Event:
			e = t
		case Result:
			e = eventFromResult(t)
		default:
			return nil
		}
		if err := json.NewEncoder(s.w).Encode(e); err != nil {
			return err
		}
		return flushIfPossible(s.w)
	default:
		return fmt.Errorf("unsupported structured format: %s", s.format)
	}
}

func (s *structured) finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format != "json" {
		return nil
	}
	results := s.results
	if results == nil {
		results = []Result{}
	}
	encoder := json.NewEncoder(s.w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return err
	}
	return flushIfPossible(s.w)
}
