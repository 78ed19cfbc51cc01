package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type ConsoleSink struct {
	writer          io.Writer
	format          string // "text", "json", "ndjson"
	mu              sync.Mutex
	results         []Result // For JSON array output
	allowedStatuses map[Status]bool
}

func NewConsoleSink(w io.Writer, format string, filterStatuses ...string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}

	s := &ConsoleSink{
		writer: w,
		format: format,
	}

	if len(filterStatuses) > 0 {
		s.allowedStatuses = make(map[Status]bool)
		for _, st := range filterStatuses {
			s.allowedStatuses[Status(strings.ToUpper(strings.TrimSpace(st)))] = true
		}
	}

	return s
}

var statusColors = map[Status]*color.Color{
	StatusOK:      color.New(color.FgGreen, color.Bold),
	StatusFailed:  color.New(color.FgRed, color.Bold),
	StatusDropped: color.New(color.FgYellow),
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(v)
}

func (s *ConsoleSink) writeLocked(v any) error {
	if len(s.allowedStatuses) > 0 {
		if r, ok := v.(Result); ok && !s.allowedStatuses[r.Status] {
			return nil
		}
	}

	switch s.format {
	case "json":
		r, ok := v.(Result)
		if !ok {
			// Ignore non-result events in JSON console mode.
			return nil
		}
		s.results = append(s.results, r)
		return nil
	case "ndjson":
		encoder := json.NewEncoder(s.writer)
		switch t := v.(type) {
		case Event:
			if err := encoder.Encode(t); err != nil {
				return err
			}
			return flushIfPossible(s.writer)
		case Result:
			if err := encoder.Encode(eventFromResult(t)); err != nil {
				return err
			}
			return flushIfPossible(s.writer)
		default:
			return nil
		}
	case "text":
		switch t := v.(type) {
		case Result:
			if err := writeResultLine(s.writer, t); err != nil {
				return err
			}
		case Event:
			if t.Type != EventRunFinished {
				return nil
			}
			if _, err := fmt.Fprintf(s.writer, "%d requested, %d succeeded, %d failed, %d dropped\n",
				t.Requests, t.Succeeded, t.Failed, t.Dropped); err != nil {
				return err
			}
		default:
			return nil
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func writeResultLine(w io.Writer, r Result) error {
	tag := string(r.Status)
	if c, ok := statusColors[r.Status]; ok {
		tag = c.Sprint(r.Status)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", tag, r.Locator)
	switch r.Status {
	case StatusOK:
		fmt.Fprintf(&b, " (%dx%d)", r.Width, r.Height)
		if r.Path != "" {
			fmt.Fprintf(&b, " -> %s", r.Path)
		}
	case StatusFailed:
		if r.Error != "" {
			fmt.Fprintf(&b, " - %s", r.Error)
		}
		if r.Fallback != "" {
			fmt.Fprintf(&b, " (fallback %s)", r.Fallback)
		}
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		encoder := json.NewEncoder(s.writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.results); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	}
	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}
