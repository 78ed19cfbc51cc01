package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func TestConsoleSink_Filtering(t *testing.T) {
	tests := []struct {
		name           string
		format         string
		filterStatuses []string
		input          Result
		shouldWrite    bool
	}{
		{
			name:        "text - no filter - ok",
			format:      "text",
			input:       Result{Status: StatusOK, Locator: "https://example.com/a.png"},
			shouldWrite: true,
		},
		{
			name:           "text - filter FAILED - input OK",
			format:         "text",
			filterStatuses: []string{"FAILED"},
			input:          Result{Status: StatusOK, Locator: "https://example.com/a.png"},
			shouldWrite:    false,
		},
		{
			name:           "text - filter FAILED - input FAILED",
			format:         "text",
			filterStatuses: []string{"FAILED"},
			input:          Result{Status: StatusFailed, Locator: "not-a-url"},
			shouldWrite:    true,
		},
		{
			name:           "text - filter FAILED,DROPPED - input DROPPED",
			format:         "text",
			filterStatuses: []string{"FAILED", "DROPPED"},
			input:          Result{Status: StatusDropped, Locator: "https://example.com/a.png"},
			shouldWrite:    true,
		},
		{
			name:           "json - filter FAILED - input OK",
			format:         "json",
			filterStatuses: []string{"FAILED"},
			input:          Result{Status: StatusOK, Locator: "https://example.com/a.png"},
			shouldWrite:    false,
		},
		{
			name:           "json - filter FAILED - input FAILED",
			format:         "json",
			filterStatuses: []string{"FAILED"},
			input:          Result{Status: StatusFailed, Locator: "not-a-url"},
			shouldWrite:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sink := NewConsoleSink(&buf, tt.format, tt.filterStatuses...)

			if err := sink.Write(tt.input); err != nil {
				t.Fatalf("Write error: %v", err)
			}

			if tt.format == "json" {
				// JSON output is buffered until Close.
				want := 0
				if tt.shouldWrite {
					want = 1
				}
				if len(sink.results) != want {
					t.Errorf("expected %d results buffered, got %d", want, len(sink.results))
				}
				return
			}

			wroteSomething := buf.Len() > 0
			if tt.shouldWrite && !wroteSomething {
				t.Errorf("expected output, got none")
			}
			if !tt.shouldWrite && wroteSomething {
				t.Errorf("expected no output, got: %q", buf.String())
			}
		})
	}
}

func TestConsoleSink_Filtering_CaseInsensitive(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "text", "failed")

	if err := sink.Write(Result{Status: StatusFailed, Locator: "not-a-url"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected output for case-insensitive match, got none")
	}
}

func TestConsoleSink_TextLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "text")

	_ = sink.Write(Event{Type: EventRunStarted, Requests: 3})
	_ = sink.Write(Result{Status: StatusOK, Locator: "https://example.com/a.png", Width: 4, Height: 3, Path: "/tmp/a.png"})
	_ = sink.Write(Result{Status: StatusFailed, Locator: "not-a-url", Error: "parse failed", Fallback: "/tmp/fallback.png"})
	_ = sink.Write(Result{Status: StatusDropped, Locator: "https://example.com/b.png"})
	_ = sink.Write(Event{Type: EventRunFinished, Requests: 3, Succeeded: 1, Failed: 1, Dropped: 1, ExitCode: 2})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	want := []string{
		"[OK] https://example.com/a.png (4x3) -> /tmp/a.png",
		"[FAILED] not-a-url - parse failed (fallback /tmp/fallback.png)",
		"[DROPPED] https://example.com/b.png",
		"3 requested, 1 succeeded, 1 failed, 1 dropped",
	}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(got), buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: want %q, got %q", i, want[i], got[i])
		}
	}
}

func TestConsoleSink_JSON_WritesArrayOnClose(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "json")

	_ = sink.Write(Event{Type: EventRunStarted})
	_ = sink.Write(Result{Status: StatusOK, Locator: "a"})
	if buf.Len() != 0 {
		t.Fatalf("expected no output before Close, got %q", buf.String())
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	var got []Result
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(got) != 1 || got[0].Locator != "a" {
		t.Fatalf("unexpected results: %#v", got)
	}
}

func TestConsoleSink_Filtering_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "ndjson", "FAILED")

	if err := sink.Write(Result{Status: StatusOK, Locator: "a"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if buf.Len() > 0 {
		t.Errorf("expected no output for OK, got: %s", buf.String())
	}

	if err := sink.Write(Result{Status: StatusFailed, Locator: "b"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"status":"FAILED"`) || !strings.Contains(out, `"type":"fetch.failed"`) {
		t.Errorf("expected fetch.failed event, got: %s", out)
	}
}

func TestConsoleSink_UnsupportedFormat(t *testing.T) {
	sink := NewConsoleSink(&bytes.Buffer{}, "xml")
	if err := sink.Write(Result{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if err := sink.Close(); err == nil {
		t.Fatal("expected error for unsupported format on Close")
	}
}
