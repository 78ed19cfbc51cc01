package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// ReportSink collects results and writes a Markdown summary of the run on
// Close.
type ReportSink struct {
	path         string
	file         *os.File
	mu           sync.Mutex
	results      []Result
	exitCode     int
	haveExitCode bool
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case Result:
		s.results = append(s.results, t)
	case Event:
		if t.Type == EventRunFinished {
			s.exitCode = t.ExitCode
			s.haveExitCode = true
		}
	}
	return nil
}

type sourceStats struct {
	Source  string
	OK      int
	Failed  int
	Dropped int
}

type failureGroup struct {
	Reason   string
	Locators []string
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ok, failed, dropped []Result
	bySource := make(map[string]*sourceStats)
	for _, r := range s.results {
		src := r.Source
		if src == "" {
			src = "unknown"
		}
		st, exists := bySource[src]
		if !exists {
			st = &sourceStats{Source: src}
			bySource[src] = st
		}
		switch r.Status {
		case StatusOK:
			ok = append(ok, r)
			st.OK++
		case StatusFailed:
			failed = append(failed, r)
			st.Failed++
		case StatusDropped:
			dropped = append(dropped, r)
			st.Dropped++
		}
	}

	var b strings.Builder
	b.WriteString("# imageutils Fetch Report\n\n")

	b.WriteString("| Requested | Succeeded | Failed | Dropped | Exit code |\n")
	b.WriteString("| ---: | ---: | ---: | ---: | ---: |\n")
	exit := "n/a"
	if s.haveExitCode {
		exit = fmt.Sprintf("%d", s.exitCode)
	}
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %s |\n\n", len(s.results), len(ok), len(failed), len(dropped), exit)

	b.WriteString("## By source\n\n")
	if len(bySource) == 0 {
		b.WriteString("No requests.\n\n")
	} else {
		b.WriteString("| Source | OK | FAILED | DROPPED |\n")
		b.WriteString("| --- | ---: | ---: | ---: |\n")
		for _, st := range sortedSources(bySource) {
			fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", st.Source, st.OK, st.Failed, st.Dropped)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Failures\n\n")
	if len(failed) == 0 {
		b.WriteString("No failures.\n\n")
	} else {
		for _, g := range groupFailures(failed) {
			fmt.Fprintf(&b, "### %s (%d)\n\n", g.Reason, len(g.Locators))
			for _, loc := range g.Locators {
				fmt.Fprintf(&b, "- `%s`\n", loc)
			}
			b.WriteString("\n")
		}
	}

	if len(dropped) > 0 {
		b.WriteString("## Dropped\n\n")
		b.WriteString("Results discarded because the run ended before they could be delivered.\n\n")
		for _, r := range dropped {
			fmt.Fprintf(&b, "- `%s`\n", r.Locator)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Images\n\n")
	if len(ok) == 0 {
		b.WriteString("No images loaded.\n")
	} else {
		b.WriteString("| Locator | Size | Saved to |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, r := range ok {
			path := r.Path
			if path == "" {
				path = "-"
			}
			fmt.Fprintf(&b, "| `%s` | %dx%d | %s |\n", r.Locator, r.Width, r.Height, path)
		}
	}

	if _, err := s.file.WriteString(b.String()); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func sortedSources(m map[string]*sourceStats) []*sourceStats {
	out := make([]*sourceStats, 0, len(m))
	for _, st := range m {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// groupFailures buckets failed results by normalized reason, largest group
// first.
func groupFailures(failed []Result) []failureGroup {
	idx := make(map[string]int)
	var groups []failureGroup
	for _, r := range failed {
		reason := normalizeErrorReason(r.Error, r.Locator)
		i, ok := idx[reason]
		if !ok {
			i = len(groups)
			idx[reason] = i
			groups = append(groups, failureGroup{Reason: reason})
		}
		groups[i].Locators = append(groups[i].Locators, r.Locator)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i].Locators) > len(groups[j].Locators)
	})
	return groups
}

// normalizeErrorReason collapses whitespace, strips the stage/locator prefix
// so identical causes group together, and truncates long messages.
func normalizeErrorReason(errText, locator string) string {
	s := strings.Join(strings.Fields(errText), " ")
	if s == "" {
		return "unknown error"
	}

	if locator != "" {
		quoted := fmt.Sprintf("%q: ", locator)
		if i := strings.Index(s, quoted); i >= 0 {
			s = s[i+len(quoted):]
		}
		s = strings.ReplaceAll(s, locator, "<locator>")
	}

	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}
