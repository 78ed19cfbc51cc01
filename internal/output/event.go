package output

// Event types.
const (
	EventRunStarted     = "run.started"
	EventFetchSucceeded = "fetch.succeeded"
	EventFetchFailed    = "fetch.failed"
	EventFetchDropped   = "fetch.dropped"
	EventRunFinished    = "run.finished"
)

// Event is a lifecycle record for NDJSON streaming output.
//
// JSON mode remains an aggregate of Result values.
type Event struct {
	Type string `json:"type"`
	*Result
	Requests  int `json:"requests,omitempty"`
	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Dropped   int `json:"dropped,omitempty"`
	ExitCode  int `json:"exit_code,omitempty"`
}

func eventFromResult(r Result) Event {
	typ := EventFetchSucceeded
	switch r.Status {
	case StatusFailed:
		typ = EventFetchFailed
	case StatusDropped:
		typ = EventFetchDropped
	}
	return Event{Type: typ, Result: &r}
}
