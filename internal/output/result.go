package output

// Status is the outcome of one fetch as reported to sinks.
type Status string

const (
	StatusOK      Status = "OK"
	StatusFailed  Status = "FAILED"
	StatusDropped Status = "DROPPED"
)

// Result describes one finished fetch.
type Result struct {
	Locator    string `json:"locator"`
	Status     Status `json:"status"`
	Source     string `json:"source,omitempty"`
	Path       string `json:"path,omitempty"`
	Format     string `json:"format,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Error      string `json:"error,omitempty"`
	Fallback   string `json:"fallback,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}
