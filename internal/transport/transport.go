package transport

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
)

type options struct {
	verbose bool
	// writer receives verbose request logs (stderr by default) so structured
	// output on stdout stays clean and tests can capture the lines.
	writer  io.Writer
	label   string
	token   string
	timeout time.Duration
	base    http.RoundTripper
}

type Option func(*options)

func WithVerbose(enabled bool, writer io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = writer
	}
}

// WithLabel sets the prefix used in verbose log lines (e.g. "github api").
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

// WithToken sends token as an OAuth2 bearer credential on every request.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBase replaces http.DefaultTransport as the innermost round tripper.
func WithBase(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// loggingRoundTripper emits one line per request and one per response
// (including latency).
type loggingRoundTripper struct {
	base  http.RoundTripper
	w     io.Writer
	label string
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if t.w != nil {
		_, _ = fmt.Fprintf(t.w, "[verbose] %s: %s %s\n", t.label, req.Method, req.URL.Redacted())
	}
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start)
	if t.w != nil {
		if err != nil {
			_, _ = fmt.Fprintf(t.w, "[verbose] %s: error after %s: %v\n", t.label, dur.Truncate(time.Millisecond), err)
		} else {
			_, _ = fmt.Fprintf(t.w, "[verbose] %s: %d %s (%s)\n", t.label, resp.StatusCode, http.StatusText(resp.StatusCode), dur.Truncate(time.Millisecond))
		}
	}
	return resp, err
}

// NewHTTPClient builds the client used by every remote source. Layers from
// the inside out: base transport, verbose logging, bearer token.
func NewHTTPClient(opts ...Option) *http.Client {
	o := &options{label: "http"}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.verbose && o.writer == nil {
		o.writer = os.Stderr
	}

	transport := o.base
	if transport == nil {
		transport = http.DefaultTransport
	}
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, w: o.writer, label: o.label}
	}
	if o.token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: o.token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	return &http.Client{Transport: transport, Timeout: o.timeout}
}
