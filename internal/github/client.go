package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"imageutils/internal/transport"

	"github.com/google/go-github/v81/github"
)

// Client bundles the go-github client with the HTTP client it was built on.
type Client struct {
	Client *github.Client
	HTTP   *http.Client
}

type options struct {
	verbose bool
	writer  io.Writer
	baseURL string
	timeout time.Duration
}

type Option func(*options)

func WithVerbose(enabled bool, writer io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = writer
	}
}

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(raw string) Option {
	return func(o *options) { o.baseURL = raw }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	tc := transport.NewHTTPClient(
		transport.WithVerbose(o.verbose, o.writer),
		transport.WithLabel("github api"),
		transport.WithToken(token),
		transport.WithTimeout(o.timeout),
	)
	client := github.NewClient(tc)

	if o.baseURL != "" {
		raw := o.baseURL
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("github client: invalid base URL %q: %w", o.baseURL, err)
		}
		client.BaseURL = u
		client.UploadURL = u
	}

	return &Client{Client: client, HTTP: tc}, nil
}
