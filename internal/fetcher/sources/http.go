package sources

import (
	"context"
	"fmt"
	"net/http"

	"imageutils/internal/fetcher"
)

type httpSource struct{}

func (s *httpSource) Schemes() []string {
	return []string{fetcher.SchemeHTTP, fetcher.SchemeHTTPS}
}

func (s *httpSource) Description() string {
	return "Remote images over HTTP(S) GET, throttled per host"
}

func (s *httpSource) Cacheable() bool {
	return true
}

func (s *httpSource) Fetch(ctx context.Context, loc fetcher.Locator, f *fetcher.Fetcher) ([]byte, error) {
	if loc.URL == nil {
		return nil, fmt.Errorf("http source: locator %q has no URL", loc.Raw)
	}

	budget := f.Budget(loc.Host())
	if err := budget.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/*")
	if ua := f.UserAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.HTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	budget.UpdateFromResponse(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &fetcher.StatusError{URL: loc.URL.Redacted(), StatusCode: resp.StatusCode}
	}
	return fetcher.ReadLimited(resp.Body, f.MaxBytes())
}

func init() {
	fetcher.RegisterSource(&httpSource{})
}
