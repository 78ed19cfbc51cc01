package sources

import (
	"context"
	"errors"
	"net/http"

	"imageutils/internal/fetcher"

	"github.com/google/go-github/v81/github"
)

var ErrNoGitHubClient = errors.New("github source: no client configured")

type githubSource struct{}

func (s *githubSource) Schemes() []string {
	return []string{fetcher.SchemeGitHub}
}

func (s *githubSource) Description() string {
	return "Files in GitHub repositories (github://OWNER/REPO/PATH[@REF])"
}

func (s *githubSource) Cacheable() bool {
	return true
}

func (s *githubSource) Fetch(ctx context.Context, loc fetcher.Locator, f *fetcher.Fetcher) ([]byte, error) {
	client := f.GitHubClient()
	if client == nil || client.Client == nil {
		return nil, ErrNoGitHubClient
	}

	budget := f.Budget(loc.Host())
	if err := budget.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var opts *github.RepositoryContentGetOptions
	if loc.Ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: loc.Ref}
	}

	rc, resp, err := client.Client.Repositories.DownloadContents(ctx, loc.Owner, loc.Repo, loc.Path, opts)
	if resp != nil {
		budget.UpdateFromResponse(resp.Response)
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, &fetcher.StatusError{URL: loc.Raw, StatusCode: resp.StatusCode}
		}
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return fetcher.ReadLimited(rc, f.MaxBytes())
}

func init() {
	fetcher.RegisterSource(&githubSource{})
}
