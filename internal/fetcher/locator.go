package fetcher

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	SchemeHTTP   = "http"
	SchemeHTTPS  = "https"
	SchemeFile   = "file"
	SchemeGitHub = "github"
)

// Locator is a parsed resource address.
//
// Accepted forms:
//
//	https://example.com/a.png
//	file:///var/images/a.png, /var/images/a.png, ./a.png
//	github://OWNER/REPO/path/to/a.png[@REF]
type Locator struct {
	Raw    string
	Scheme string

	// URL is set for http and https locators.
	URL *url.URL

	// Path is the filesystem path (file) or the repository path (github).
	Path string

	// Owner, Repo and Ref are set for github locators. Ref may be empty
	// (default branch).
	Owner string
	Repo  string
	Ref   string
}

// ParseLocator validates raw and splits it into its parts. Errors are
// *LocatorError values.
func ParseLocator(raw string) (Locator, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Locator{}, &LocatorError{Raw: raw, Err: ErrEmptyLocator}
	}

	if filepath.IsAbs(s) || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") {
		return Locator{Raw: raw, Scheme: SchemeFile, Path: filepath.Clean(s)}, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return Locator{}, &LocatorError{Raw: raw, Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case SchemeHTTP, SchemeHTTPS:
		if u.Host == "" {
			return Locator{}, &LocatorError{Raw: raw, Err: fmt.Errorf("%w: missing host", ErrUnsupportedLocator)}
		}
		u.Scheme = strings.ToLower(u.Scheme)
		return Locator{Raw: raw, Scheme: u.Scheme, URL: u}, nil

	case SchemeFile:
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		if p == "" {
			return Locator{}, &LocatorError{Raw: raw, Err: fmt.Errorf("%w: missing file path", ErrUnsupportedLocator)}
		}
		return Locator{Raw: raw, Scheme: SchemeFile, Path: filepath.Clean(filepath.FromSlash(p))}, nil

	case SchemeGitHub:
		return parseGitHubLocator(raw, u)

	case "":
		return Locator{}, &LocatorError{Raw: raw, Err: fmt.Errorf("%w: missing scheme", ErrUnsupportedLocator)}

	default:
		return Locator{}, &LocatorError{Raw: raw, Err: fmt.Errorf("%w: scheme %q", ErrUnsupportedLocator, u.Scheme)}
	}
}

func parseGitHubLocator(raw string, u *url.URL) (Locator, error) {
	owner := u.Host
	rest := strings.Trim(u.Path, "/")

	ref := ""
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		ref = rest[i+1:]
		rest = rest[:i]
		if ref == "" {
			return Locator{}, &LocatorError{Raw: raw, Err: fmt.Errorf("%w: empty ref after '@'", ErrUnsupportedLocator)}
		}
	}

	repo, filePath, ok := strings.Cut(rest, "/")
	if owner == "" || repo == "" || !ok || filePath == "" {
		return Locator{}, &LocatorError{Raw: raw, Err: fmt.Errorf("%w: expected github://OWNER/REPO/PATH[@REF]", ErrUnsupportedLocator)}
	}

	return Locator{
		Raw:    raw,
		Scheme: SchemeGitHub,
		Path:   path.Clean(filePath),
		Owner:  owner,
		Repo:   repo,
		Ref:    ref,
	}, nil
}

// Key is the canonical cache key for the locator. Two locators with the same
// key always resolve to the same resource.
func (l Locator) Key() string {
	switch l.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		if l.URL == nil {
			return l.Raw
		}
		u := *l.URL
		u.Fragment = ""
		u.Host = strings.ToLower(u.Host)
		return u.String()
	case SchemeFile:
		abs, err := filepath.Abs(l.Path)
		if err != nil {
			abs = l.Path
		}
		return "file://" + filepath.ToSlash(abs)
	case SchemeGitHub:
		k := "github://" + strings.ToLower(l.Owner) + "/" + strings.ToLower(l.Repo) + "/" + l.Path
		if l.Ref != "" {
			k += "@" + l.Ref
		}
		return k
	default:
		return l.Raw
	}
}

// Host identifies the remote endpoint used for rate-limit accounting.
func (l Locator) Host() string {
	switch l.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		if l.URL != nil {
			return strings.ToLower(l.URL.Host)
		}
	case SchemeGitHub:
		return "api.github.com"
	}
	return ""
}

func (l Locator) String() string {
	return l.Raw
}
