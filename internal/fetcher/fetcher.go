package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	gh "imageutils/internal/github"
)

// DefaultMaxBytes caps a single payload when no limit is configured.
const DefaultMaxBytes int64 = 32 << 20

// DefaultCacheEntries is the in-memory LRU size used by NewFetcher.
const DefaultCacheEntries = 64

// Fetcher resolves locators to raw bytes. Lookups go through the in-memory
// cache, then the persistent store (if any), then the registered Source; a
// single source call is made for concurrent requests of the same key.
type Fetcher struct {
	http      *http.Client
	github    *gh.Client
	budgets   *Budgets
	group     Group
	cache     *Cache
	store     Store
	maxBytes  int64
	userAgent string
	logger    *slog.Logger
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.http = c }
}

func WithGitHubClient(c *gh.Client) Option {
	return func(f *Fetcher) { f.github = c }
}

// WithCache replaces the default in-memory cache; nil disables it.
func WithCache(c *Cache) Option {
	return func(f *Fetcher) { f.cache = c }
}

func WithStore(s Store) Option {
	return func(f *Fetcher) { f.store = s }
}

func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func NewFetcher(opts ...Option) *Fetcher {
	cache, _ := NewCache(DefaultCacheEntries)
	f := &Fetcher{
		http:     http.DefaultClient,
		budgets:  NewBudgets(),
		cache:    cache,
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	for _, apply := range opts {
		if apply != nil {
			apply(f)
		}
	}
	if f.http == nil {
		f.http = http.DefaultClient
	}
	return f
}

func (f *Fetcher) HTTPClient() *http.Client {
	return f.http
}

// GitHubClient returns nil when the github source is not configured.
func (f *Fetcher) GitHubClient() *gh.Client {
	return f.github
}

func (f *Fetcher) Budget(host string) *RequestBudget {
	return f.budgets.For(host)
}

func (f *Fetcher) MaxBytes() int64 {
	return f.maxBytes
}

func (f *Fetcher) UserAgent() string {
	return f.userAgent
}

func (f *Fetcher) Logger() *slog.Logger {
	return f.logger
}

// Fetch returns the bytes behind loc.
func (f *Fetcher) Fetch(ctx context.Context, loc Locator) ([]byte, error) {
	if ctx == nil {
		return nil, fmt.Errorf("Fetch: nil context")
	}
	if f == nil {
		return nil, fmt.Errorf("Fetch: nil Fetcher")
	}
	if f.budgets == nil {
		return nil, fmt.Errorf("Fetch: fetcher not initialized (use NewFetcher)")
	}
	if loc.Scheme == "" {
		return nil, &LocatorError{Raw: loc.Raw, Err: ErrEmptyLocator}
	}

	src, ok := ResolveSource(loc.Scheme)
	if !ok {
		return nil, &LocatorError{Raw: loc.Raw, Err: fmt.Errorf("%w: no source registered for scheme %q", ErrUnsupportedLocator, loc.Scheme)}
	}

	key := loc.Key()
	cacheable := src.Cacheable()

	if cacheable {
		if data, ok := f.cache.Get(key); ok {
			f.logger.Debug("fetch cache hit", "layer", "memory", "key", key)
			return data, nil
		}
		if f.store != nil {
			if data, ok := f.store.Get(key); ok {
				f.logger.Debug("fetch cache hit", "layer", "store", "key", key)
				f.cache.Set(key, data)
				return data, nil
			}
		}
	}

	// The flight outlives any single caller; each caller still honors its
	// own ctx while waiting.
	shared := context.WithoutCancel(ctx)
	data, err, _ := f.group.DoContext(ctx, key, func() ([]byte, error) {
		data, err := f.doFetch(shared, src, loc)
		if err != nil || !cacheable {
			return data, err
		}
		f.cache.Set(key, data)
		if f.store != nil {
			if err := f.store.Put(key, data); err != nil {
				f.logger.Warn("persist fetched payload", "key", key, "error", err)
			}
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *Fetcher) doFetch(ctx context.Context, src Source, loc Locator) ([]byte, error) {
	data, err := src.Fetch(ctx, loc, f)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%s: %w (%d > %d bytes)", loc.Raw, ErrTooLarge, len(data), f.maxBytes)
	}
	return data, nil
}

// ReadLimited reads r fully, failing with ErrTooLarge past max bytes.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w (limit %d bytes)", ErrTooLarge, max)
	}
	return data, nil
}
