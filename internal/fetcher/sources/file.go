package sources

import (
	"context"
	"fmt"
	"os"

	"imageutils/internal/fetcher"
)

// fileSource reads local files. Results are not cached: the file on disk is
// already the cheapest copy.
type fileSource struct{}

func (s *fileSource) Schemes() []string {
	return []string{fetcher.SchemeFile}
}

func (s *fileSource) Description() string {
	return "Local image files (absolute, ./relative or file:// paths)"
}

func (s *fileSource) Cacheable() bool {
	return false
}

func (s *fileSource) Fetch(ctx context.Context, loc fetcher.Locator, f *fetcher.Fetcher) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(loc.Path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", loc.Path)
	}
	if info.Size() > f.MaxBytes() {
		return nil, fmt.Errorf("%s: %w (%d > %d bytes)", loc.Path, fetcher.ErrTooLarge, info.Size(), f.MaxBytes())
	}
	return os.ReadFile(loc.Path)
}

func init() {
	fetcher.RegisterSource(&fileSource{})
}
