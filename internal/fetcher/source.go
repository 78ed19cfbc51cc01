package fetcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Source retrieves the raw bytes behind a locator for one or more schemes.
type Source interface {
	Schemes() []string
	Description() string
	// Cacheable reports whether results may be kept in the fetch caches.
	Cacheable() bool
	Fetch(ctx context.Context, loc Locator, f *Fetcher) ([]byte, error)
}

var (
	sourceRegistry = make(map[string]Source)
	sourceMu       sync.RWMutex
)

func RegisterSource(src Source) {
	if src == nil {
		panic("source is nil")
	}
	schemes := src.Schemes()
	if len(schemes) == 0 {
		panic("source has no schemes")
	}

	sourceMu.Lock()
	defer sourceMu.Unlock()
	for _, scheme := range schemes {
		if scheme == "" {
			panic("source scheme is empty")
		}
		if _, exists := sourceRegistry[scheme]; exists {
			panic(fmt.Sprintf("source for scheme %s already registered", scheme))
		}
	}
	for _, scheme := range schemes {
		sourceRegistry[scheme] = src
	}
}

func ResolveSource(scheme string) (Source, bool) {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	src, ok := sourceRegistry[scheme]
	return src, ok
}

// ListSources returns each registered source once, ordered by its first scheme.
func ListSources() []Source {
	sourceMu.RLock()
	defer sourceMu.RUnlock()

	seen := make(map[Source]struct{}, len(sourceRegistry))
	all := make([]Source, 0, len(sourceRegistry))
	for _, src := range sourceRegistry {
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		all = append(all, src)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Schemes()[0] < all[j].Schemes()[0]
	})
	return all
}
