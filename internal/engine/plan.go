package engine

import (
	"fmt"
	"sort"

	"imageutils/internal/bitmap"
	"imageutils/internal/config"
	"imageutils/internal/fetcher"
	"imageutils/internal/loader"
)

// RunPlan is the validated set of loads for one run.
type RunPlan struct {
	Jobs   []Job
	Format bitmap.Format
	Save   bool
}

func NewRunPlan(cfg *config.Config) (*RunPlan, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	format, err := bitmap.ParseFormat(cfg.Fetch.Format)
	if err != nil {
		return nil, err
	}

	base := []loader.RequestOption{loader.WithFormat(format)}
	if cfg.Fetch.Landscape {
		base = append(base, loader.WithLandscape())
	}
	if cfg.Fetch.MaxWidth > 0 {
		base = append(base, loader.WithMaxWidth(cfg.Fetch.MaxWidth))
	}

	p := &RunPlan{Format: format, Save: !cfg.Fetch.NoSave}
	for i, raw := range cfg.Fetch.Locators {
		opts := base
		if cfg.Fetch.Name != "" && len(cfg.Fetch.Locators) == 1 {
			opts = append(opts[:len(opts):len(opts)], loader.WithFilename(cfg.Fetch.Name))
		}
		p.Jobs = append(p.Jobs, Job{Index: i, Request: loader.NewRequest(raw, opts...)})
	}
	return p, nil
}

// Schemes returns the distinct locator schemes of the plan, sorted.
// Locators that do not parse are skipped; they fail when loaded.
func (p *RunPlan) Schemes() []string {
	seen := make(map[string]struct{})
	for _, job := range p.Jobs {
		loc, err := fetcher.ParseLocator(job.Request.Locator())
		if err != nil {
			continue
		}
		seen[loc.Scheme] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (p *RunPlan) Uses(scheme string) bool {
	for _, s := range p.Schemes() {
		if s == scheme {
			return true
		}
	}
	return false
}
