package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RequestBudget throttles requests to one remote host using the hints the
// host sends back: Retry-After, X-RateLimit-Remaining and X-RateLimit-Reset.
// A host that never reports a limit is never throttled.
type RequestBudget struct {
	mu        sync.Mutex
	limited   bool
	remaining int
	reset     time.Time
	cooldown  time.Time
	trialSent bool
	now       func() time.Time
	notifyCh  chan struct{}
}

func NewRequestBudget() *RequestBudget {
	return &RequestBudget{
		now:      time.Now,
		notifyCh: make(chan struct{}),
	}
}

// Remaining returns the last reported request allowance, or -1 when the host
// has not reported one.
func (b *RequestBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.limited {
		return -1
	}
	return b.remaining
}

func (b *RequestBudget) Acquire(ctx context.Context, n int) error {
	if ctx == nil {
		return fmt.Errorf("Acquire: nil context")
	}
	if n <= 0 {
		return fmt.Errorf("Acquire: n must be > 0 (got %d)", n)
	}
	if b == nil {
		return fmt.Errorf("Acquire: nil RequestBudget")
	}
	if b.now == nil || b.notifyCh == nil {
		return fmt.Errorf("Acquire: RequestBudget not initialized (use NewRequestBudget)")
	}

	for i := 0; i < n; i++ {
		if err := b.acquireOne(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *RequestBudget) acquireOne(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()

		var until time.Time
		switch {
		case now.Before(b.cooldown):
			until = b.cooldown
		case !b.limited:
			b.mu.Unlock()
			return nil
		case b.remaining > 0:
			b.remaining--
			b.mu.Unlock()
			return nil
		case !now.Before(b.reset):
			// The window has rolled over but no response has confirmed it
			// yet: let exactly one trial request through, then wait for an update.
			if !b.trialSent {
				b.trialSent = true
				b.mu.Unlock()
				return nil
			}
		default:
			until = b.reset
		}

		ch := b.notifyCh
		b.mu.Unlock()

		if err := waitFor(ctx, ch, until, now); err != nil {
			return err
		}
	}
}

// waitFor blocks until ch is closed, until is reached (when non-zero), or
// ctx ends.
func waitFor(ctx context.Context, ch <-chan struct{}, until, now time.Time) error {
	if until.IsZero() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			return nil
		}
	}

	wait := until.Sub(now)
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
	case <-timer.C:
	}
	return nil
}

func (b *RequestBudget) signalLocked() {
	close(b.notifyCh)
	b.notifyCh = make(chan struct{})
}

func (b *RequestBudget) UpdateFromResponse(resp *http.Response) {
	if resp == nil || b == nil || b.now == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	changed := false
	now := b.now()

	if until, ok := parseRetryAfter(resp.Header.Get("Retry-After"), now); ok && until.After(b.cooldown) {
		b.cooldown = until
		changed = true
	}

	if raw := resp.Header.Get("X-RateLimit-Remaining"); raw != "" {
		if val, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && val >= 0 {
			if !b.limited || b.remaining != val {
				b.limited = true
				b.remaining = val
				changed = true
			}
		}
	}

	if raw := resp.Header.Get("X-RateLimit-Reset"); raw != "" {
		if val, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && val > 0 {
			if reset := time.Unix(val, 0); !b.reset.Equal(reset) {
				b.reset = reset
				changed = true
			}
		}
	}

	if changed {
		b.trialSent = false
		b.signalLocked()
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(seconds) * time.Second), true
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at, true
	}
	return time.Time{}, false
}

// Budgets hands out one RequestBudget per host.
type Budgets struct {
	mu     sync.Mutex
	byHost map[string]*RequestBudget
}

func NewBudgets() *Budgets {
	return &Budgets{byHost: make(map[string]*RequestBudget)}
}

func (b *Budgets) For(host string) *RequestBudget {
	host = strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if budget, ok := b.byHost[host]; ok {
		return budget
	}
	budget := NewRequestBudget()
	b.byHost[host] = budget
	return budget
}
