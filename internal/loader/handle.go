package loader

import (
	"context"
	"fmt"
	"sync"
)

// Outcome is the terminal state of a scheduled load.
type Outcome int

const (
	// OutcomePending means the load has not finished.
	OutcomePending Outcome = iota
	// OutcomeDelivered means exactly one callback was invoked.
	OutcomeDelivered
	// OutcomeDropped means the result was discarded without invoking a callback,
	// because the scope was inactive or the dispatcher refused the delivery.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDropped:
		return "dropped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Handle tracks one scheduled load. It does not cancel the work.
type Handle struct {
	locator string
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	outcome Outcome
	err     error
}

func newHandle(locator string) *Handle {
	return &Handle{locator: locator, done: make(chan struct{})}
}

func (h *Handle) finish(outcome Outcome, err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.outcome = outcome
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *Handle) Locator() string {
	return h.locator
}

// Done is closed once the load is delivered or dropped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the load finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	if ctx == nil {
		return OutcomePending, fmt.Errorf("Wait: nil context")
	}
	select {
	case <-h.done:
		return h.Outcome(), nil
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

func (h *Handle) Outcome() Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// Err is the failure handed to onFailure, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
