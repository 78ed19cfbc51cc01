package lifecycle

import (
	"context"
	"fmt"
	"sync"
)

// Scope reports whether the owner of an asynchronous operation is still
// interested in its result. Implementations must be safe for concurrent use.
type Scope interface {
	IsActive() bool
}

// ScopeFunc adapts a plain function to a Scope.
type ScopeFunc func() bool

func (f ScopeFunc) IsActive() bool {
	if f == nil {
		return false
	}
	return f()
}

// Always is a Scope that never becomes inactive.
var Always Scope = ScopeFunc(func() bool { return true })

// FromContext returns a Scope that is active until ctx is done.
func FromContext(ctx context.Context) Scope {
	if ctx == nil {
		return ScopeFunc(func() bool { return false })
	}
	return ScopeFunc(func() bool { return ctx.Err() == nil })
}

type State int

const (
	StateCreated State = iota
	StateStarted
	StateResumed
	StatePaused
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateResumed:
		return "resumed"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Owner is a Scope driven by explicit state transitions, in the manner of a
// screen or view controller. It is active in every state except Destroyed,
// so results still reach a paused or stopped owner.
//
// Destroyed is terminal: further transitions are ignored.
type Owner struct {
	mu        sync.Mutex
	state     State
	observers []func(State)
}

func NewOwner() *Owner {
	return &Owner{state: StateCreated}
}

func (o *Owner) IsActive() bool {
	return o.State() != StateDestroyed
}

func (o *Owner) State() State {
	if o == nil {
		return StateDestroyed
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Owner) Start()   { o.moveTo(StateStarted) }
func (o *Owner) Resume()  { o.moveTo(StateResumed) }
func (o *Owner) Pause()   { o.moveTo(StatePaused) }
func (o *Owner) Stop()    { o.moveTo(StateStopped) }
func (o *Owner) Destroy() { o.moveTo(StateDestroyed) }

// Observe registers fn to be called after every state change. Observers run
// synchronously on the goroutine performing the transition.
func (o *Owner) Observe(fn func(State)) {
	if o == nil || fn == nil {
		return
	}
	o.mu.Lock()
	o.observers = append(o.observers, fn)
	o.mu.Unlock()
}

func (o *Owner) moveTo(next State) {
	if o == nil {
		return
	}
	o.mu.Lock()
	if o.state == StateDestroyed || o.state == next {
		o.mu.Unlock()
		return
	}
	o.state = next
	observers := make([]func(State), len(o.observers))
	copy(observers, o.observers)
	if next == StateDestroyed {
		o.observers = nil
	}
	o.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
}
