package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Dispatcher runs tasks on a single logical thread.
// Post reports false when the task was not accepted and will never run.
type Dispatcher interface {
	Post(task func()) bool
}

var ErrLoopRunning = errors.New("dispatch loop already running")

// Loop is a FIFO task queue drained by exactly one goroutine (the one calling
// Run). Tasks never run concurrently with each other.
//
// Once closed, either by Close or by the Run context ending, the loop stops
// accepting tasks, runs everything already queued, and Run returns.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	running bool

	wake chan struct{}
	done chan struct{}
}

type Option func(*Loop)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLoop(opts ...Option) *Loop {
	l := &Loop{
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, apply := range opts {
		if apply != nil {
			apply(l)
		}
	}
	return l
}

func (l *Loop) Post(task func()) bool {
	if l == nil || task == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// PostDelayed queues task after d has elapsed. It reports false if the loop
// is already closed; a task whose delay expires after Close is discarded.
func (l *Loop) PostDelayed(task func(), d time.Duration) bool {
	if l == nil || task == nil {
		return false
	}
	if d <= 0 {
		return l.Post(task)
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return false
	}
	time.AfterFunc(d, func() {
		if !l.Post(task) {
			l.logger.Debug("delayed task discarded: loop closed")
		}
	})
	return true
}

// Close stops the loop from accepting new tasks. Queued tasks still run.
func (l *Loop) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run executes queued tasks until the loop is closed or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("Run: nil context")
	}
	if l == nil {
		return fmt.Errorf("Run: nil Loop")
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, task := range batch {
			l.runTask(task)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return ctx.Err()
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.Close()
		}
	}
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("dispatch task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
