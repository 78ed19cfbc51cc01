// Package loader runs image loads in the background and delivers their
// results on a dispatcher, but only while the requesting scope is active.
package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"imageutils/internal/bitmap"
	"imageutils/internal/dispatch"
	"imageutils/internal/fetcher"
	"imageutils/internal/lifecycle"

	"github.com/google/uuid"
)

// Fetcher returns the raw bytes behind a locator.
type Fetcher interface {
	Fetch(ctx context.Context, loc fetcher.Locator) ([]byte, error)
}

// Loader schedules loads. It is safe for concurrent use.
type Loader struct {
	fetcher    Fetcher
	dispatcher dispatch.Dispatcher
	outputDir  string
	timeout    time.Duration
	base       context.Context
	logger     *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithOutputDir sets the directory FetchFile writes to.
func WithOutputDir(dir string) Option {
	return func(l *Loader) {
		if dir != "" {
			l.outputDir = dir
		}
	}
}

// WithTimeout bounds each background load.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) { l.timeout = d }
}

// WithBaseContext sets the parent context of background work. Ending it
// aborts in-flight network calls; delivery is still gated by the scope.
func WithBaseContext(ctx context.Context) Option {
	return func(l *Loader) {
		if ctx != nil {
			l.base = ctx
		}
	}
}

// WithLogger sets the logger used for dropped results and recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns a Loader that fetches through f and delivers callbacks on d.
// FetchFile writes under os.TempDir unless WithOutputDir is given.
func New(f Fetcher, d dispatch.Dispatcher, opts ...Option) (*Loader, error) {
	if f == nil {
		return nil, fmt.Errorf("loader: nil fetcher")
	}
	if d == nil {
		return nil, fmt.Errorf("loader: nil dispatcher")
	}
	l := &Loader{
		fetcher:    f,
		dispatcher: d,
		outputDir:  filepath.Join(os.TempDir(), "imageutils"),
		base:       context.Background(),
		logger:     slog.Default(),
	}
	for _, apply := range opts {
		if apply != nil {
			apply(l)
		}
	}
	return l, nil
}

// OutputDir returns the directory FetchFile writes to.
func (l *Loader) OutputDir() string {
	return l.outputDir
}

// Fetch loads and decodes req in the background. The decoded image goes to
// onSuccess, any failure to onFailure as a *FetchError. Either callback runs on
// the dispatcher, at most once, and only if scope is active at that moment.
//
// A request without a locator fails synchronously with ErrEmptyLocator.
func (l *Loader) Fetch(req Request, scope lifecycle.Scope, onSuccess func(image.Image), onFailure func(error)) (*Handle, error) {
	if err := l.check(req, scope); err != nil {
		return nil, err
	}
	return start(l, req, scope, l.loadImage, onSuccess, onFailure), nil
}

// FetchFile is Fetch followed by writing the image under the output
// directory. onSuccess receives the written path. Without a filename in req a
// random one is used.
func (l *Loader) FetchFile(req Request, scope lifecycle.Scope, onSuccess func(path string), onFailure func(error)) (*Handle, error) {
	if err := l.check(req, scope); err != nil {
		return nil, err
	}
	return start(l, req, scope, l.loadFile, onSuccess, onFailure), nil
}

// FetchImage loads req on the calling goroutine.
func (l *Loader) FetchImage(ctx context.Context, req Request) (image.Image, error) {
	if ctx == nil {
		return nil, fmt.Errorf("FetchImage: nil context")
	}
	if err := l.check(req, lifecycle.Always); err != nil {
		return nil, err
	}
	return l.loadImage(ctx, req)
}

func (l *Loader) check(req Request, scope lifecycle.Scope) error {
	if l == nil || l.fetcher == nil || l.dispatcher == nil {
		return fmt.Errorf("loader not initialized (use New)")
	}
	if strings.TrimSpace(req.Locator()) == "" {
		return ErrEmptyLocator
	}
	if scope == nil {
		return fmt.Errorf("nil scope")
	}
	return nil
}

func (l *Loader) loadImage(ctx context.Context, req Request) (image.Image, error) {
	loc, err := fetcher.ParseLocator(req.Locator())
	if err != nil {
		return nil, &FetchError{Locator: req.Locator(), Op: OpParse, Err: err}
	}

	data, err := l.fetcher.Fetch(ctx, loc)
	if err != nil {
		return nil, &FetchError{Locator: req.Locator(), Op: OpFetch, Err: err}
	}

	img, err := bitmap.DecodeBytes(data)
	if err != nil {
		return nil, &FetchError{Locator: req.Locator(), Op: OpDecode, Err: err}
	}

	if req.Landscape() {
		img = bitmap.Landscape(img)
	}
	if req.MaxWidth() > 0 {
		img = bitmap.FitWidth(img, req.MaxWidth())
	}
	return img, nil
}

func (l *Loader) loadFile(ctx context.Context, req Request) (string, error) {
	img, err := l.loadImage(ctx, req)
	if err != nil {
		return "", err
	}

	name := req.Filename()
	if name == "" {
		name = uuid.NewString()
	}
	path, err := bitmap.Save(img, l.outputDir, name, req.Format())
	if err != nil {
		return "", &FetchError{Locator: req.Locator(), Op: OpSave, Err: err}
	}
	return path, nil
}

func (l *Loader) workContext() (context.Context, context.CancelFunc) {
	if l.timeout > 0 {
		return context.WithTimeout(l.base, l.timeout)
	}
	return context.WithCancel(l.base)
}

func start[T any](l *Loader, req Request, scope lifecycle.Scope, work func(context.Context, Request) (T, error), onSuccess func(T), onFailure func(error)) *Handle {
	h := newHandle(req.Locator())
	go func() {
		res := run(l, req, work)
		deliver(l, h, scope, res, onSuccess, onFailure)
	}()
	return h
}

func run[T any](l *Loader, req Request, work func(context.Context, Request) (T, error)) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic during image load", "locator", req.Locator(), "panic", r, "stack", string(debug.Stack()))
			res = Result[T]{Err: &FetchError{Locator: req.Locator(), Op: OpRecovered, Err: fmt.Errorf("%v", r)}}
		}
	}()

	ctx, cancel := l.workContext()
	defer cancel()

	v, err := work(ctx, req)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Locator: req.Locator(), Op: OpFetch, Err: err}
		}
		return Result[T]{Err: err}
	}
	return Result[T]{Value: v}
}

func deliver[T any](l *Loader, h *Handle, scope lifecycle.Scope, res Result[T], onSuccess func(T), onFailure func(error)) {
	if !scope.IsActive() {
		l.drop(h, "scope inactive")
		return
	}

	posted := l.dispatcher.Post(func() {
		if !scope.IsActive() {
			l.drop(h, "scope inactive")
			return
		}
		defer h.finish(OutcomeDelivered, res.Err)
		if res.Err != nil {
			if onFailure != nil {
				onFailure(res.Err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(res.Value)
		}
	})
	if !posted {
		l.drop(h, "dispatcher closed")
	}
}

func (l *Loader) drop(h *Handle, reason string) {
	l.logger.Debug("image load result dropped", "locator", h.Locator(), "reason", reason)
	h.finish(OutcomeDropped, nil)
}
