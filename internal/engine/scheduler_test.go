package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"imageutils/internal/dispatch"
	"imageutils/internal/fetcher"
	"imageutils/internal/lifecycle"
	"imageutils/internal/loader"
	"imageutils/internal/logging"
)

type gatedFetcher struct {
	payload []byte
	gate    chan struct{}
	calls   atomic.Int32
	active  atomic.Int32
	peak    atomic.Int32
}

func (f *gatedFetcher) Fetch(ctx context.Context, loc fetcher.Locator) ([]byte, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if loc.Path == "/missing.png" {
		return nil, errors.New("not found")
	}
	return f.payload, nil
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func startLoop(t *testing.T) *dispatch.Loop {
	t.Helper()
	loop := dispatch.NewLoop(dispatch.WithLogger(logging.Null()))
	go func() { _ = loop.Run(context.Background()) }()
	t.Cleanup(func() {
		loop.Close()
		<-loop.Done()
	})
	return loop
}

func newTestScheduler(t *testing.T, f loader.Fetcher, concurrency int, save bool) *Scheduler {
	t.Helper()
	ld, err := loader.New(f, startLoop(t), loader.WithOutputDir(t.TempDir()), loader.WithLogger(logging.Null()))
	if err != nil {
		t.Fatalf("loader.New: %v", err)
	}
	s, err := NewScheduler(ld, concurrency, save)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func jobsFor(locators ...string) []Job {
	jobs := make([]Job, 0, len(locators))
	for i, l := range locators {
		jobs = append(jobs, Job{Index: i, Request: loader.NewRequest(l)})
	}
	return jobs
}

func collect(t *testing.T, ch <-chan Completion) []Completion {
	t.Helper()
	var out []Completion
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatalf("timed out after %d completions", len(out))
		}
	}
}

func TestNewScheduler_RejectsInvalidArgs(t *testing.T) {
	if _, err := NewScheduler(nil, 1, false); err == nil {
		t.Fatal("expected error for nil loader")
	}
	ld, err := loader.New(&gatedFetcher{}, startLoop(t))
	if err != nil {
		t.Fatalf("loader.New: %v", err)
	}
	if _, err := NewScheduler(ld, 0, false); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestScheduler_OneCompletionPerJob(t *testing.T) {
	f := &gatedFetcher{payload: encodePNG(t, 6, 4)}
	s := newTestScheduler(t, f, 3, false)

	jobs := jobsFor("/a.png", "/b.png", "/missing.png", "/c.png", "/d.png")
	got := collect(t, s.Execute(context.Background(), jobs, lifecycle.Always))

	if len(got) != len(jobs) {
		t.Fatalf("expected %d completions, got %d", len(jobs), len(got))
	}
	seen := make(map[int]bool)
	for _, c := range got {
		if seen[c.Job.Index] {
			t.Fatalf("job %d completed twice", c.Job.Index)
		}
		seen[c.Job.Index] = true
		if c.Outcome != loader.OutcomeDelivered {
			t.Fatalf("job %d outcome = %v, want delivered", c.Job.Index, c.Outcome)
		}
		if c.Job.Request.Locator() == "/missing.png" {
			var fe *loader.FetchError
			if !errors.As(c.Err, &fe) || fe.Op != loader.OpFetch {
				t.Fatalf("expected fetch FetchError, got %v", c.Err)
			}
			continue
		}
		if c.Err != nil || c.Image == nil {
			t.Fatalf("job %d: err=%v image=%v", c.Job.Index, c.Err, c.Image)
		}
		if c.Image.Bounds().Dx() != 6 {
			t.Fatalf("unexpected width %d", c.Image.Bounds().Dx())
		}
	}
}

func TestScheduler_SaveModeReturnsPaths(t *testing.T) {
	f := &gatedFetcher{payload: encodePNG(t, 3, 3)}
	s := newTestScheduler(t, f, 2, true)

	got := collect(t, s.Execute(context.Background(), jobsFor("/a.png", "/b.png"), lifecycle.Always))
	for _, c := range got {
		if c.Err != nil || c.Path == "" || c.Image != nil {
			t.Fatalf("unexpected completion %+v", c)
		}
	}
}

func TestScheduler_BoundsConcurrency(t *testing.T) {
	f := &gatedFetcher{payload: encodePNG(t, 2, 2), gate: make(chan struct{})}
	s := newTestScheduler(t, f, 2, false)

	ch := s.Execute(context.Background(), jobsFor("/1.png", "/2.png", "/3.png", "/4.png", "/5.png"), lifecycle.Always)

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("loads never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if calls := f.calls.Load(); calls != 2 {
		t.Fatalf("expected 2 loads in flight, got %d", calls)
	}
	close(f.gate)

	got := collect(t, ch)
	if len(got) != 5 {
		t.Fatalf("expected 5 completions, got %d", len(got))
	}
	if peak := f.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent loads, saw %d", peak)
	}
}

func TestScheduler_DestroyedScopeDropsInFlight(t *testing.T) {
	f := &gatedFetcher{payload: encodePNG(t, 2, 2), gate: make(chan struct{})}
	s := newTestScheduler(t, f, 2, false)

	owner := lifecycle.NewOwner()
	ch := s.Execute(context.Background(), jobsFor("/a.png", "/b.png"), owner)

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("loads never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	owner.Destroy()
	close(f.gate)

	for _, c := range collect(t, ch) {
		if c.Outcome != loader.OutcomeDropped {
			t.Fatalf("expected dropped, got %v", c.Outcome)
		}
		if c.Image != nil || c.Err != nil {
			t.Fatalf("dropped completion carries a result: %+v", c)
		}
	}
}

func TestScheduler_CanceledContextDropsUnsubmittedJobs(t *testing.T) {
	f := &gatedFetcher{payload: encodePNG(t, 2, 2), gate: make(chan struct{})}
	s := newTestScheduler(t, f, 1, false)

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Execute(ctx, jobsFor("/first.png", "/second.png", "/third.png"), lifecycle.Always)

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("first load never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(f.gate)

	got := collect(t, ch)
	if len(got) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(got))
	}
	for _, c := range got {
		switch c.Job.Index {
		case 0:
			if c.Outcome != loader.OutcomeDelivered || c.Image == nil {
				t.Fatalf("first job should be delivered, got %+v", c)
			}
		default:
			if c.Outcome != loader.OutcomeDropped {
				t.Fatalf("job %d should be dropped, got %v", c.Job.Index, c.Outcome)
			}
		}
	}
	if calls := f.calls.Load(); calls != 1 {
		t.Fatalf("expected unsubmitted jobs never to load, got %d calls", calls)
	}
}

func TestScheduler_EmptyLocatorFailsImmediately(t *testing.T) {
	f := &gatedFetcher{payload: encodePNG(t, 2, 2)}
	s := newTestScheduler(t, f, 1, false)

	got := collect(t, s.Execute(context.Background(), jobsFor("  "), lifecycle.Always))
	if len(got) != 1 || !errors.Is(got[0].Err, loader.ErrEmptyLocator) {
		t.Fatalf("expected ErrEmptyLocator, got %+v", got)
	}
	if f.calls.Load() != 0 {
		t.Fatal("fetcher should not be called")
	}
}
