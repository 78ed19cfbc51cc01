package loader

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"imageutils/internal/bitmap"
	"imageutils/internal/dispatch"
	"imageutils/internal/fetcher"
	_ "imageutils/internal/fetcher/sources"
	"imageutils/internal/lifecycle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fetchFunc func(ctx context.Context, loc fetcher.Locator) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, loc fetcher.Locator) ([]byte, error) {
	return f(ctx, loc)
}

// loopDispatcher wraps a running dispatch.Loop and records whether a task is
// currently executing on it.
type loopDispatcher struct {
	loop   *dispatch.Loop
	onLoop atomic.Bool
	posts  atomic.Int32
}

func (d *loopDispatcher) Post(task func()) bool {
	d.posts.Add(1)
	return d.loop.Post(func() {
		d.onLoop.Store(true)
		defer d.onLoop.Store(false)
		task()
	})
}

func newDispatcher(t *testing.T) *loopDispatcher {
	t.Helper()
	loop := dispatch.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &loopDispatcher{loop: loop}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func staticFetcher(data []byte) fetchFunc {
	return func(context.Context, fetcher.Locator) ([]byte, error) {
		return data, nil
	}
}

func waitHandle(t *testing.T, h *Handle) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	outcome, err := h.Wait(ctx)
	require.NoError(t, err)
	return outcome
}

func TestFetch_ActiveScopeDeliversSuccessOnce(t *testing.T) {
	d := newDispatcher(t)
	l, err := New(staticFetcher(pngBytes(t, 6, 4)), d)
	require.NoError(t, err)

	var successes, failures atomic.Int32
	var gotBounds image.Rectangle
	var ranOnLoop bool

	h, err := l.Fetch(NewRequest("https://example.com/a.png"), lifecycle.Always,
		func(img image.Image) {
			successes.Add(1)
			gotBounds = img.Bounds()
			ranOnLoop = d.onLoop.Load()
		},
		func(error) { failures.Add(1) },
	)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDelivered, waitHandle(t, h))
	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, 6, gotBounds.Dx())
	assert.Equal(t, 4, gotBounds.Dy())
	assert.True(t, ranOnLoop, "callback must run on the dispatcher")
	assert.NoError(t, h.Err())
}

func TestFetch_NotAURLFailsAsync(t *testing.T) {
	d := newDispatcher(t)
	l, err := New(staticFetcher(nil), d)
	require.NoError(t, err)

	var got error
	h, err := l.Fetch(NewRequest("not-a-url"), lifecycle.Always,
		func(image.Image) { t.Error("unexpected success") },
		func(err error) { got = err },
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, waitHandle(t, h))

	require.Error(t, got)
	var fe *FetchError
	require.ErrorAs(t, got, &fe)
	assert.Equal(t, OpParse, fe.Op)
	assert.Equal(t, "not-a-url", fe.Locator)

	var le *fetcher.LocatorError
	assert.ErrorAs(t, got, &le)
	assert.ErrorIs(t, h.Err(), fetcher.ErrUnsupportedLocator)
}

func TestFetch_EmptyLocatorIsSynchronous(t *testing.T) {
	d := newDispatcher(t)
	l, err := New(staticFetcher(nil), d)
	require.NoError(t, err)

	called := false
	h, err := l.Fetch(NewRequest("  "), lifecycle.Always,
		func(image.Image) { called = true },
		func(error) { called = true },
	)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrEmptyLocator)
	assert.Zero(t, d.posts.Load())
	assert.False(t, called)
}

func TestFetch_NilScope(t *testing.T) {
	l, err := New(staticFetcher(nil), newDispatcher(t))
	require.NoError(t, err)

	_, err = l.Fetch(NewRequest("https://example.com/a.png"), nil, nil, nil)
	assert.Error(t, err)
}

func TestFetch_ScopeDestroyedBeforeCompletionDropsResult(t *testing.T) {
	d := newDispatcher(t)
	gate := make(chan struct{})
	started := make(chan struct{})
	data := pngBytes(t, 2, 2)

	l, err := New(fetchFunc(func(ctx context.Context, _ fetcher.Locator) ([]byte, error) {
		close(started)
		<-gate
		return data, nil
	}), d)
	require.NoError(t, err)

	owner := lifecycle.NewOwner()
	owner.Resume()

	var calls atomic.Int32
	h, err := l.Fetch(NewRequest("https://example.com/a.png"), owner,
		func(image.Image) { calls.Add(1) },
		func(error) { calls.Add(1) },
	)
	require.NoError(t, err)

	<-started
	owner.Destroy()
	close(gate)

	assert.Equal(t, OutcomeDropped, waitHandle(t, h))
	assert.Zero(t, calls.Load())
}

func TestFetch_ScopeDestroyedWhileQueuedDropsResult(t *testing.T) {
	d := newDispatcher(t)
	l, err := New(staticFetcher(pngBytes(t, 2, 2)), d)
	require.NoError(t, err)

	owner := lifecycle.NewOwner()

	// Hold the loop so the delivery sits in its queue.
	block := make(chan struct{})
	require.True(t, d.Post(func() { <-block }))

	var calls atomic.Int32
	h, err := l.Fetch(NewRequest("https://example.com/a.png"), owner,
		func(image.Image) { calls.Add(1) },
		func(error) { calls.Add(1) },
	)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.posts.Load() == 2 }, waitTimeout, 5*time.Millisecond)
	owner.Destroy()
	close(block)

	assert.Equal(t, OutcomeDropped, waitHandle(t, h))
	assert.Zero(t, calls.Load())
}

func TestFetch_ClosedDispatcherDropsResult(t *testing.T) {
	loop := dispatch.NewLoop()
	loop.Close()

	l, err := New(staticFetcher(pngBytes(t, 2, 2)), loop)
	require.NoError(t, err)

	h, err := l.Fetch(NewRequest("https://example.com/a.png"), lifecycle.Always,
		func(image.Image) { t.Error("unexpected success") },
		func(error) { t.Error("unexpected failure") },
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, waitHandle(t, h))
}

func TestFetch_FetchErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	l, err := New(fetchFunc(func(context.Context, fetcher.Locator) ([]byte, error) {
		return nil, cause
	}), newDispatcher(t))
	require.NoError(t, err)

	var got error
	h, err := l.Fetch(NewRequest("https://unreachable.invalid/a.png"), lifecycle.Always, nil, func(err error) { got = err })
	require.NoError(t, err)
	waitHandle(t, h)

	assert.ErrorIs(t, got, cause)
	var fe *FetchError
	require.ErrorAs(t, got, &fe)
	assert.Equal(t, OpFetch, fe.Op)
}

func TestFetch_DecodeFailure(t *testing.T) {
	l, err := New(staticFetcher([]byte("not an image")), newDispatcher(t))
	require.NoError(t, err)

	var got error
	h, err := l.Fetch(NewRequest("https://example.com/a.png"), lifecycle.Always, nil, func(err error) { got = err })
	require.NoError(t, err)
	waitHandle(t, h)

	var fe *FetchError
	require.ErrorAs(t, got, &fe)
	assert.Equal(t, OpDecode, fe.Op)
}

func TestFetch_PanicInFetcherIsReported(t *testing.T) {
	l, err := New(fetchFunc(func(context.Context, fetcher.Locator) ([]byte, error) {
		panic("boom")
	}), newDispatcher(t))
	require.NoError(t, err)

	var got error
	h, err := l.Fetch(NewRequest("https://example.com/a.png"), lifecycle.Always, nil, func(err error) { got = err })
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, waitHandle(t, h))

	var fe *FetchError
	require.ErrorAs(t, got, &fe)
	assert.Equal(t, OpRecovered, fe.Op)
}

func TestFetch_PanicInCallbackStillFinishesHandle(t *testing.T) {
	l, err := New(staticFetcher(pngBytes(t, 2, 2)), newDispatcher(t))
	require.NoError(t, err)

	h, err := l.Fetch(NewRequest("https://example.com/a.png"), lifecycle.Always,
		func(image.Image) { panic("callback") }, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, waitHandle(t, h))
}

func TestFetch_ManyRequestsEachDeliverExactlyOnce(t *testing.T) {
	l, err := New(staticFetcher(pngBytes(t, 3, 3)), newDispatcher(t))
	require.NoError(t, err)

	const n = 32
	var mu sync.Mutex
	counts := make(map[int]int)
	handles := make([]*Handle, 0, n)
	for i := 0; i < n; i++ {
		i := i
		h, err := l.Fetch(NewRequest("https://example.com/a.png"), lifecycle.Always,
			func(image.Image) {
				mu.Lock()
				counts[i]++
				mu.Unlock()
			},
			func(error) {
				mu.Lock()
				counts[i] += 100
				mu.Unlock()
			},
		)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		assert.Equal(t, OutcomeDelivered, waitHandle(t, h))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, counts, n)
	for i, c := range counts {
		assert.Equal(t, 1, c, "request %d", i)
	}
}

func TestFetch_OverHTTPS(t *testing.T) {
	payload := pngBytes(t, 8, 5)
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	f := fetcher.NewFetcher(fetcher.WithHTTPClient(server.Client()))
	l, err := New(f, newDispatcher(t))
	require.NoError(t, err)

	var got image.Image
	h, err := l.Fetch(NewRequest(server.URL+"/a.png"), lifecycle.Always,
		func(img image.Image) { got = img },
		func(err error) { t.Errorf("unexpected failure: %v", err) },
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, waitHandle(t, h))

	require.NotNil(t, got)
	assert.Greater(t, got.Bounds().Dx(), 0)
	assert.Greater(t, got.Bounds().Dy(), 0)
}

func TestNew_OutputDir(t *testing.T) {
	l, err := New(staticFetcher(nil), newDispatcher(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.TempDir(), "imageutils"), l.OutputDir())

	dir := t.TempDir()
	l, err = New(staticFetcher(nil), newDispatcher(t), WithOutputDir(dir), WithOutputDir(""))
	require.NoError(t, err)
	assert.Equal(t, dir, l.OutputDir())
}

func TestFetchFile_RoundTripKeepsDimensions(t *testing.T) {
	dir := t.TempDir()
	l, err := New(staticFetcher(pngBytes(t, 7, 3)), newDispatcher(t), WithOutputDir(dir))
	require.NoError(t, err)

	for _, tc := range []struct {
		name   string
		req    Request
		suffix string
	}{
		{name: "png named", req: NewRequest("https://example.com/a.png", WithFilename("photo")), suffix: "photo.png"},
		{name: "jpeg named", req: NewRequest("https://example.com/a.png", WithFilename("photo"), WithFormat(bitmap.FormatJPEG)), suffix: "photo.jpg"},
		{name: "random name", req: NewRequest("https://example.com/a.png"), suffix: ".png"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var path string
			h, err := l.FetchFile(tc.req, lifecycle.Always,
				func(p string) { path = p },
				func(err error) { t.Errorf("unexpected failure: %v", err) },
			)
			require.NoError(t, err)
			require.Equal(t, OutcomeDelivered, waitHandle(t, h))

			assert.Equal(t, dir, filepath.Dir(path))
			assert.Contains(t, filepath.Base(path), tc.suffix)

			img, err := bitmap.Open(path)
			require.NoError(t, err)
			assert.Equal(t, 7, img.Bounds().Dx())
			assert.Equal(t, 3, img.Bounds().Dy())
		})
	}
}

func TestFetchFile_SaveFailure(t *testing.T) {
	l, err := New(staticFetcher(pngBytes(t, 2, 2)), newDispatcher(t), WithOutputDir(t.TempDir()))
	require.NoError(t, err)

	var got error
	h, err := l.FetchFile(NewRequest("https://example.com/a.png", WithFilename("../escape")), lifecycle.Always,
		func(string) { t.Error("unexpected success") },
		func(err error) { got = err },
	)
	require.NoError(t, err)
	waitHandle(t, h)

	var fe *FetchError
	require.ErrorAs(t, got, &fe)
	assert.Equal(t, OpSave, fe.Op)
}

func TestFetchImage_Transforms(t *testing.T) {
	l, err := New(staticFetcher(pngBytes(t, 40, 80)), newDispatcher(t))
	require.NoError(t, err)

	img, err := l.FetchImage(context.Background(), NewRequest("https://example.com/a.png", WithLandscape(), WithMaxWidth(20)))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 10, img.Bounds().Dy())
}

func TestFetchImage_Errors(t *testing.T) {
	l, err := New(staticFetcher(nil), newDispatcher(t))
	require.NoError(t, err)

	_, err = l.FetchImage(context.Background(), NewRequest(""))
	assert.ErrorIs(t, err, ErrEmptyLocator)

	_, err = l.FetchImage(context.Background(), NewRequest("not-a-url"))
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, dispatch.NewLoop())
	assert.Error(t, err)

	_, err = New(staticFetcher(nil), nil)
	assert.Error(t, err)
}

func TestTimeoutBoundsBackgroundWork(t *testing.T) {
	l, err := New(fetchFunc(func(ctx context.Context, _ fetcher.Locator) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), newDispatcher(t), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	var got error
	h, err := l.Fetch(NewRequest("https://example.com/a.png"), lifecycle.Always, nil, func(err error) { got = err })
	require.NoError(t, err)
	waitHandle(t, h)
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestRequest_Defaults(t *testing.T) {
	r := NewRequest("https://example.com/a.png")
	assert.Equal(t, bitmap.FormatPNG, r.Format())
	assert.Empty(t, r.Filename())
	assert.False(t, r.Landscape())
	assert.Zero(t, r.MaxWidth())

	r = NewRequest("x", WithFormat(""), WithMaxWidth(-1))
	assert.Equal(t, bitmap.FormatPNG, r.Format())
	assert.Zero(t, r.MaxWidth())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "pending", OutcomePending.String())
	assert.Equal(t, "delivered", OutcomeDelivered.String())
	assert.Equal(t, "dropped", OutcomeDropped.String())
}
