package engine

import (
	"context"
	"image"
	"sync"

	"imageutils/internal/bitmap"
	"imageutils/internal/loader"

	"github.com/google/uuid"
)

// fallback writes a placeholder image in place of a failed fetch. The
// placeholder is loaded once, on first use.
type fallback struct {
	loader  *loader.Loader
	locator string
	dir     string

	once sync.Once
	img  image.Image
	err  error
}

func newFallback(l *loader.Loader, locator, dir string) *fallback {
	return &fallback{loader: l, locator: locator, dir: dir}
}

// write saves the placeholder where req would have been saved.
func (f *fallback) write(ctx context.Context, req loader.Request) (string, error) {
	f.once.Do(func() {
		f.img, f.err = f.loader.FetchImage(ctx, loader.NewRequest(f.locator))
	})
	if f.err != nil {
		return "", f.err
	}

	name := req.Filename()
	if name == "" {
		name = uuid.NewString()
	}
	return bitmap.Save(f.img, f.dir, name, req.Format())
}
