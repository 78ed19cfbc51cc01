// Package bitmap decodes, transforms and persists in-memory images.
package bitmap

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// jpegQuality matches the lossless-as-possible setting used when writing files.
const jpegQuality = 100

var ErrEmptyImage = errors.New("image has no pixels")

// Decode reads an encoded image (PNG, JPEG, GIF, BMP, TIFF or WebP).
// EXIF orientation is applied for JPEG input.
func Decode(r io.Reader) (image.Image, error) {
	if r == nil {
		return nil, fmt.Errorf("decode image: nil reader")
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

func DecodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode image: empty data")
	}
	return Decode(bytes.NewReader(data))
}

// Open decodes the image stored at path.
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Dimensions reads only the header of the image at path.
func Dimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format Format) error {
	if img == nil {
		return fmt.Errorf("encode image: nil image")
	}
	if err := imaging.Encode(w, img, format.imaging(), imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}

// Save writes img to dir/name plus the format's extension and returns the
// resulting path. The directory is created if missing. The file is written to
// a temporary name first so readers never observe a partial image.
func Save(img image.Image, dir, name string, format Format) (string, error) {
	if img == nil {
		return "", fmt.Errorf("save image: nil image")
	}
	if name == "" {
		return "", fmt.Errorf("save image: empty file name")
	}
	if filepath.Base(name) != name {
		return "", fmt.Errorf("save image: file name %q must not contain a path", name)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("save image: create directory: %w", err)
	}

	path := filepath.Join(dir, name+format.Ext())
	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	tmpName := tmp.Name()

	if err := Encode(tmp, img, format); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("save image: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("save image: %w", err)
	}
	return path, nil
}

func SavePNG(img image.Image, dir, name string) (string, error) {
	return Save(img, dir, name, FormatPNG)
}

func SaveJPEG(img image.Image, dir, name string) (string, error) {
	return Save(img, dir, name, FormatJPEG)
}

// Rotate turns img clockwise by degrees, which must be a multiple of 90.
func Rotate(img image.Image, degrees int) (image.Image, error) {
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return img, nil
	case 90:
		// imaging rotates counter-clockwise.
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return nil, fmt.Errorf("rotate: %d is not a multiple of 90", degrees)
	}
}

// Landscape rotates portrait images by 270 degrees so they display wide.
// Landscape and square images are returned unchanged.
func Landscape(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dy() <= b.Dx() {
		return img
	}
	rotated, _ := Rotate(img, 270)
	return rotated
}

// FitWidth scales img down so it is at most maxWidth pixels wide, keeping the
// aspect ratio. It never upscales; maxWidth <= 0 disables scaling.
func FitWidth(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
