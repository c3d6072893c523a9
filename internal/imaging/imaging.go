// Package imaging normalises inventory photos before they are stored.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

var (
	// ErrUnsupported is returned for uploads that are not JPEG or PNG.
	ErrUnsupported = errors.New("unsupported image format")
	// ErrTooLarge is returned for uploads above the byte limit.
	ErrTooLarge = errors.New("image too large")
)

var accepted = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Photo is a normalised image ready to store.
type Photo struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Normalizer bounds and re-encodes uploaded photos.
type Normalizer struct {
	// MaxDimension caps the width and height of the stored photo.
	MaxDimension int
	// Quality is the JPEG quality of the stored photo.
	Quality int
	// MaxBytes caps the size of the upload.
	MaxBytes int64
}

// Default is the normaliser used for inventory photos.
var Default = Normalizer{MaxDimension: 1024, Quality: 85, MaxBytes: 10 << 20}

// Normalize reads an upload, checks its format from its content rather
// than any client header, shrinks it to fit MaxDimension and re-encodes
// it as JPEG.
func (n Normalizer) Normalize(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, n.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if int64(len(data)) > n.MaxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, n.MaxBytes)
	}

	if detected := http.DetectContentType(data); !accepted[detected] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	img = fit(img, n.MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.Quality}); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	b := img.Bounds()
	return &Photo{Data: buf.Bytes(), MIME: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// fit scales img down, keeping its aspect ratio, so that neither side
// exceeds limit.
func fit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if limit <= 0 || (w <= limit && h <= limit) {
		return img
	}

	nw, nh := limit, limit
	if w > h {
		nh = h * limit / w
	} else {
		nw = w * limit / h
	}
	nw, nh = max(nw, 1), max(nh, 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
