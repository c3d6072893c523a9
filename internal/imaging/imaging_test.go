package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: 20, G: 80, B: 200, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestNormalizeKeepsSmallPhotos(t *testing.T) {
	for name, data := range map[string][]byte{
		"jpeg": encodeJPEG(t, 120, 80),
		"png":  encodePNG(t, 120, 80),
	} {
		t.Run(name, func(t *testing.T) {
			photo, err := Default.Normalize(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, "image/jpeg", photo.MIME)
			assert.Equal(t, 120, photo.Width)
			assert.Equal(t, 80, photo.Height)
		})
	}
}

func TestNormalizeShrinksLargePhotos(t *testing.T) {
	n := Normalizer{MaxDimension: 100, Quality: 80, MaxBytes: 1 << 20}

	photo, err := n.Normalize(bytes.NewReader(encodePNG(t, 400, 200)))
	require.NoError(t, err)
	assert.Equal(t, 100, photo.Width)
	assert.Equal(t, 50, photo.Height)

	photo, err = n.Normalize(bytes.NewReader(encodePNG(t, 50, 300)))
	require.NoError(t, err)
	assert.Equal(t, 16, photo.Width)
	assert.Equal(t, 100, photo.Height)

	decoded, err := jpeg.Decode(bytes.NewReader(photo.Data))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dy())
}

func TestNormalizeRejects(t *testing.T) {
	_, err := Default.Normalize(bytes.NewReader([]byte("GIF89a not really a gif")))
	assert.ErrorIs(t, err, ErrUnsupported)

	small := Normalizer{MaxDimension: 100, Quality: 80, MaxBytes: 32}
	_, err = small.Normalize(bytes.NewReader(encodePNG(t, 200, 200)))
	assert.ErrorIs(t, err, ErrTooLarge)
}
