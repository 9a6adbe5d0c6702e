// Package photo normalizes picked images into the payload format stored for
// every drop: an aspect-fit thumbnail encoded as PNG, then base64 text.
package photo

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/image/draw"
)

const (
	// DefaultBounds is the box thumbnails are fitted into.
	DefaultBounds = 400
	// DefaultMaxPixels caps the declared width×height of an upload.
	DefaultMaxPixels = 40_000_000
)

var (
	// ErrEmpty is returned for an empty upload.
	ErrEmpty = eris.New("photo: empty image")
	// ErrTooLarge is returned when an upload declares more pixels than allowed.
	ErrTooLarge = eris.New("photo: image too large")
)

// FitSize returns the largest size with the aspect ratio of w×h that fits in
// a bounds×bounds box. Images are scaled up as well as down.
func FitSize(w, h, bounds int) (int, int) {
	if w <= 0 || h <= 0 || bounds <= 0 {
		return 0, 0
	}
	scale := float64(bounds) / float64(w)
	if s := float64(bounds) / float64(h); s < scale {
		scale = s
	}
	fw := int(float64(w)*scale + 0.5)
	fh := int(float64(h)*scale + 0.5)
	if fw < 1 {
		fw = 1
	}
	if fh < 1 {
		fh = 1
	}
	return fw, fh
}

// Thumbnail scales src to fit a bounds×bounds box using Catmull-Rom
// interpolation.
func Thumbnail(src image.Image, bounds int) image.Image {
	b := src.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), bounds)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// Encode writes img as PNG and returns the base64 text.
func Encode(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", eris.Wrap(err, "photo: encode png")
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode parses a stored payload back into an image.
func Decode(payload string) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, eris.Wrap(err, "photo: decode base64")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "photo: decode image")
	}
	return img, nil
}

// Prepare decodes an uploaded PNG, JPEG or GIF and returns the stored payload
// for it. The header is checked against maxPixels before the pixel data is
// decoded; maxPixels <= 0 means DefaultMaxPixels.
func Prepare(r io.Reader, bounds, maxPixels int) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", eris.Wrap(err, "photo: read upload")
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", eris.Wrap(err, "photo: decode upload header")
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return "", eris.Wrapf(ErrTooLarge, "photo: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", eris.Wrap(err, "photo: decode upload")
	}
	if bounds <= 0 {
		bounds = DefaultBounds
	}
	payload, err := Encode(Thumbnail(src, bounds))
	if err != nil {
		return "", eris.Wrapf(err, "photo: prepare %s", format)
	}
	return payload, nil
}
