// Package imaging validates card photos and prepares them for the model.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"

	"golang.org/x/image/draw"
)

// DefaultMaxPixels bounds the photo sent to the model. Phone cameras produce
// far more detail than a business card needs.
const DefaultMaxPixels = 4_000_000

// MaxDecodePixels is the largest image Decode accepts. The header is checked
// before any pixel buffer is allocated.
const MaxDecodePixels = 50_000_000

var (
	ErrEmpty       = errors.New("image is empty")
	ErrUnsupported = errors.New("image is not JPEG or PNG")
	ErrTooLarge    = errors.New("image dimensions too large")
)

// SniffMIME returns image/jpeg or image/png by magic bytes, or "" otherwise.
func SniffMIME(b []byte) string {
	// JPEG: FF D8
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "image/jpeg"
	}
	// PNG
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "image/png"
	}
	return ""
}

// Decode decodes a JPEG or PNG buffer.
func Decode(b []byte) (image.Image, string, error) {
	if len(b) == 0 {
		return nil, "", ErrEmpty
	}
	mime := SniffMIME(b)
	var (
		decode       func(io.Reader) (image.Image, error)
		decodeConfig func(io.Reader) (image.Config, error)
	)
	switch mime {
	case "image/jpeg":
		decode, decodeConfig = jpeg.Decode, jpeg.DecodeConfig
	case "image/png":
		decode, decodeConfig = png.Decode, png.DecodeConfig
	default:
		return nil, "", ErrUnsupported
	}

	cfg, err := decodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", mime, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("decode %s: zero-sized image", mime)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxDecodePixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, err := decode(bytes.NewReader(b))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", mime, err)
	}
	return img, mime, nil
}

// Prepare validates the photo and, when it exceeds maxPixels, scales it down
// and re-encodes it as JPEG. Small photos are returned unchanged.
func Prepare(b []byte, maxPixels int) ([]byte, string, error) {
	img, mime, err := Decode(b)
	if err != nil {
		return nil, "", err
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, "", fmt.Errorf("decode %s: zero-sized image", mime)
	}
	if w*h <= maxPixels {
		return b, mime, nil
	}

	scale := math.Sqrt(float64(maxPixels) / float64(w*h))
	newW := max(int(float64(w)*scale+0.5), 1)
	newH := max(int(float64(h)*scale+0.5), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), "image/jpeg", nil
}

// DecodeBase64 decodes standard or URL-safe base64, accepting a data: URL prefix.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "data:") {
		// data:<mime>;base64,<payload>
		if idx := strings.IndexByte(s, ','); idx > 0 {
			s = s[idx+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	} else if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, nil
	} else {
		return nil, err
	}
}
