// Package raster decodes and encodes tile images.
package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	_ "golang.org/x/image/tiff" // GeoTIFF-style tiles
	_ "golang.org/x/image/webp" // some tile servers answer with webp

	"github.com/kiesman99/mapstyle/internal/failure"
)

// Output formats
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// DefaultJPEGQuality matches the quality the mosaic is saved with.
const DefaultJPEGQuality = 95

// Decode detects the image format and decodes data. Anything that is not a
// decodable, non-empty image is a data integrity failure.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image payload", failure.ErrDataIntegrity)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode: %v", failure.ErrDataIntegrity, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, format, fmt.Errorf("%w: zero-size %s image", failure.ErrDataIntegrity, format)
	}
	return img, format, nil
}

// DecodeConfig reads only the header to get the dimensions.
func DecodeConfig(data []byte) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, fmt.Errorf("%w: decode header: %v", failure.ErrDataIntegrity, err)
	}
	return cfg, nil
}

// Encode writes img in format. quality only applies to JPEG; <= 0 means DefaultJPEGQuality.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch NormalizeFormat(format) {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		if quality <= 0 {
			quality = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NormalizeFormat maps file extensions and decoder names onto output formats.
func NormalizeFormat(s string) string {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	default:
		return strings.ToLower(strings.TrimPrefix(s, "."))
	}
}

// MIMEType returns the content type for an output format.
func MIMEType(format string) string {
	switch NormalizeFormat(format) {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
