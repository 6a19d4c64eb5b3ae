// Package thumbnail decodes clip images and renders bounded JPEG previews.
package thumbnail

import (
	"bytes"
	_ "embed"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the webp decoder with image.Decode
)

// DefaultMaxSide bounds the longer edge of a thumbnail when no size is configured.
const DefaultMaxSide = 256

const jpegQuality = 85

// UnknownFileIcon is served for clips that have no image preview.
//
//go:embed unknown.svg
var UnknownFileIcon []byte

// UnknownFileIconType is the content type of UnknownFileIcon.
const UnknownFileIconType = "image/svg+xml"

// Decode parses a png, jpeg, gif, bmp, tiff or webp payload, applying the
// EXIF orientation when present.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("thumbnail: decode: %w", err)
	}
	return img, nil
}

// Make scales img to fit in a maxSide square, keeping its aspect ratio, and
// encodes the result as JPEG. Images already smaller than the box are not enlarged.
func Make(img image.Image, maxSide int) ([]byte, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	thumb := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("thumbnail: encode: %w", err)
	}
	return buf.Bytes(), nil
}
