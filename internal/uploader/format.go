package uploader

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/clipshelf/internal/thumbnail"
)

type outputFormat struct {
	format imaging.Format
	ext    string
}

var outputFormats = map[string]outputFormat{
	"png":  {imaging.PNG, ".png"},
	"jpeg": {imaging.JPEG, ".jpg"},
	"gif":  {imaging.GIF, ".gif"},
}

var validFormat = validation.In("png", "jpeg", "gif").Error("must be png, jpeg or gif")

// convert decodes an image payload and encodes it in the named format. It
// returns the new bytes and the file extension to publish them under.
func convert(data []byte, name string) ([]byte, string, error) {
	f, ok := outputFormats[name]
	if !ok {
		return nil, "", fmt.Errorf("uploader: unknown output format %q", name)
	}
	img, err := thumbnail.Decode(data)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f.format, imaging.JPEGQuality(90)); err != nil {
		return nil, "", fmt.Errorf("uploader: encode %s: %w", name, err)
	}
	return buf.Bytes(), f.ext, nil
}
