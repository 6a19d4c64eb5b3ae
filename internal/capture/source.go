// Package capture turns files, pasted images and an inbox directory into raw
// clips ready for ingest.
package capture

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/clipshelf/internal/models"
)

// sniffLen is how many leading bytes http.DetectContentType looks at.
const sniffLen = 512

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// FromFiles builds one file-backed raw clip per regular file in paths.
// Directories are skipped. Payloads are not read into memory; Path is set
// and the clip repository loads it on ingest. The first open or stat error
// is returned as is.
func FromFiles(paths []string) ([]models.RawClip, error) {
	out := make([]models.RawClip, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		isImage, err := sniffImage(p)
		if err != nil {
			return nil, err
		}
		out = append(out, models.RawClip{
			Name:    filepath.Base(p),
			IsImage: isImage,
			IsFile:  true,
			Path:    p,
		})
	}
	return out, nil
}

// FromImage wraps an in-memory image such as a clipboard paste. An empty
// name is replaced by a timestamp name like 20240309143005.png.
func FromImage(name string, data []byte) models.RawClip {
	if strings.TrimSpace(name) == "" {
		name = ImageName(time.Now())
	}
	return models.RawClip{Name: name, IsImage: true, Data: data}
}

// FromBytes wraps an uploaded file, sniffing whether it is an image.
func FromBytes(name string, data []byte) models.RawClip {
	if strings.TrimSpace(name) == "" {
		name = ImageName(time.Now())
	}
	return models.RawClip{
		Name:    name,
		IsImage: looksLikeImage(data, name),
		IsFile:  true,
		Data:    data,
	}
}

// ImageName is the default name of a pasted image taken at t.
func ImageName(t time.Time) string {
	return t.Format("20060102150405") + ".png"
}

func sniffImage(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}
	return looksLikeImage(head[:n], path), nil
}

// looksLikeImage trusts the content first and falls back to the extension
// when the sniffer cannot tell (webp and tiff are not always recognized).
func looksLikeImage(head []byte, name string) bool {
	ct := http.DetectContentType(head)
	if strings.HasPrefix(ct, "image/") {
		return ct != "image/svg+xml"
	}
	if ct == "application/octet-stream" {
		return imageExts[strings.ToLower(filepath.Ext(name))]
	}
	return false
}
