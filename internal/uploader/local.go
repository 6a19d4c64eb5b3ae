package uploader

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/storage"
)

// LocalProtocol copies payloads into a directory, optionally served under base_url.
//
// Settings: dir (required), base_url.
type LocalProtocol struct{}

func (LocalProtocol) Name() string { return "local" }

func (LocalProtocol) Validate(settings map[string]string) error {
	return validation.Errors{
		"dir":      validation.Validate(settings["dir"], validation.Required),
		"base_url": validation.Validate(settings["base_url"], absURL),
	}.Filter()
}

func (p LocalProtocol) NewUploader(_ context.Context, server models.Server) (Uploader, error) {
	if err := p.Validate(server.Settings); err != nil {
		return nil, fmt.Errorf("uploader: server %q: %w", server.Name, err)
	}
	fs, err := storage.NewFS(server.Settings["dir"])
	if err != nil {
		return nil, err
	}
	return &localUploader{fs: fs, baseURL: strings.TrimRight(server.Settings["base_url"], "/")}, nil
}

type localUploader struct {
	fs      *storage.FS
	baseURL string
}

func (u *localUploader) Upload(_ context.Context, key, _ string, data []byte) (string, error) {
	if err := u.fs.Store(key, data); err != nil {
		return "", err
	}
	if u.baseURL != "" {
		return u.baseURL + "/" + key, nil
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(u.fs.Dir(), key))}).String(), nil
}
