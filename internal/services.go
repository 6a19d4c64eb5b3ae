package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/clipshelf/internal/clipservice"
	"github.com/starford/clipshelf/internal/phash"
	"github.com/starford/clipshelf/internal/storage"
	"github.com/starford/clipshelf/internal/store"
	"github.com/starford/clipshelf/internal/uploader"
)

// Services bundles the opened store and the services built on top of it.
// The HTTP server, the MCP server and one-shot CLI commands share it.
type Services struct {
	DB       *store.DB
	Payloads *storage.FS
	Clips    *clipservice.Service
	Uploads  *uploader.Service
}

// OpenServices opens the database and payload directory named by cfg.
// Callers must Close the result.
func OpenServices(cfg *Config, logger *slog.Logger) (*Services, error) {
	payloads, err := storage.NewFS(cfg.Archive.PayloadDir)
	if err != nil {
		return nil, fmt.Errorf("init payload storage: %w", err)
	}

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	var cache *phash.Cache
	if cfg.Archive.QueryCacheSize > 0 {
		if cache, err = phash.NewCache(cfg.Archive.QueryCacheSize); err != nil {
			db.Close()
			return nil, fmt.Errorf("init query cache: %w", err)
		}
	}

	threshold := cfg.Archive.DefaultThreshold
	clips := clipservice.NewService(db, payloads, clipservice.Options{
		Logger:           logger,
		QueryCache:       cache,
		DefaultThreshold: &threshold,
		ThumbnailSize:    cfg.Archive.ThumbnailSize,
		StrictTags:       !cfg.Archive.CreateMissingTags,
	})
	uploads := uploader.NewService(db, payloads, nil, logger)

	return &Services{DB: db, Payloads: payloads, Clips: clips, Uploads: uploads}, nil
}

// Ready reports whether the store answers.
func (s *Services) Ready(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

// Close releases the database.
func (s *Services) Close() error {
	return s.DB.Close()
}
