package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/storage"
	"github.com/starford/clipshelf/internal/store"
)

// Service manages upload servers and publishes clips to them.
type Service struct {
	db       *store.DB
	payloads storage.Provider
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an upload service. A nil registry means DefaultRegistry.
func NewService(db *store.DB, payloads storage.Provider, registry *Registry, logger *slog.Logger) *Service {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, payloads: payloads, registry: registry, logger: logger, now: time.Now}
}

// Registry exposes the protocol registry.
func (s *Service) Registry() *Registry { return s.registry }

// GetAll lists every server.
func (s *Service) GetAll(ctx context.Context) ([]models.Server, error) {
	return s.db.ListServers(ctx, false)
}

// GetAllUploadEnabled lists servers that currently accept uploads.
func (s *Service) GetAllUploadEnabled(ctx context.Context) ([]models.Server, error) {
	return s.db.ListServers(ctx, true)
}

// FindByID returns one server or apperr.ErrNotFound.
func (s *Service) FindByID(ctx context.Context, id int64) (*models.Server, error) {
	return s.db.GetServer(ctx, id)
}

func (s *Service) validate(srv *models.Server) error {
	err := validation.ValidateStruct(srv,
		validation.Field(&srv.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&srv.Protocol, validation.Required),
		validation.Field(&srv.OutputFormat, validFormat),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrConstraint, err)
	}
	p, err := s.registry.Find(srv.Protocol)
	if err != nil {
		return fmt.Errorf("%w: unknown protocol %q", apperr.ErrConstraint, srv.Protocol)
	}
	if err := p.Validate(srv.Settings); err != nil {
		return fmt.Errorf("%w: settings: %v", apperr.ErrConstraint, err)
	}
	return nil
}

// Append adds a new server and sets its id.
func (s *Service) Append(ctx context.Context, srv *models.Server) error {
	srv.Name = strings.TrimSpace(srv.Name)
	if err := s.validate(srv); err != nil {
		return err
	}
	return s.db.InsertServer(ctx, srv)
}

// Update overwrites an existing server.
func (s *Service) Update(ctx context.Context, srv *models.Server) error {
	srv.Name = strings.TrimSpace(srv.Name)
	if err := s.validate(srv); err != nil {
		return err
	}
	return s.db.UpdateServer(ctx, srv)
}

// Save appends srv when it has no id yet and updates it otherwise.
func (s *Service) Save(ctx context.Context, srv *models.Server) error {
	if srv.ID == 0 {
		return s.Append(ctx, srv)
	}
	return s.Update(ctx, srv)
}

// Remove deletes a server together with its upload records.
func (s *Service) Remove(ctx context.Context, id int64) error {
	return s.db.InTx(ctx, func(tx *store.Tx) error {
		return tx.DeleteServer(ctx, id)
	})
}

// SetUploadEnabled toggles whether a server accepts uploads.
func (s *Service) SetUploadEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.db.SetUploadEnabled(ctx, id, enabled)
}

// SetOutputFormat changes the format image clips are converted to when
// uploaded to the server. An empty format sends original bytes.
func (s *Service) SetOutputFormat(ctx context.Context, id int64, format string) error {
	if err := validation.Validate(format, validFormat); err != nil {
		return apperr.Op("set output format", id, fmt.Errorf("%w: %v", apperr.ErrConstraint, err))
	}
	return s.db.SetOutputFormat(ctx, id, format)
}

// CreateUploader builds an uploader for the server with the given id.
func (s *Service) CreateUploader(ctx context.Context, id int64) (Uploader, error) {
	srv, err := s.db.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.uploaderFor(ctx, srv)
}

func (s *Service) uploaderFor(ctx context.Context, srv *models.Server) (Uploader, error) {
	p, err := s.registry.Find(srv.Protocol)
	if err != nil {
		return nil, err
	}
	return p.NewUploader(ctx, *srv)
}

// UploadClip publishes the payload of clipID to serverID under a fresh key
// and records the upload, which makes the clip visible to server filters.
func (s *Service) UploadClip(ctx context.Context, clipID, serverID int64) (*models.Upload, error) {
	srv, err := s.db.GetServer(ctx, serverID)
	if err != nil {
		return nil, apperr.Op("upload to server", serverID, err)
	}
	if !srv.UploadEnabled {
		return nil, apperr.Op("upload to server", serverID,
			fmt.Errorf("%w: uploads disabled for %q", apperr.ErrConflict, srv.Name))
	}
	clip, err := s.db.GetClip(ctx, clipID)
	if err != nil {
		return nil, apperr.Op("upload clip", clipID, err)
	}
	data, err := s.payloads.Get(clipID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = apperr.ErrNotFound
		}
		return nil, apperr.Op("upload clip", clipID, err)
	}

	up, err := s.uploaderFor(ctx, srv)
	if err != nil {
		return nil, apperr.Op("upload to server", serverID, err)
	}
	ext := strings.ToLower(path.Ext(clip.Name))
	if clip.IsImage && srv.OutputFormat != "" {
		converted, convExt, convErr := convert(data, srv.OutputFormat)
		if convErr != nil {
			s.logger.Warn("uploader: conversion failed, sending original",
				slog.Int64("clip_id", clipID),
				slog.String("format", srv.OutputFormat),
				slog.String("error", convErr.Error()))
		} else {
			data, ext = converted, convExt
		}
	}
	key := uuid.NewString() + ext
	url, err := up.Upload(ctx, key, http.DetectContentType(data), data)
	if err != nil {
		return nil, apperr.Op("upload clip", clipID, err)
	}

	rec := &models.Upload{ClipID: clipID, ServerID: serverID, URL: url, CreatedAt: s.now()}
	if err := s.db.InsertUpload(ctx, rec); err != nil {
		return nil, apperr.Op("record upload", clipID, err)
	}
	s.logger.Info("uploader: clip published",
		slog.Int64("clip_id", clipID),
		slog.String("server", srv.Name),
		slog.String("url", url))
	return rec, nil
}

// UploadsOf lists where a clip has been published.
func (s *Service) UploadsOf(ctx context.Context, clipID int64) ([]models.Upload, error) {
	return s.db.UploadsOf(ctx, clipID)
}
