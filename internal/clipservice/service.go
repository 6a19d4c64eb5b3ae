// Package clipservice is the clip repository: it coordinates the SQLite store,
// the payload files, thumbnails and perceptual hashing.
package clipservice

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/phash"
	"github.com/starford/clipshelf/internal/storage"
	"github.com/starford/clipshelf/internal/store"
	"github.com/starford/clipshelf/internal/thumbnail"
)

// EventFunc is notified after a mutation has been committed.
type EventFunc func(models.ClipEvent)

// Options tune a Service. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// Now stamps created_at on ingest. Defaults to time.Now.
	Now func() time.Time
	// Hash computes perceptual hashes. Defaults to phash.Hash.
	Hash func(image.Image) uint64
	// QueryCache memoizes hashes of uploaded query images. It hashes with
	// phash.Hash, so it is ignored when Hash is overridden.
	QueryCache *phash.Cache
	// DefaultThreshold applies to searches that leave DistanceThreshold unset.
	// Nil means store.DefaultDistanceThreshold.
	DefaultThreshold *int
	// ThumbnailSize bounds the longer thumbnail edge.
	ThumbnailSize int
	// StrictTags stops Ingest and Update from adding unknown tag names to the
	// directory; such names are then ignored.
	StrictTags bool
	OnEvent    EventFunc
}

// Service implements the clip repository operations.
type Service struct {
	db       *store.DB
	payloads storage.Provider

	logger     *slog.Logger
	now        func() time.Time
	hash       func(image.Image) uint64
	queryCache *phash.Cache
	threshold  *int
	thumbSize  int
	createTags bool
	onEvent    EventFunc
}

// NewService creates a clip service over db and the payload provider.
func NewService(db *store.DB, payloads storage.Provider, opts Options) *Service {
	s := &Service{
		db:         db,
		payloads:   payloads,
		logger:     opts.Logger,
		now:        opts.Now,
		hash:       opts.Hash,
		threshold:  opts.DefaultThreshold,
		thumbSize:  opts.ThumbnailSize,
		createTags: !opts.StrictTags,
		onEvent:    opts.OnEvent,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.hash == nil {
		s.hash = phash.Hash
		s.queryCache = opts.QueryCache
	}
	if s.thumbSize <= 0 {
		s.thumbSize = thumbnail.DefaultMaxSide
	}
	return s
}

// SetEventFunc replaces the mutation listener. It must be called before the
// service is shared between goroutines.
func (s *Service) SetEventFunc(fn EventFunc) { s.onEvent = fn }

func (s *Service) emit(kind string, c *models.Clip) {
	if s.onEvent == nil {
		return
	}
	ev := models.ClipEvent{Kind: kind}
	if c != nil {
		ev.ClipID, ev.CreatedAt, ev.Tags = c.ID, c.CreatedAt, c.Tags
	}
	s.onEvent(ev)
}

// prepared is a raw clip with everything computed that does not need the store.
type prepared struct {
	clip models.Clip
	data []byte
}

func (s *Service) prepare(raw models.RawClip, description string) (prepared, error) {
	data := raw.Data
	if data == nil && raw.Path != "" {
		b, err := os.ReadFile(raw.Path)
		if err != nil {
			return prepared{}, err
		}
		data = b
	}
	p := prepared{
		clip: models.Clip{
			Name:        raw.Name,
			IsImage:     raw.IsImage,
			IsFile:      raw.IsFile,
			Description: description,
		},
		data: data,
	}
	if !raw.IsImage {
		return p, nil
	}
	img, err := thumbnail.Decode(data)
	if err != nil {
		s.logger.Warn("clipservice: image not decodable, stored without hash",
			slog.String("name", raw.Name),
			slog.String("error", err.Error()))
		return p, nil
	}
	p.clip.PHash = s.hash(img)
	thumb, err := thumbnail.Make(img, s.thumbSize)
	if err != nil {
		s.logger.Warn("clipservice: thumbnail failed",
			slog.String("name", raw.Name),
			slog.String("error", err.Error()))
		return p, nil
	}
	p.clip.Thumbnail = thumb
	return p, nil
}

// Ingest persists a batch of raw clips, all linked to the same tags and
// carrying the same description. The batch is atomic: if any item fails,
// nothing from it remains in the store or the payload directory.
func (s *Service) Ingest(ctx context.Context, items []models.RawClip, tags []string, description string) ([]models.Clip, error) {
	if len(items) == 0 {
		return []models.Clip{}, nil
	}

	batch := make([]prepared, 0, len(items))
	for _, raw := range items {
		p, err := s.prepare(raw, description)
		if err != nil {
			return nil, apperr.Op("ingest "+raw.Name, 0, err)
		}
		batch = append(batch, p)
	}

	var written []int64
	out := make([]models.Clip, 0, len(batch))
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		tagIDs, err := tx.ResolveTags(ctx, tags, s.createTags)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(batch))
		for i := range batch {
			c := &batch[i].clip
			// Same instant and location FindByID reads back.
			c.CreatedAt = time.Unix(0, s.now().UnixNano())
			if err := tx.InsertClip(ctx, c); err != nil {
				return apperr.Op("ingest "+c.Name, 0, err)
			}
			if err := tx.Link(ctx, c.ID, tagIDs); err != nil {
				return apperr.Op("ingest", c.ID, err)
			}
			if err := s.payloads.Put(c.ID, batch[i].data); err != nil {
				return apperr.Op("ingest", c.ID, err)
			}
			written = append(written, c.ID)
			ids = append(ids, c.ID)
		}
		linked, err := tx.TagsOfMany(ctx, ids)
		if err != nil {
			return err
		}
		for _, p := range batch {
			c := p.clip
			c.Tags = nonNilSlice(linked[c.ID])
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		for _, id := range written {
			if delErr := s.payloads.Remove(id); delErr != nil {
				s.logger.Warn("clipservice: payload rollback failed",
					slog.Int64("id", id),
					slog.String("error", delErr.Error()))
			}
		}
		return nil, err
	}

	for i := range out {
		s.emit(models.ClipCreated, &out[i])
	}
	s.logger.Debug("clipservice: ingested", slog.Int("count", len(out)))
	return out, nil
}

// FindByID returns the clip with its tags, or apperr.ErrNotFound.
func (s *Service) FindByID(ctx context.Context, id int64) (*models.Clip, error) {
	c, err := s.db.GetClip(ctx, id)
	if err != nil {
		return nil, err
	}
	tags, err := s.db.TagsOf(ctx, id)
	if err != nil {
		return nil, apperr.Op("find clip", id, err)
	}
	c.Tags = nonNilSlice(tags)
	return c, nil
}

// Remove deletes a clip, its associations, upload records and payload.
// Removing an unknown id is a no-op.
func (s *Service) Remove(ctx context.Context, id int64) error {
	var removed *models.Clip
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		c, err := tx.GetClip(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.Tags, err = tx.TagsOf(ctx, id); err != nil {
			return err
		}
		removed = c
		return tx.DeleteClip(ctx, id)
	})
	if err != nil {
		return apperr.Op("remove clip", id, err)
	}
	if removed == nil {
		return nil
	}
	if err := s.payloads.Remove(id); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("clipservice: payload delete failed",
			slog.Int64("id", id),
			slog.String("error", err.Error()))
	}
	s.emit(models.ClipDeleted, removed)
	return nil
}

// Clean empties the whole archive. The tag directory and servers are kept.
func (s *Service) Clean(ctx context.Context) error {
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		return tx.DeleteAllClips(ctx)
	})
	if err != nil {
		return apperr.Op("clean", 0, err)
	}
	if err := s.payloads.Purge(); err != nil {
		s.logger.Warn("clipservice: payload clear failed", slog.String("error", err.Error()))
	}
	s.emit(models.ArchiveCleaned, nil)
	return nil
}

// Update overwrites the description of clip.ID and replaces its tag set with
// clip.Tags. Only those two fields are read.
func (s *Service) Update(ctx context.Context, clip models.Clip) error {
	var updated *models.Clip
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateDescription(ctx, clip.ID, clip.Description); err != nil {
			return err
		}
		if err := tx.Unlink(ctx, clip.ID); err != nil {
			return err
		}
		tagIDs, err := tx.ResolveTags(ctx, clip.Tags, s.createTags)
		if err != nil {
			return err
		}
		if err := tx.Link(ctx, clip.ID, tagIDs); err != nil {
			return err
		}
		if updated, err = tx.GetClip(ctx, clip.ID); err != nil {
			return err
		}
		updated.Tags, err = tx.TagsOf(ctx, clip.ID)
		return err
	})
	if err != nil {
		return apperr.Op("update clip", clip.ID, err)
	}
	s.emit(models.ClipUpdated, updated)
	return nil
}

// Search returns clips matching c, newest first, with tags. When c.QueryImage
// is set the relational result is narrowed to perceptually similar images.
func (s *Service) Search(ctx context.Context, c store.Criteria) ([]models.Clip, error) {
	if c.QueryImage == nil {
		return s.search(ctx, c, nil)
	}
	q := s.hash(c.QueryImage)
	return s.search(ctx, c, &q)
}

// SearchByImageData is Search with an encoded query image. Hashes of repeated
// query payloads are served from the query cache when one is configured.
func (s *Service) SearchByImageData(ctx context.Context, c store.Criteria, data []byte) ([]models.Clip, error) {
	var q uint64
	if s.queryCache != nil {
		h, err := s.queryCache.HashBytes(data)
		if err != nil {
			return nil, fmt.Errorf("%w: query image: %v", apperr.ErrInvalidFilter, err)
		}
		q = h
	} else {
		img, err := thumbnail.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: query image: %v", apperr.ErrInvalidFilter, err)
		}
		q = s.hash(img)
	}
	c.QueryImage = nil
	return s.search(ctx, c, &q)
}

func (s *Service) search(ctx context.Context, c store.Criteria, query *uint64) ([]models.Clip, error) {
	if c.DistanceThreshold == nil {
		c.DistanceThreshold = s.threshold
	}
	clips, err := s.db.Search(ctx, c)
	if err != nil {
		return nil, err
	}
	if query != nil {
		clips = MatchPerceptual(clips, *query, c.Threshold())
	}
	if len(clips) == 0 {
		return []models.Clip{}, nil
	}
	ids := make([]int64, len(clips))
	for i, cl := range clips {
		ids[i] = cl.ID
	}
	tags, err := s.db.TagsOfMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range clips {
		clips[i].Tags = nonNilSlice(tags[clips[i].ID])
	}
	return clips, nil
}

// SearchAndGroup runs Search and partitions the result by creation date.
func (s *Service) SearchAndGroup(ctx context.Context, c store.Criteria) ([]models.DateGroup, error) {
	clips, err := s.Search(ctx, c)
	if err != nil {
		return nil, err
	}
	return GroupByCreationDate(clips), nil
}

// Payload returns the original bytes of a clip.
func (s *Service) Payload(ctx context.Context, id int64) ([]byte, error) {
	if _, err := s.db.GetClip(ctx, id); err != nil {
		return nil, err
	}
	data, err := s.payloads.Get(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Op("read payload", id, err)
	}
	return data, nil
}

// Tags lists the tag directory.
func (s *Service) Tags(ctx context.Context) ([]models.Tag, error) {
	tags, err := s.db.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(tags), nil
}

// NormalizeTags trims names and drops blanks and duplicates, keeping order.
func NormalizeTags(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
