package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/models"
)

// clipRow mirrors the clips table.
type clipRow struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	IsImage     bool   `db:"is_image"`
	IsFile      bool   `db:"is_file"`
	PHash       int64  `db:"phash"`
	Thumbnail   []byte `db:"thumbnail"`
	Description string `db:"description"`
	CreatedAt   int64  `db:"created_at"`
}

// Timestamps are stored as unix nanoseconds. They name an instant, so the
// host time zone only matters when a calendar day is computed from them.
func stamp(t time.Time) int64 { return t.UnixNano() }

func fromStamp(n int64) time.Time { return time.Unix(0, n) }

func toRow(c *models.Clip) clipRow {
	return clipRow{
		ID:          c.ID,
		Name:        c.Name,
		IsImage:     c.IsImage,
		IsFile:      c.IsFile,
		PHash:       int64(c.PHash),
		Thumbnail:   c.Thumbnail,
		Description: c.Description,
		CreatedAt:   stamp(c.CreatedAt),
	}
}

func (r clipRow) toClip() models.Clip {
	return models.Clip{
		ID:          r.ID,
		Name:        r.Name,
		IsImage:     r.IsImage,
		IsFile:      r.IsFile,
		PHash:       uint64(r.PHash),
		Thumbnail:   r.Thumbnail,
		Description: r.Description,
		CreatedAt:   fromStamp(r.CreatedAt),
	}
}

func toClips(rows []clipRow) []models.Clip {
	out := make([]models.Clip, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toClip())
	}
	return out
}

// InsertClip persists c and sets its generated id. CreatedAt must already be set.
func (s queries) InsertClip(ctx context.Context, c *models.Clip) error {
	res, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO clips (name, is_image, is_file, phash, thumbnail, description, created_at)
		VALUES (:name, :is_image, :is_file, :phash, :thumbnail, :description, :created_at)
	`, toRow(c))
	if err != nil {
		return fmt.Errorf("store: insert clip: %w", classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: last insert id: %w", classify(err))
	}
	c.ID = id
	return nil
}

// GetClip returns the clip with the given id, without tags.
func (s queries) GetClip(ctx context.Context, id int64) (*models.Clip, error) {
	var row clipRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM clips WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get clip: %w", classify(err))
	}
	c := row.toClip()
	return &c, nil
}

// UpdateDescription overwrites the description of an existing clip.
func (s queries) UpdateDescription(ctx context.Context, id int64, description string) error {
	res, err := sqlx.NamedExecContext(ctx, s.q,
		`UPDATE clips SET description = :description WHERE id = :id`,
		map[string]any{"id": id, "description": description})
	if err != nil {
		return fmt.Errorf("store: update description: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", classify(err))
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteClip removes a clip together with its associations and upload records.
// A missing id is not an error.
func (s queries) DeleteClip(ctx context.Context, id int64) error {
	for _, stmt := range []string{
		`DELETE FROM clips_tags WHERE clip_id = ?`,
		`DELETE FROM uploads WHERE clip_id = ?`,
		`DELETE FROM clips WHERE id = ?`,
	} {
		if _, err := s.q.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("store: delete clip: %w", classify(err))
		}
	}
	return nil
}

// DeleteAllClips empties the clip collection and everything referencing it.
func (s queries) DeleteAllClips(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM clips_tags`,
		`DELETE FROM uploads`,
		`DELETE FROM clips`,
	} {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: delete all clips: %w", classify(err))
		}
	}
	return nil
}

// ClipIDs returns every stored clip id, newest first.
func (s queries) ClipIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := sqlx.SelectContext(ctx, s.q, &ids, `SELECT id FROM clips ORDER BY id DESC`); err != nil {
		return nil, fmt.Errorf("store: clip ids: %w", classify(err))
	}
	return ids, nil
}
