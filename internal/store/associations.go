package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Link associates clipID with every distinct non-zero id in tagIDs.
// Pairs that already exist are left untouched, so repeated calls with
// overlapping ids keep the association a set.
func (s queries) Link(ctx context.Context, clipID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(tagIDs))
	for _, tagID := range tagIDs {
		if tagID == 0 {
			continue
		}
		if _, dup := seen[tagID]; dup {
			continue
		}
		seen[tagID] = struct{}{}
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO clips_tags (clip_id, tag_id) VALUES (?, ?) ON CONFLICT(clip_id, tag_id) DO NOTHING`,
			clipID, tagID); err != nil {
			return fmt.Errorf("store: link clip %d to tag %d: %w", clipID, tagID, classify(err))
		}
	}
	return nil
}

// Unlink removes every association of clipID.
func (s queries) Unlink(ctx context.Context, clipID int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM clips_tags WHERE clip_id = ?`, clipID); err != nil {
		return fmt.Errorf("store: unlink clip %d: %w", clipID, classify(err))
	}
	return nil
}

// TagsOf returns the names of all tags linked to clipID. Callers must not
// depend on the order.
func (s queries) TagsOf(ctx context.Context, clipID int64) ([]string, error) {
	var names []string
	err := sqlx.SelectContext(ctx, s.q, &names, `
		SELECT tags.name
		FROM tags
		INNER JOIN clips_tags ON clips_tags.tag_id = tags.id
		WHERE clips_tags.clip_id = ?
		ORDER BY tags.name
	`, clipID)
	if err != nil {
		return nil, fmt.Errorf("store: tags of clip %d: %w", clipID, classify(err))
	}
	return names, nil
}

// TagsOfMany returns tag names keyed by clip id for a batch of clips in one query.
func (s queries) TagsOfMany(ctx context.Context, clipIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(clipIDs))
	if len(clipIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`
		SELECT clips_tags.clip_id AS clip_id, tags.name AS name
		FROM clips_tags
		INNER JOIN tags ON tags.id = clips_tags.tag_id
		WHERE clips_tags.clip_id IN (?)
		ORDER BY tags.name
	`, clipIDs)
	if err != nil {
		return nil, fmt.Errorf("store: expand clip ids: %w", err)
	}
	var rows []struct {
		ClipID int64  `db:"clip_id"`
		Name   string `db:"name"`
	}
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("store: batch tags: %w", classify(err))
	}
	for _, r := range rows {
		out[r.ClipID] = append(out[r.ClipID], r.Name)
	}
	return out, nil
}

// AssociationCount returns how many association rows reference clipID.
func (s queries) AssociationCount(ctx context.Context, clipID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.q, &n, `SELECT count(*) FROM clips_tags WHERE clip_id = ?`, clipID); err != nil {
		return 0, fmt.Errorf("store: count associations: %w", classify(err))
	}
	return n, nil
}
