package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/starford/clipshelf/internal/models"
)

// ResolveTags maps tag names to ids, one id per input name in input order.
// Unknown names become 0 unless create is set, in which case they are added
// to the directory. Blank names always resolve to 0.
func (s queries) ResolveTags(ctx context.Context, names []string, create bool) ([]int64, error) {
	ids := make([]int64, len(names))
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		id, err := s.tagID(ctx, name)
		if err != nil {
			return nil, err
		}
		if id == 0 && create {
			if _, err := s.q.ExecContext(ctx,
				`INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
				return nil, fmt.Errorf("store: create tag %q: %w", name, classify(err))
			}
			if id, err = s.tagID(ctx, name); err != nil {
				return nil, err
			}
		}
		ids[i] = id
	}
	return ids, nil
}

func (s queries) tagID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, s.q, &id, `SELECT id FROM tags WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: lookup tag %q: %w", name, classify(err))
	}
	return id, nil
}

// ListTags returns the whole directory ordered by name.
func (s queries) ListTags(ctx context.Context) ([]models.Tag, error) {
	var tags []models.Tag
	if err := sqlx.SelectContext(ctx, s.q, &tags, `SELECT id, name FROM tags ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("store: list tags: %w", classify(err))
	}
	return tags, nil
}
