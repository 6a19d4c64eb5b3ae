package store

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmoiron/sqlx"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/models"
)

// DefaultDistanceThreshold is used when Criteria.DistanceThreshold is nil.
const DefaultDistanceThreshold = 15

// Criteria is a sparse search filter. Nil pointers and empty slices impose no
// constraint. Dates are calendar dates; only their year, month and day are used,
// interpreted in the local time zone.
type Criteria struct {
	DateFrom          *time.Time
	DateTo            *time.Time
	ServerIDs         []int64
	TagNames          []string
	QueryImage        image.Image
	DistanceThreshold *int
}

// Threshold returns the effective perceptual distance threshold.
func (c *Criteria) Threshold() int {
	if c.DistanceThreshold == nil {
		return DefaultDistanceThreshold
	}
	return *c.DistanceThreshold
}

// Validate rejects malformed combinations with apperr.ErrInvalidFilter.
func (c *Criteria) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.DistanceThreshold, validation.Min(0), validation.Max(64)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidFilter, err)
	}
	if c.DateFrom != nil && c.DateTo != nil && midnight(*c.DateFrom).After(midnight(*c.DateTo)) {
		return fmt.Errorf("%w: date_from %s is after date_to %s", apperr.ErrInvalidFilter,
			c.DateFrom.Format(time.DateOnly), c.DateTo.Format(time.DateOnly))
	}
	return nil
}

// midnight returns the local start of d's calendar day.
func midnight(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.Local)
}

// Compile turns c into a single SELECT over clips. tagIDs must be the directory
// ids resolved from c.TagNames (0 for unknown names); it is ignored when
// c.TagNames is empty. Only present predicates contribute, each as an AND-ed
// condition; server and tag constraints use EXISTS so no join is introduced and
// a clip is returned at most once. Results are ordered by id descending.
//
// The DateFrom boundary is exclusive: a clip created exactly at that midnight
// does not match. DateTo covers its whole calendar day.
func Compile(c Criteria, tagIDs []int64) (string, []any, error) {
	var (
		where []string
		args  []any
	)

	if c.DateFrom != nil {
		where = append(where, "clips.created_at > ?")
		args = append(args, stamp(midnight(*c.DateFrom)))
	}
	if c.DateTo != nil {
		where = append(where, "clips.created_at < ?")
		args = append(args, stamp(midnight(*c.DateTo).AddDate(0, 0, 1)))
	}
	if len(c.ServerIDs) > 0 {
		where = append(where,
			"EXISTS (SELECT 1 FROM uploads WHERE uploads.clip_id = clips.id AND uploads.server_id IN (?))")
		args = append(args, c.ServerIDs)
	}
	if len(c.TagNames) > 0 {
		known := make([]int64, 0, len(tagIDs))
		for _, id := range tagIDs {
			if id != 0 {
				known = append(known, id)
			}
		}
		if len(known) == 0 {
			where = append(where, "1 = 0")
		} else {
			where = append(where,
				"EXISTS (SELECT 1 FROM clips_tags WHERE clips_tags.clip_id = clips.id AND clips_tags.tag_id IN (?))")
			args = append(args, known)
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT clips.* FROM clips")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY clips.id DESC")

	query, args, err := sqlx.In(sb.String(), args...)
	if err != nil {
		return "", nil, fmt.Errorf("store: expand filter args: %w", err)
	}
	return query, args, nil
}

// Search runs the relational part of c and returns matching clips newest first,
// without tags. QueryImage is not evaluated here.
func (s queries) Search(ctx context.Context, c Criteria) ([]models.Clip, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var tagIDs []int64
	if len(c.TagNames) > 0 {
		ids, err := s.ResolveTags(ctx, c.TagNames, false)
		if err != nil {
			return nil, err
		}
		tagIDs = ids
	}
	query, args, err := Compile(c, tagIDs)
	if err != nil {
		return nil, err
	}
	var rows []clipRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("store: search: %w", classify(err))
	}
	return toClips(rows), nil
}
