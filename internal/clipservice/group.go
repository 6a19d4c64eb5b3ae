package clipservice

import (
	"time"

	"github.com/starford/clipshelf/internal/models"
)

// GroupByCreationDate splits clips into runs sharing a local calendar date.
// A new group starts whenever a clip's date differs from the previous one, so
// the input should already be sorted by creation time (Search returns it by
// id, which follows insertion order). Unsorted input yields repeated dates.
func GroupByCreationDate(clips []models.Clip) []models.DateGroup {
	groups := []models.DateGroup{}
	for _, c := range clips {
		d := dateOf(c.CreatedAt)
		if n := len(groups); n > 0 && groups[n-1].Date.Equal(d) {
			groups[n-1].Clips = append(groups[n-1].Clips, c)
			continue
		}
		groups = append(groups, models.DateGroup{Date: d, Clips: []models.Clip{c}})
	}
	return groups
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.In(time.Local).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
