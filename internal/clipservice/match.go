package clipservice

import (
	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/phash"
)

// MatchPerceptual keeps the clips whose hash lies within threshold bits of
// query, preserving order. Clips without a hash (PHash 0) are compared like
// any other value. Cost is one popcount per candidate.
func MatchPerceptual(clips []models.Clip, query uint64, threshold int) []models.Clip {
	out := make([]models.Clip, 0, len(clips))
	for _, c := range clips {
		if phash.Distance(c.PHash, query) <= threshold {
			out = append(out, c)
		}
	}
	return out
}
