package clipservice

import (
	"testing"
	"time"

	"github.com/starford/clipshelf/internal/models"
)

func TestMatchPerceptual(t *testing.T) {
	const query = uint64(0xFFFF_0000_FFFF_0000)
	clips := []models.Clip{
		{ID: 5, PHash: query},
		{ID: 4, PHash: query ^ 0b111},  // distance 3
		{ID: 3, PHash: query ^ 0b1111}, // distance 4
		{ID: 2, PHash: 0},              // distance 32
		{ID: 1, PHash: query ^ 0b1},    // distance 1
	}

	tests := []struct {
		name      string
		threshold int
		want      []int64
	}{
		{"exact only", 0, []int64{5}},
		{"at threshold", 3, []int64{5, 4, 1}},
		{"threshold plus one excluded", 2, []int64{5, 1}},
		{"wide", 32, []int64{5, 4, 3, 2, 1}},
		{"negative matches nothing", -1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchPerceptual(clips, query, tt.threshold)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d clips, want %v", len(got), tt.want)
			}
			for i, c := range got {
				if c.ID != tt.want[i] {
					t.Errorf("got[%d] = %d, want %d", i, c.ID, tt.want[i])
				}
			}
		})
	}
}

func TestMatchPerceptualZeroHashComparedNormally(t *testing.T) {
	clips := []models.Clip{{ID: 1, PHash: 0}}
	if got := MatchPerceptual(clips, 0, 0); len(got) != 1 {
		t.Errorf("zero hash vs zero query should match at threshold 0")
	}
	if got := MatchPerceptual(clips, 1<<63, 0); len(got) != 0 {
		t.Errorf("zero hash should not match a distant query")
	}
}

func TestGroupByCreationDate(t *testing.T) {
	at := func(d, h int) time.Time { return time.Date(2024, 7, d, h, 0, 0, 0, time.Local) }
	clips := []models.Clip{
		{ID: 6, CreatedAt: at(3, 23)},
		{ID: 5, CreatedAt: at(3, 0)},
		{ID: 4, CreatedAt: at(2, 12)},
		{ID: 3, CreatedAt: at(1, 22)},
		{ID: 2, CreatedAt: at(1, 9)},
		{ID: 1, CreatedAt: at(1, 0)},
	}
	groups := GroupByCreationDate(clips)

	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	total := 0
	for i, g := range groups {
		total += len(g.Clips)
		if i > 0 && groups[i-1].Date.Equal(g.Date) {
			t.Errorf("adjacent groups %d and %d share a date", i-1, i)
		}
		for _, c := range g.Clips {
			if !dateOf(c.CreatedAt).Equal(g.Date) {
				t.Errorf("clip %d in group %v", c.ID, g.Date)
			}
		}
	}
	if total != len(clips) {
		t.Errorf("group sizes sum to %d, want %d", total, len(clips))
	}
	if sizes := []int{len(groups[0].Clips), len(groups[1].Clips), len(groups[2].Clips)}; sizes[0] != 2 || sizes[1] != 1 || sizes[2] != 3 {
		t.Errorf("sizes = %v", sizes)
	}
}

func TestGroupByCreationDateEmpty(t *testing.T) {
	groups := GroupByCreationDate(nil)
	if groups == nil || len(groups) != 0 {
		t.Errorf("groups = %#v", groups)
	}
}

func TestGroupByCreationDateUnsortedInput(t *testing.T) {
	at := func(d int) time.Time { return time.Date(2024, 7, d, 10, 0, 0, 0, time.Local) }
	groups := GroupByCreationDate([]models.Clip{
		{ID: 1, CreatedAt: at(1)},
		{ID: 2, CreatedAt: at(2)},
		{ID: 3, CreatedAt: at(1)},
	})
	if len(groups) != 3 {
		t.Errorf("groups = %d, want 3 runs", len(groups))
	}
}
