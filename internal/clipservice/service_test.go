package clipservice

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/phash"
	"github.com/starford/clipshelf/internal/storage"
	"github.com/starford/clipshelf/internal/store"
	"github.com/starford/clipshelf/internal/testutil"
	"github.com/starford/clipshelf/internal/thumbnail"
)

type recorder struct {
	events []string
	last   models.ClipEvent
}

func (r *recorder) record(ev models.ClipEvent) {
	r.events = append(r.events, ev.Kind)
	r.last = ev
}

func newTestService(t *testing.T, opts Options) (*Service, *store.DB, *storage.FS) {
	t.Helper()
	db := testutil.TestDB(t)
	_, payloads := testutil.TestPayloads(t)
	return NewService(db, payloads, opts), db, payloads
}

func imageClip(t *testing.T, name string, seed uint64) models.RawClip {
	t.Helper()
	return models.RawClip{Name: name, IsImage: true, Data: testutil.PNG(t, seed)}
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestIngestAssignsTagsAndDescription(t *testing.T) {
	svc, _, payloads := newTestService(t, Options{})
	ctx := context.Background()

	clips, err := svc.Ingest(ctx, []models.RawClip{
		imageClip(t, "a.png", 1),
		{Name: "notes.txt", IsFile: true, Data: []byte("hello")},
	}, []string{"work", " ", "desk", "work"}, "first batch")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("len = %d", len(clips))
	}
	for _, c := range clips {
		if c.ID == 0 || c.Description != "first batch" {
			t.Errorf("clip = %+v", c)
		}
		if got := strings.Join(sorted(c.Tags), ","); got != "desk,work" {
			t.Errorf("clip %d tags = %s", c.ID, got)
		}
		if _, err := payloads.Get(c.ID); err != nil {
			t.Errorf("payload of %d missing: %v", c.ID, err)
		}
	}
	if clips[0].PHash == 0 || len(clips[0].Thumbnail) == 0 {
		t.Errorf("image clip lacks hash or thumbnail: %x, %d bytes", clips[0].PHash, len(clips[0].Thumbnail))
	}
	if clips[1].PHash != 0 || clips[1].Thumbnail != nil {
		t.Errorf("file clip got image data")
	}
	if clips[0].ID >= clips[1].ID {
		t.Errorf("ids not increasing: %d, %d", clips[0].ID, clips[1].ID)
	}
}

func TestIngestEmptyBatch(t *testing.T) {
	svc, db, _ := newTestService(t, Options{})
	clips, err := svc.Ingest(context.Background(), nil, []string{"x"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if clips == nil || len(clips) != 0 {
		t.Errorf("clips = %v", clips)
	}
	tags, _ := db.ListTags(context.Background())
	if len(tags) != 0 {
		t.Errorf("empty batch created tags: %v", tags)
	}
}

func TestIngestReadsFileBackedItems(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	clips, err := svc.Ingest(context.Background(), []models.RawClip{{Name: "report.pdf", IsFile: true, Path: path}}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	data, err := svc.Payload(context.Background(), clips[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "%PDF-1.4" {
		t.Errorf("payload = %q", data)
	}
}

func TestIngestUndecodableImage(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	clips, err := svc.Ingest(context.Background(), []models.RawClip{
		{Name: "broken.png", IsImage: true, Data: []byte("not really a png")},
	}, nil, "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !clips[0].IsImage || clips[0].PHash != 0 {
		t.Errorf("clip = %+v", clips[0])
	}
}

func TestIngestMissingFileStoresNothing(t *testing.T) {
	svc, db, _ := newTestService(t, Options{})
	_, err := svc.Ingest(context.Background(), []models.RawClip{
		imageClip(t, "ok.png", 1),
		{Name: "gone", IsFile: true, Path: filepath.Join(t.TempDir(), "gone")},
	}, []string{"t"}, "")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
	ids, _ := db.ClipIDs(context.Background())
	if len(ids) != 0 {
		t.Errorf("partial batch persisted: %v", ids)
	}
}

type failingPayloads struct {
	storage.Provider
	writes    int
	failAfter int
}

func (f *failingPayloads) Put(id int64, data []byte) error {
	f.writes++
	if f.writes > f.failAfter {
		return errors.New("disk full")
	}
	return f.Provider.Put(id, data)
}

func TestIngestIsAtomic(t *testing.T) {
	db := testutil.TestDB(t)
	dir, fs := testutil.TestPayloads(t)
	payloads := &failingPayloads{Provider: fs, failAfter: 1}
	svc := NewService(db, payloads, Options{})

	_, err := svc.Ingest(context.Background(), []models.RawClip{
		imageClip(t, "a.png", 1),
		imageClip(t, "b.png", 2),
	}, []string{"t"}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	ids, _ := db.ClipIDs(context.Background())
	if len(ids) != 0 {
		t.Errorf("clips persisted after failure: %v", ids)
	}
	tags, _ := db.ListTags(context.Background())
	if len(tags) != 0 {
		t.Errorf("tags persisted after failure: %v", tags)
	}
	var files []string
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if len(files) != 0 {
		t.Errorf("payloads left behind: %v", files)
	}
}

func TestStrictTagsIgnoresUnknown(t *testing.T) {
	svc, db, _ := newTestService(t, Options{StrictTags: true})
	ctx := context.Background()
	if _, err := db.ResolveTags(ctx, []string{"known"}, true); err != nil {
		t.Fatal(err)
	}
	clips, err := svc.Ingest(ctx, []models.RawClip{imageClip(t, "a.png", 1)}, []string{"known", "new"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(clips[0].Tags, ",") != "known" {
		t.Errorf("tags = %v", clips[0].Tags)
	}
	tags, _ := svc.Tags(ctx)
	if len(tags) != 1 {
		t.Errorf("directory grew: %v", tags)
	}
}

func TestFindByID(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	clips, _ := svc.Ingest(ctx, []models.RawClip{imageClip(t, "a.png", 1)}, []string{"x"}, "d")

	got, err := svc.FindByID(ctx, clips[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "a.png" || got.Description != "d" || strings.Join(got.Tags, ",") != "x" {
		t.Errorf("clip = %+v", got)
	}

	if _, err := svc.FindByID(ctx, 9999); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateReplacesTags(t *testing.T) {
	rec := &recorder{}
	svc, db, _ := newTestService(t, Options{OnEvent: rec.record})
	ctx := context.Background()
	clips, _ := svc.Ingest(ctx, []models.RawClip{imageClip(t, "a.png", 1)}, []string{"a", "b"}, "old")
	id := clips[0].ID

	if err := svc.Update(ctx, models.Clip{ID: id, Description: "new", Tags: []string{"b", "c", "c"}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := svc.FindByID(ctx, id)
	if got.Description != "new" {
		t.Errorf("description = %q", got.Description)
	}
	if strings.Join(sorted(got.Tags), ",") != "b,c" {
		t.Errorf("tags = %v", got.Tags)
	}
	if n, _ := db.AssociationCount(ctx, id); n != 2 {
		t.Errorf("association rows = %d", n)
	}
	if ev := rec.last; ev.Kind != models.ClipUpdated || ev.ClipID != id || strings.Join(sorted(ev.Tags), ",") != "b,c" {
		t.Errorf("updated event = %+v", ev)
	}

	if err := svc.Update(ctx, models.Clip{ID: id, Description: "new", Tags: nil}); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.AssociationCount(ctx, id); n != 0 {
		t.Errorf("association rows after clearing = %d", n)
	}
	if strings.Join(rec.events, ",") != "created,updated,updated" {
		t.Errorf("events = %v", rec.events)
	}
}

func TestUpdateMissingClip(t *testing.T) {
	svc, db, _ := newTestService(t, Options{})
	ctx := context.Background()
	err := svc.Update(ctx, models.Clip{ID: 404, Description: "x", Tags: []string{"fresh"}})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var opErr *apperr.OpError
	if !errors.As(err, &opErr) || opErr.ID != 404 {
		t.Errorf("err lacks op context: %v", err)
	}
	tags, _ := db.ListTags(ctx)
	if len(tags) != 0 {
		t.Errorf("failed update created tags: %v", tags)
	}
}

func TestRemove(t *testing.T) {
	rec := &recorder{}
	svc, db, payloads := newTestService(t, Options{OnEvent: rec.record})
	ctx := context.Background()
	clips, _ := svc.Ingest(ctx, []models.RawClip{imageClip(t, "a.png", 1), imageClip(t, "b.png", 2)}, []string{"x"}, "")
	id := clips[0].ID

	if err := svc.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := svc.FindByID(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("clip still present: %v", err)
	}
	if n, _ := db.AssociationCount(ctx, id); n != 0 {
		t.Errorf("association rows = %d", n)
	}
	if _, err := payloads.Get(id); err == nil {
		t.Error("payload survived removal")
	}
	if _, err := svc.FindByID(ctx, clips[1].ID); err != nil {
		t.Errorf("sibling clip affected: %v", err)
	}

	before, _ := db.ClipIDs(ctx)
	if err := svc.Remove(ctx, 12345); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	after, _ := db.ClipIDs(ctx)
	if len(before) != len(after) {
		t.Errorf("removing a missing id changed the store")
	}
	if strings.Join(rec.events, ",") != "created,created,deleted" {
		t.Errorf("events = %v", rec.events)
	}
	if ev := rec.last; ev.ClipID != id || !ev.CreatedAt.Equal(clips[0].CreatedAt) || strings.Join(ev.Tags, ",") != "x" {
		t.Errorf("deleted event = %+v", ev)
	}
}

func TestClean(t *testing.T) {
	svc, db, payloads := newTestService(t, Options{})
	ctx := context.Background()
	clips, _ := svc.Ingest(ctx, []models.RawClip{imageClip(t, "a.png", 1), imageClip(t, "b.png", 2)}, []string{"x"}, "")

	if err := svc.Clean(ctx); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	all, err := svc.Search(ctx, store.Criteria{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("clips left: %d", len(all))
	}
	if _, err := payloads.Get(clips[0].ID); err == nil {
		t.Error("payload survived clean")
	}
	tags, _ := db.ListTags(ctx)
	if len(tags) != 1 {
		t.Errorf("tag directory should be kept, got %v", tags)
	}
}

func TestSearchHydratesTags(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	_, _ = svc.Ingest(ctx, []models.RawClip{imageClip(t, "a.png", 1)}, []string{"red"}, "")
	_, _ = svc.Ingest(ctx, []models.RawClip{imageClip(t, "b.png", 2)}, nil, "")

	all, err := svc.Search(ctx, store.Criteria{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "b.png" {
		t.Fatalf("order = %v", all)
	}
	if all[0].Tags == nil || len(all[0].Tags) != 0 {
		t.Errorf("untagged clip tags = %#v", all[0].Tags)
	}
	if strings.Join(all[1].Tags, ",") != "red" {
		t.Errorf("tags = %v", all[1].Tags)
	}

	red, _ := svc.Search(ctx, store.Criteria{TagNames: []string{"red"}})
	if len(red) != 1 || red[0].Name != "a.png" {
		t.Errorf("tag search = %v", red)
	}
}

func TestSearchSameImageAtThresholdZero(t *testing.T) {
	cache, err := phash.NewCache(8)
	if err != nil {
		t.Fatal(err)
	}
	svc, _, _ := newTestService(t, Options{QueryCache: cache})
	ctx := context.Background()
	clips, err := svc.Ingest(ctx, []models.RawClip{
		imageClip(t, "one.png", 7),
		imageClip(t, "other.png", 99),
		imageClip(t, "two.png", 7),
	}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if clips[0].PHash != clips[2].PHash {
		t.Fatalf("identical images hashed differently: %x vs %x", clips[0].PHash, clips[2].PHash)
	}

	zero := 0
	query := testutil.Image(7)
	got, err := svc.Search(ctx, store.Criteria{QueryImage: query, DistanceThreshold: &zero})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != clips[2].ID || got[1].ID != clips[0].ID {
		t.Errorf("matches = %v", got)
	}

	got, err = svc.SearchByImageData(ctx, store.Criteria{DistanceThreshold: &zero}, testutil.PNG(t, 7))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("matches from encoded query = %d", len(got))
	}
}

func TestSearchByImageDataRejectsGarbage(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	_, err := svc.SearchByImageData(context.Background(), store.Criteria{}, []byte("nope"))
	if !errors.Is(err, apperr.ErrInvalidFilter) {
		t.Errorf("err = %v", err)
	}
}

func TestSearchUsesInjectedHash(t *testing.T) {
	calls := 0
	svc, _, _ := newTestService(t, Options{Hash: func(image.Image) uint64 { calls++; return 0b1111 }})
	ctx := context.Background()
	clips, err := svc.Ingest(ctx, []models.RawClip{imageClip(t, "a.png", 1), imageClip(t, "b.png", 2)}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if clips[0].PHash != 0b1111 || clips[1].PHash != 0b1111 {
		t.Fatalf("hashes = %x, %x", clips[0].PHash, clips[1].PHash)
	}
	one := 1
	got, err := svc.Search(ctx, store.Criteria{QueryImage: testutil.Image(3), DistanceThreshold: &one})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || calls != 3 {
		t.Errorf("matches = %d, hash calls = %d", len(got), calls)
	}
}

func TestSearchAndGroup(t *testing.T) {
	times := []time.Time{
		time.Date(2024, 4, 1, 9, 0, 0, 0, time.Local),
		time.Date(2024, 4, 1, 18, 0, 0, 0, time.Local),
		time.Date(2024, 4, 2, 8, 0, 0, 0, time.Local),
	}
	i := 0
	svc, _, _ := newTestService(t, Options{Now: func() time.Time { now := times[i]; i++; return now }})
	ctx := context.Background()
	for n := range times {
		if _, err := svc.Ingest(ctx, []models.RawClip{{Name: "f", IsFile: true, Data: []byte{byte(n)}}}, nil, ""); err != nil {
			t.Fatal(err)
		}
	}

	groups, err := svc.SearchAndGroup(ctx, store.Criteria{})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %d", len(groups))
	}
	if !groups[0].Date.Equal(time.Date(2024, 4, 2, 0, 0, 0, 0, time.Local)) || len(groups[0].Clips) != 1 {
		t.Errorf("first group = %v with %d clips", groups[0].Date, len(groups[0].Clips))
	}
	if len(groups[1].Clips) != 2 {
		t.Errorf("second group has %d clips", len(groups[1].Clips))
	}
}

func TestPayloadNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	if _, err := svc.Payload(context.Background(), 3); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestThumbnailSizeOption(t *testing.T) {
	svc, _, _ := newTestService(t, Options{ThumbnailSize: 32})
	clips, err := svc.Ingest(context.Background(), []models.RawClip{imageClip(t, "a.png", 1)}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	img, err := thumbnail.Decode(clips[0].Thumbnail)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 32 {
		t.Errorf("thumbnail = %dx%d", b.Dx(), b.Dy())
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" a", "b", "", "a ", "c"})
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("NormalizeTags = %v", got)
	}
}

func TestDefaultThresholdOption(t *testing.T) {
	query := testutil.Image(4)
	hash := func(img image.Image) uint64 {
		if img == query {
			return 0b11
		}
		return 0b01
	}
	zero := 0
	svc, _, _ := newTestService(t, Options{Hash: hash, DefaultThreshold: &zero})
	ctx := context.Background()
	if _, err := svc.Ingest(ctx, []models.RawClip{imageClip(t, "a.png", 1)}, nil, ""); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Search(ctx, store.Criteria{QueryImage: query})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("default threshold 0 matched %d clips", len(got))
	}
	one := 1
	got, _ = svc.Search(ctx, store.Criteria{QueryImage: query, DistanceThreshold: &one})
	if len(got) != 1 {
		t.Errorf("explicit threshold matched %d clips", len(got))
	}
}

func TestIngestCreatedAtMatchesFindByID(t *testing.T) {
	at := time.Date(2024, 4, 1, 9, 0, 0, 123456789, time.UTC)
	svc, _, _ := newTestService(t, Options{Now: func() time.Time { return at }})
	ctx := context.Background()
	clips, err := svc.Ingest(ctx, []models.RawClip{{Name: "f", IsFile: true, Data: []byte("x")}}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.FindByID(ctx, clips[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CreatedAt != clips[0].CreatedAt {
		t.Errorf("FindByID created_at = %v, Ingest returned %v", got.CreatedAt, clips[0].CreatedAt)
	}
	if !got.CreatedAt.Equal(at) || got.CreatedAt.Nanosecond() != 123456789 {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, at)
	}
}

func TestSearchAndGroupAcrossDSTFallBack(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("zone unavailable: %v", err)
	}
	prev := time.Local
	time.Local = loc
	t.Cleanup(func() { time.Local = prev })

	times := []time.Time{
		time.Date(2024, 11, 3, 3, 30, 0, 0, time.UTC), // 23:30 EDT, Nov 2
		time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC), // 01:30 EDT
		time.Date(2024, 11, 3, 6, 10, 0, 0, time.UTC), // 01:10 EST
	}
	i := 0
	svc, _, _ := newTestService(t, Options{Now: func() time.Time { now := times[i]; i++; return now }})
	ctx := context.Background()
	for n := range times {
		if _, err := svc.Ingest(ctx, []models.RawClip{{Name: "f", IsFile: true, Data: []byte{byte(n)}}}, nil, ""); err != nil {
			t.Fatal(err)
		}
	}

	groups, err := svc.SearchAndGroup(ctx, store.Criteria{})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	nov3 := groups[0]
	if !nov3.Date.Equal(time.Date(2024, 11, 3, 0, 0, 0, 0, loc)) || len(nov3.Clips) != 2 {
		t.Fatalf("first group = %v with %d clips", nov3.Date, len(nov3.Clips))
	}
	if !nov3.Clips[0].CreatedAt.Equal(times[2]) || !nov3.Clips[1].CreatedAt.Equal(times[1]) {
		t.Errorf("instants = %v, %v", nov3.Clips[0].CreatedAt.UTC(), nov3.Clips[1].CreatedAt.UTC())
	}
	if !nov3.Clips[0].CreatedAt.After(nov3.Clips[1].CreatedAt) {
		t.Error("later clip reads back as earlier")
	}
}
