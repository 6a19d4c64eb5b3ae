package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "clipshelf-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertClip(t *testing.T, db *DB, name string, at time.Time) int64 {
	t.Helper()
	c := &models.Clip{Name: name, IsFile: true, CreatedAt: at}
	if err := db.InsertClip(context.Background(), c); err != nil {
		t.Fatalf("InsertClip: %v", err)
	}
	return c.ID
}

func ids(clips []models.Clip) []int64 {
	out := make([]int64, len(clips))
	for i, c := range clips {
		out[i] = c.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"clips", "tags", "clips_tags", "servers", "uploads"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestInsertAndGetClip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 9, 14, 30, 5, 250*int(time.Millisecond), time.Local)
	c := &models.Clip{
		Name:        "shot.png",
		IsImage:     true,
		PHash:       0xF00DFACECAFEBEEF,
		Thumbnail:   []byte{1, 2, 3},
		Description: "desk",
		CreatedAt:   at,
	}
	if err := db.InsertClip(ctx, c); err != nil {
		t.Fatalf("InsertClip: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("expected generated id")
	}
	got, err := db.GetClip(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClip: %v", err)
	}
	if got.PHash != c.PHash {
		t.Errorf("phash = %x, want %x", got.PHash, c.PHash)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, at)
	}
	if got.Name != "shot.png" || !got.IsImage || got.IsFile || got.Description != "desk" {
		t.Errorf("unexpected clip: %+v", got)
	}
	if string(got.Thumbnail) != string([]byte{1, 2, 3}) {
		t.Errorf("thumbnail = %v", got.Thumbnail)
	}
}

func TestIDsStrictlyIncrease(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	a := insertClip(t, db, "a", now)
	b := insertClip(t, db, "b", now)
	if err := db.DeleteClip(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	c := insertClip(t, db, "c", now)
	if !(a < b && b < c) {
		t.Errorf("ids not increasing: %d %d %d", a, b, c)
	}
}

func TestGetClipNotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetClip(context.Background(), 42)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateDescriptionNotFound(t *testing.T) {
	db := testDB(t)
	err := db.UpdateDescription(context.Background(), 7, "x")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveTags(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	got, err := db.ResolveTags(ctx, []string{"work", "  ", "home"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !equalIDs(got, []int64{0, 0, 0}) {
		t.Fatalf("unknown tags resolved to %v", got)
	}

	got, err = db.ResolveTags(ctx, []string{"work", "home", "work"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] == 0 || got[1] == 0 || got[0] != got[2] {
		t.Fatalf("created ids = %v", got)
	}

	tags, err := db.ListTags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 || tags[0].Name != "home" || tags[1].Name != "work" {
		t.Errorf("tags = %+v", tags)
	}
}

func TestLinkIsIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := insertClip(t, db, "a", time.Now())
	tagIDs, err := db.ResolveTags(ctx, []string{"x", "y"}, true)
	if err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if err := db.Link(ctx, id, append(tagIDs, tagIDs[0], 0)); err != nil {
			t.Fatalf("Link: %v", err)
		}
	}
	n, err := db.AssociationCount(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("association count = %d, want 2", n)
	}

	names, err := db.TagsOf(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "x,y" {
		t.Errorf("tags = %v", names)
	}

	if err := db.Unlink(ctx, id); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.AssociationCount(ctx, id); n != 0 {
		t.Errorf("association count after unlink = %d", n)
	}
}

func TestTagsOfMany(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := insertClip(t, db, "a", time.Now())
	b := insertClip(t, db, "b", time.Now())
	c := insertClip(t, db, "c", time.Now())
	tagIDs, _ := db.ResolveTags(ctx, []string{"p", "q"}, true)
	_ = db.Link(ctx, a, tagIDs)
	_ = db.Link(ctx, b, tagIDs[1:])

	got, err := db.TagsOfMany(ctx, []int64{a, b, c})
	if err != nil {
		t.Fatal(err)
	}
	if len(got[a]) != 2 || len(got[b]) != 1 || got[b][0] != "q" || len(got[c]) != 0 {
		t.Errorf("tags = %v", got)
	}
}

func TestDeleteClipCascades(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := insertClip(t, db, "a", time.Now())
	tagIDs, _ := db.ResolveTags(ctx, []string{"t"}, true)
	_ = db.Link(ctx, id, tagIDs)
	srv := &models.Server{Name: "s", Protocol: "local"}
	if err := db.InsertServer(ctx, srv); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertUpload(ctx, &models.Upload{ClipID: id, ServerID: srv.ID, URL: "u"}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteClip(ctx, id); err != nil {
		t.Fatalf("DeleteClip: %v", err)
	}
	if _, err := db.GetClip(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("clip still present: %v", err)
	}
	if n, _ := db.AssociationCount(ctx, id); n != 0 {
		t.Errorf("associations left: %d", n)
	}
	ups, _ := db.UploadsOf(ctx, id)
	if len(ups) != 0 {
		t.Errorf("uploads left: %d", len(ups))
	}
	tags, _ := db.ListTags(ctx)
	if len(tags) != 1 {
		t.Errorf("tag directory should survive removal, got %d tags", len(tags))
	}
}

func TestDeleteAllClips(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for _, n := range []string{"a", "b", "c"} {
		id := insertClip(t, db, n, time.Now())
		tagIDs, _ := db.ResolveTags(ctx, []string{n}, true)
		_ = db.Link(ctx, id, tagIDs)
	}
	if err := db.DeleteAllClips(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := db.Search(ctx, Criteria{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("clips left: %d", len(got))
	}
	var links int
	_ = db.conn.QueryRow(`SELECT count(*) FROM clips_tags`).Scan(&links)
	if links != 0 {
		t.Errorf("associations left: %d", links)
	}
}

func TestInTxRollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := db.InTx(ctx, func(tx *Tx) error {
		if err := tx.InsertClip(ctx, &models.Clip{Name: "a", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	ids, _ := db.ClipIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("rolled back insert is visible: %v", ids)
	}
}

func TestServersCRUD(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	srv := &models.Server{
		Name:          "bucket",
		Protocol:      "s3",
		Settings:      map[string]string{"bucket": "clips", "region": "eu-west-1"},
		UploadEnabled: true,
	}
	if err := db.InsertServer(ctx, srv); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertServer(ctx, &models.Server{Name: "bucket", Protocol: "local"}); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate name err = %v", err)
	}

	got, err := db.GetServer(ctx, srv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Settings["bucket"] != "clips" || !got.UploadEnabled {
		t.Errorf("server = %+v", got)
	}

	if err := db.SetUploadEnabled(ctx, srv.ID, false); err != nil {
		t.Fatal(err)
	}
	enabled, _ := db.ListServers(ctx, true)
	if len(enabled) != 0 {
		t.Errorf("enabled servers = %d", len(enabled))
	}
	all, _ := db.ListServers(ctx, false)
	if len(all) != 1 {
		t.Errorf("all servers = %d", len(all))
	}

	got.Name = "renamed"
	if err := db.UpdateServer(ctx, got); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteServer(ctx, srv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetServer(ctx, srv.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestOpenKeepsDSNQuery(t *testing.T) {
	if got := withParams("a.db"); got != "a.db?"+connParams {
		t.Errorf("withParams(a.db) = %q", got)
	}
	if got := withParams("file:a.db?cache=shared"); got != "file:a.db?cache=shared&"+connParams {
		t.Errorf("withParams with query = %q", got)
	}

	f, err := os.CreateTemp("", "clipshelf-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open("file:" + f.Name() + "?cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	var fk int
	if err := db.conn.Get(&fk, `PRAGMA foreign_keys`); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}
