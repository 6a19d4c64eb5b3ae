package internal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/store"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = filepath.Join(dir, "clipshelf.db")
	cfg.Archive.PayloadDir = filepath.Join(dir, "payloads")
	return cfg
}

func TestHealthEndpoints(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	var readyErr error
	r := newRootRouter(api, func(context.Context) error { return readyErr })

	for path, want := range map[string]int{
		"/health/live":  http.StatusOK,
		"/health/ready": http.StatusOK,
		"/api/clips":    http.StatusTeapot,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Errorf("%s = %d, want %d", path, w.Code, want)
		}
	}

	readyErr = errors.New("db gone")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing store = %d", w.Code)
	}
}

func TestOpenServicesAndInboxIngest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture = CaptureConfig{Inbox: t.TempDir(), Tags: []string{" screenshot ", "screenshot"}, Description: "from inbox"}

	svc, err := OpenServices(cfg, NewLogger(io.Discard, cfg.App.LogLevel))
	if err != nil {
		t.Fatalf("OpenServices: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	ingest := inboxIngest(svc.Clips, cfg.Capture)
	err = ingest(context.Background(), []models.RawClip{{Name: "a.txt", IsFile: true, Data: []byte("a")}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	clips, err := svc.Clips.Search(context.Background(), store.Criteria{TagNames: []string{"screenshot"}})
	if err != nil || len(clips) != 1 {
		t.Fatalf("search = %v, %v", clips, err)
	}
	if clips[0].Description != "from inbox" || len(clips[0].Tags) != 1 {
		t.Errorf("clip = %+v", clips[0])
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Error("Run without config should fail")
	}
}
