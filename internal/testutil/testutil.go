// Package testutil provides shared test helpers for databases, payload
// directories and generated images.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/starford/clipshelf/internal/storage"
	"github.com/starford/clipshelf/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "clipshelf-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestPayloads creates a temporary payload directory with a storage.FS.
func TestPayloads(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// Image renders a 128x128 picture of 8x8 random gray blocks. The same seed
// always produces the same pixels.
func Image(seed uint64) image.Image {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var levels [8][8]uint8
	for i := range 8 {
		for j := range 8 {
			levels[i][j] = uint8(r.IntN(256))
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for y := range 128 {
		for x := range 128 {
			v := levels[y/16][x/16]
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// PNG returns Image(seed) encoded as PNG.
func PNG(t *testing.T, seed uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Image(seed)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
