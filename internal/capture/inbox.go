package capture

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/clipshelf/internal/models"
)

// DefaultSettle is how long a file must stay untouched before it is ingested.
const DefaultSettle = 500 * time.Millisecond

// IngestFunc persists a batch of raw clips.
type IngestFunc func(ctx context.Context, items []models.RawClip) error

// InboxOptions controls ScanInbox and Watch.
type InboxOptions struct {
	// Settle is the quiet period after the last write before a file is taken.
	Settle time.Duration
	// RemoveAfterIngest deletes the source file once it has been stored.
	RemoveAfterIngest bool
}

// ScanInbox ingests every regular file already present in dir and returns
// how many were stored. Hidden files are left alone. Failures on single
// files are logged and skipped.
func ScanInbox(ctx context.Context, dir string, ingest IngestFunc, opts InboxOptions, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || hidden(e.Name()) {
			continue
		}
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if takeFile(ctx, filepath.Join(dir, e.Name()), ingest, opts, logger) {
			n++
		}
	}
	logger.Info("inbox: scanned", slog.String("dir", dir), slog.Int("ingested", n))
	return n, nil
}

// Watch ingests files dropped into dir until ctx is cancelled. Each path is
// debounced: a file is taken once no write has touched it for opts.Settle.
// Files removed or renamed away before settling are dropped.
func Watch(ctx context.Context, dir string, ingest IngestFunc, opts InboxOptions, logger *slog.Logger) error {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("inbox: watching", slog.String("dir", dir))

	deb := newDebouncer(opts.Settle, ctx.Done())
	defer deb.stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox: stopped")
			return nil

		case m := <-deb.out:
			if !deb.take(m) {
				continue
			}
			takeFile(ctx, m.path, ingest, opts, logger)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path := ev.Name
			if hidden(filepath.Base(path)) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if info, statErr := os.Stat(path); statErr != nil || info.IsDir() {
					continue
				}
				deb.touch(path)

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if deb.drop(path) {
					logger.Debug("inbox: dropped before settling", slog.String("path", path))
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// settleMsg reports that a path stayed quiet. gen identifies the touch that
// armed the timer; a message from an older touch is stale.
type settleMsg struct {
	path string
	gen  uint64
}

type pendingFile struct {
	timer *time.Timer
	gen   uint64
}

// debouncer tracks inbox paths waiting to settle. It is owned by the watch
// loop; timer callbacks only send on out.
type debouncer struct {
	settle  time.Duration
	out     chan settleMsg
	done    <-chan struct{}
	pending map[string]*pendingFile
	gen     uint64
}

func newDebouncer(settle time.Duration, done <-chan struct{}) *debouncer {
	return &debouncer{
		settle:  settle,
		out:     make(chan settleMsg, 64),
		done:    done,
		pending: make(map[string]*pendingFile),
	}
}

// touch (re)starts the quiet period of path. A timer that already fired has
// its message invalidated by the new generation.
func (d *debouncer) touch(path string) {
	d.gen++
	m := settleMsg{path: path, gen: d.gen}
	if p, ok := d.pending[path]; ok {
		p.timer.Stop()
	}
	d.pending[path] = &pendingFile{gen: m.gen, timer: time.AfterFunc(d.settle, func() {
		select {
		case d.out <- m:
		case <-d.done:
		}
	})}
}

// take reports whether m is the current settle of its path and, if so,
// forgets the path.
func (d *debouncer) take(m settleMsg) bool {
	p, ok := d.pending[m.path]
	if !ok || p.gen != m.gen {
		return false
	}
	delete(d.pending, m.path)
	return true
}

// drop forgets path and reports whether it was pending.
func (d *debouncer) drop(path string) bool {
	p, ok := d.pending[path]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, path)
	return true
}

func (d *debouncer) stop() {
	for _, p := range d.pending {
		p.timer.Stop()
	}
}

// takeFile ingests one inbox file and reports whether it was stored.
func takeFile(ctx context.Context, path string, ingest IngestFunc, opts InboxOptions, logger *slog.Logger) bool {
	items, err := FromFiles([]string{path})
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("inbox: read failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return false
	}
	if len(items) == 0 {
		return false
	}
	if err := ingest(ctx, items); err != nil {
		logger.Warn("inbox: ingest failed", slog.String("path", path), slog.String("error", err.Error()))
		return false
	}
	logger.Debug("inbox: ingested", slog.String("path", path), slog.Bool("image", items[0].IsImage))
	if opts.RemoveAfterIngest {
		if err := os.Remove(path); err != nil {
			logger.Warn("inbox: remove failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return true
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
