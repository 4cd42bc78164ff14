package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
)

// DefaultDebounce coalesces bursts of write events into one notification.
const DefaultDebounce = 200 * time.Millisecond

// FileSource reads the corpus from a JSON file in the same format the HTTP
// endpoint serves.
type FileSource struct {
	path     string
	debounce time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewFile creates a source for path.
func NewFile(path string) *FileSource {
	return &FileSource{
		path:     path,
		debounce: DefaultDebounce,
		now:      time.Now,
		logger:   slog.Default().With("component", "file-source", "path", path),
	}
}

// Fetch reads and decodes the file.
func (s *FileSource) Fetch(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrSourceUnavailable, s.path, err)
	}
	snap, err := decode(body, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return snap, nil
}

// Watch calls onChange after the file is written, created or renamed into
// place, until ctx is done. The parent directory is watched so editors that
// replace the file atomically are still seen.
func (s *FileSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	var mu sync.Mutex
	var timer *time.Timer
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				s.logger.Info("corpus file changed")
				onChange()
			})
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("file watcher error", "error", err)
		}
	}
}
