// Package watch turns filesystem notifications for the queue file into
// coalesced trigger signals for the pipeline.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/go-pkgz/lgr"
)

// Watcher observes the queue file's parent directory and signals on changes
// to the file itself. Bursts within the debounce window collapse into a
// single signal; the consumer always re-scans the full file, so coalescing
// loses nothing.
type Watcher struct {
	Path     string
	Debounce time.Duration

	fw       *fsnotify.Watcher
	triggers chan struct{}
}

// New creates a watcher for the given queue file, creating the file and its
// directory when missing so the fsnotify watch has something to attach to.
func New(path string) (*Watcher, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure watch dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("ensure queue file %s: %w", path, err)
	}
	_ = f.Close()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// watch the directory, not the file: editors and atomic renames replace
	// the inode and would silently detach a file-level watch
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		Path:     path,
		Debounce: time.Second,
		fw:       fw,
		triggers: make(chan struct{}, 1),
	}, nil
}

// Triggers returns the signal channel consumed by the pipeline.
func (w *Watcher) Triggers() <-chan struct{} {
	return w.triggers
}

// Run forwards debounced change events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close() //nolint:errcheck

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.Path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if time.Since(last) < w.Debounce {
				continue
			}
			last = time.Now()

			log.Printf("[DEBUG] queue file changed: %s", ev.Name)
			select {
			case w.triggers <- struct{}{}:
			default: // a signal is already pending
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("[WARN] watcher error: %v", err)
		}
	}
}
