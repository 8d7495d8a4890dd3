// Package watch reloads the relational store when table documents change
// on disk. It uses fsnotify for cross-platform file system event
// monitoring.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/rbroderi/ysaqml/internal/store"
	"github.com/rbroderi/ysaqml/internal/syncer"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before reloading, so a burst of writes triggers one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher observes a storage directory and reloads the store whenever a
// table document is created, modified, renamed, or removed.
type Watcher struct {
	watcher  *fsnotify.Watcher
	sync     syncer.Synchronizer
	store    *store.Store
	dir      string
	debounce time.Duration
	logger   *log.Logger
}

// New creates a Watcher over dir. If logger is nil, a default logger
// writing to stderr is used.
func New(dir string, syn syncer.Synchronizer, st *store.Store, logger *log.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	return &Watcher{
		watcher:  fw,
		sync:     syn,
		store:    st,
		dir:      dir,
		debounce: DefaultDebounce,
		logger:   logger,
	}, nil
}

// Run watches the directory until ctx is cancelled. Reload failures are
// logged and watching continues; only watcher-level failures stop the
// run.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		_ = w.watcher.Close()
		return fmt.Errorf("failed to watch storage directory %s: %w", w.dir, err)
	}
	w.logger.Printf("watching %s", w.dir)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return w.watcher.Close()
	})
	g.Go(func() error {
		return w.loop(ctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) error {
	var reload <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Printf("document changed: %s (%s)", filepath.Base(event.Name), event.Op)
			reload = time.After(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("WARNING: watcher error: %v", err)
		case <-reload:
			reload = nil
			if err := w.sync.Load(ctx, w.store); err != nil {
				w.logger.Printf("WARNING: reload failed: %v", err)
				continue
			}
			w.logger.Printf("reloaded tables from %s", w.dir)
		}
	}
}

// relevant reports whether the event concerns a table document. Temp
// files from the docstore's atomic writes are ignored; their rename into
// place arrives as a create event on the .yaml path.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".yaml") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}
