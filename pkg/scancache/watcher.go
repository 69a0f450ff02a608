package scancache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/bindkit/bindkit/pkg/discovery"
)

// Watcher evicts cache entries when their backing artifacts change on disk.
// Eviction is immediate and idempotent; the next discovery run rescans the
// module. Dynamic modules have no artifact and are never watched.
type Watcher struct {
	cache   *Cache
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	// OnEvict, when set before Start, is called after each eviction with
	// the module key and the filesystem operation that triggered it.
	OnEvict func(moduleKey, cause string)

	mu sync.RWMutex
	// byPath maps a cleaned artifact path to the module key cached under it.
	byPath map[string]string
}

// NewWatcher creates a watcher bound to the given cache.
func NewWatcher(cache *Cache, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		cache:   cache,
		watcher: fsw,
		logger:  logger.With().Str("component", "scan-cache-watcher").Logger(),
		byPath:  make(map[string]string),
	}, nil
}

// Track registers a module's artifact for change notifications. The
// artifact's directory is watched so rebuilds that replace the file are
// observed as well.
func (w *Watcher) Track(module discovery.Module) error {
	path := module.ArtifactPath()
	if path == "" {
		return nil
	}

	clean := filepath.Clean(path)

	w.mu.Lock()
	_, known := w.byPath[clean]
	w.byPath[clean] = module.Ref().Key()
	w.mu.Unlock()

	if known {
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(clean)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", clean, err)
	}

	w.logger.Debug().
		Str("module", module.Ref().Key()).
		Str("artifact", clean).
		Msg("Tracking artifact for cache invalidation")

	return nil
}

// Start processes file system events until the context is cancelled. It
// closes the underlying watcher on return.
func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer func() {
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.handleEvent(event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// handleEvent evicts the cache entry for a changed artifact, if the path is
// tracked.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	clean := filepath.Clean(event.Name)

	w.mu.RLock()
	moduleKey, tracked := w.byPath[clean]
	w.mu.RUnlock()

	if !tracked {
		return
	}

	if w.cache.Evict(moduleKey) {
		w.logger.Info().
			Str("module", moduleKey).
			Str("artifact", clean).
			Str("op", event.Op.String()).
			Msg("Cache entry invalidated by artifact change")
		if w.OnEvict != nil {
			w.OnEvict(moduleKey, event.Op.String())
		}
	}
}
