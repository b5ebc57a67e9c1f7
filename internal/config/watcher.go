package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Store whenever a profile, template or .env file changes
type Watcher struct {
	watcher    *fsnotify.Watcher
	store      *Store
	mu         sync.Mutex
	logger     *slog.Logger
	reloadChan chan struct{}
	done       chan struct{}
}

// Watch starts watching the store's config directory and its subdirectories
func Watch(store *Store, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher:    watcher,
		store:      store,
		logger:     logger,
		reloadChan: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	if err := filepath.Walk(store.Dir(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	}); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.watch()
	return w, nil
}

// ReloadChan receives a value after every successful reload. It is closed
// by Stop.
func (w *Watcher) ReloadChan() <-chan struct{} {
	return w.reloadChan
}

func relevant(name string) bool {
	base := filepath.Base(name)
	if base == ".env" {
		return true
	}
	// Skip temporary files written during atomic saves
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, ".yaml")
}

func (w *Watcher) watch() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				w.handleChange(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleChange(path string) {
	w.logger.Debug("detected configuration change", "path", path)

	if err := w.store.Reload(); err != nil {
		w.logger.Error("failed to reload profiles", "error", err, "path", path)
		return
	}

	select {
	case w.reloadChan <- struct{}{}:
	default:
		// a reload signal is already pending
	}
}

// Stop stops the watcher and waits for its goroutine to exit
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return nil
	}
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.watcher = nil
	<-w.done
	close(w.reloadChan)
	return nil
}
