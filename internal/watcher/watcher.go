// Package watcher monitors the settings file and the durable store on disk.
// A settings edit triggers a process restart; store deletion triggers
// recreation. The parent directory is watched because fsnotify cannot watch
// a path that does not exist yet.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reports changes and deletions of one target path.
type Watcher struct {
	targetPath string
	parentPath string
	onChange   func()
	onDelete   func()
	fsw        *fsnotify.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	running    bool
	debounce   time.Duration
}

// New creates a watcher for targetPath. Either callback may be nil.
func New(targetPath string, onChange, onDelete func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		targetPath: filepath.Clean(targetPath),
		parentPath: filepath.Dir(targetPath),
		onChange:   onChange,
		onDelete:   onDelete,
		fsw:        fsw,
		ctx:        ctx,
		cancel:     cancel,
		debounce:   100 * time.Millisecond,
	}, nil
}

// Start begins watching. Safe to call once; a missing parent directory is
// retried after the target reappears.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to add initial watch")
	}
	go w.loop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.fsw.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); err != nil {
		return err
	}
	return w.fsw.Add(w.parentPath)
}

func (w *Watcher) loop() {
	var timer *time.Timer
	fire := func(fn func()) {
		if fn == nil {
			return
		}
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, fn)
	}

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)

			// Data directory removed out from under us.
			if path == w.parentPath && event.Op&fsnotify.Remove != 0 {
				log.Info().Str("path", w.parentPath).Msg("Data directory deleted")
				fire(w.onDelete)
				continue
			}
			if path == w.parentPath && event.Op&fsnotify.Create != 0 {
				_ = w.addWatch()
				continue
			}
			if path != w.targetPath {
				continue
			}

			switch {
			case event.Op&fsnotify.Remove != 0:
				log.Info().Str("path", w.targetPath).Msg("Watched file deleted")
				fire(w.onDelete)
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				log.Debug().Str("path", w.targetPath).Msg("Watched file changed")
				fire(w.onChange)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}
