package photosource

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long the watcher waits for a burst of file events to
// settle before reporting a change.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to the image files of a library. Bursts of events are
// coalesced into one notification after the debounce interval.
type Watcher struct {
	dir      *Dir
	watcher  *fsnotify.Watcher
	changes  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	closed   bool
	debounce time.Duration
}

// NewWatcher creates a watcher over every directory of the library.
func NewWatcher(dir *Dir, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:      dir,
		watcher:  fsw,
		changes:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		debounce: debounce,
	}, nil
}

// Changes delivers one value per settled burst of library changes. A
// notification that nobody has received yet absorbs later ones.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running || w.closed {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.dir.Root()); err != nil {
		return err
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.running = false
	w.cancel()
	return w.watcher.Close()
}

// addTree watches root and every non-hidden directory below it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(entry.Name(), ".") || w.dir.isTrash(path)) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				// New subdirectories need their own watch
				if err := w.addTree(event.Name); err != nil {
					log.Debug().Err(err).Str("path", event.Name).Msg("Not watching new path")
				}
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.notify)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Library watcher error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	path := filepath.Clean(event.Name)
	if w.dir.isTrash(path) || strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	// Directory events carry no extension; removals of whole folders matter too
	return IsImage(path) || filepath.Ext(path) == ""
}

func (w *Watcher) notify() {
	select {
	case w.changes <- struct{}{}:
		log.Debug().Str("root", w.dir.Root()).Msg("Library changed")
	default:
	}
}
