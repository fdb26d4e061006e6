package fastfs

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Event reports a change to a watched manifest.
type Event struct {
	// Path is the path the manifest was registered under.
	Path string

	// Op is the fsnotify operation that triggered the event.
	Op fsnotify.Op
}

// Watcher watches manifest files for changes.
//
// The parent directory of each file is watched rather than the file itself,
// so editors that save by rename-over still produce events.
type Watcher struct {
	mu sync.RWMutex

	fsWatcher *fsnotify.Watcher

	// files maps an absolute OS path to the path it was registered under.
	files map[string]string

	// dirs counts watched files per directory.
	dirs map[string]int

	// Events receives manifest change notifications.
	Events chan Event

	// Errors receives watcher errors.
	Errors chan error

	done chan struct{}
}

// NewWatcher creates a watcher and starts its event loop.
func NewWatcher() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		files:     make(map[string]string),
		dirs:      make(map[string]int),
		Events:    make(chan Event, 100),
		Errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Add starts watching osPath and reports its events under path.
func (w *Watcher) Add(path, osPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, err := filepath.Abs(osPath)
	if err != nil {
		return fmt.Errorf("getting absolute path: %w", err)
	}
	if _, ok := w.files[absPath]; ok {
		return nil
	}

	dir := filepath.Dir(absPath)
	if w.dirs[dir] == 0 {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[absPath] = path
	return nil
}

// Remove stops watching osPath.
func (w *Watcher) Remove(osPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, err := filepath.Abs(osPath)
	if err != nil {
		return err
	}
	if _, ok := w.files[absPath]; !ok {
		return nil
	}
	delete(w.files, absPath)

	dir := filepath.Dir(absPath)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	return w.fsWatcher.Remove(dir)
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	absPath, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.RLock()
	path, ok := w.files[absPath]
	w.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case w.Events <- Event{Path: path, Op: event.Op}:
	case <-w.done:
	}
}
