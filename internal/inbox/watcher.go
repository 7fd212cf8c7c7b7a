package inbox

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports answer files created or written in one directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	paths   chan string
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewWatcher creates a stopped Watcher.
func NewWatcher() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher: w,
		paths:   make(chan string, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start watches dir. Subdirectories are not watched.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := w.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", abs, err)
	}

	w.dir = abs
	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop blocks until the event loop has exited, then closes both channels.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	close(w.paths)
	close(w.errors)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Paths emits the absolute path of each changed answer file.
func (w *Watcher) Paths() <-chan string { return w.paths }

// Errors emits errors reported by the underlying watcher. It is closed by Stop.
func (w *Watcher) Errors() <-chan error { return w.errors }

// IsRunning reports whether Start succeeded and Stop has not been called.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			path, ok := w.accept(ev)
			if !ok {
				continue
			}
			select {
			case w.paths <- path:
			case <-w.done:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// accept keeps creates and writes of answer files directly inside the inbox.
func (w *Watcher) accept(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	if !IsAnswerFile(ev.Name) {
		return "", false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil || filepath.Dir(abs) != w.dir {
		return "", false
	}
	return abs, true
}
