package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is the quiet period before a directory change triggers a
// re-sync. Editors and installers touch several files in quick
// succession; one sync covers the batch.
const watchDebounce = 500 * time.Millisecond

// watcher monitors the sandbox directory and its immediate skill
// subdirectories, invoking onChange after changes settle.
type watcher struct {
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	onChange func()
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

func newWatcher(dir string, logger *slog.Logger, onChange func()) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{
		fsw:      fsw,
		logger:   logger,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	if err := fsw.Add(dir); err != nil {
		// The sandbox may not exist until the first skill is installed.
		if !os.IsNotExist(err) {
			fsw.Close()
			return nil, err
		}
		w.logger.Debug("skills sandbox absent, watching nothing yet", "dir", dir)
	}

	// Watch existing skill subdirectories so manifest edits are seen.
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			_ = fsw.Add(filepath.Join(dir, e.Name()))
		}
	}

	return w, nil
}

// Start launches the event loop.
func (w *watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *watcher) Stop() {
	close(w.done)
	w.fsw.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("skills watcher error", "error", err)
		}
	}
}

func (w *watcher) handleEvent(event fsnotify.Event) {
	// A new skill directory must itself be watched for manifest writes.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(event.Name)
		}
		w.scheduleSync()
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.scheduleSync()
		return
	}

	// Writes only matter for the files a sync reads.
	switch filepath.Base(event.Name) {
	case manifestFile, contractFile:
		w.scheduleSync()
	}
}

// scheduleSync debounces change bursts into a single onChange call.
func (w *watcher) scheduleSync() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, w.flush)
}

func (w *watcher) flush() {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}
	w.onChange()
}
