package store

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"go.uber.org/zap"
)

// Watcher reports edits made to the store's document by other writers.
// Writes made through the store itself are recognised by revision and
// skipped.
type Watcher struct {
	watcher   *fsnotify.Watcher
	store     *FileStore
	callbacks []func(proxyconfig.Config)
	mu        sync.RWMutex
	debounce  time.Duration
	last      atomic.Uint64 // revision last reported or skipped
	done      chan struct{}
	stopOnce  sync.Once
}

// NewWatcher creates a watcher for store's document.
func NewWatcher(store *FileStore, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:  fsWatcher,
		store:    store,
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// OnChange registers a callback for document changes
func (w *Watcher) OnChange(callback func(proxyconfig.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for changes
func (w *Watcher) Start() error {
	// Watch the directory so atomic renames are seen.
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	if data, err := os.ReadFile(w.store.Path()); err == nil {
		rev := Revision(data)
		w.last.Store(rev)
		w.store.ownWrite(rev)
	}

	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	var debounceTimer *time.Timer
	name := filepath.Base(w.store.Path())

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("proxy config watcher error", zap.Error(err))

		case <-w.done:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	data, err := os.ReadFile(w.store.Path())
	if err != nil {
		logging.Error("failed to read proxy config", zap.Error(err))
		return
	}
	rev := Revision(data)
	if w.store.ownWrite(rev) {
		w.last.Store(rev)
		return
	}
	if rev == w.last.Load() {
		return
	}
	cfg, err := proxyconfig.Decode(data)
	if err != nil {
		logging.Error("failed to decode proxy config", zap.Error(err))
		return
	}
	w.last.Store(rev)
	w.store.revision.Store(rev)

	w.mu.RLock()
	callbacks := make([]func(proxyconfig.Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	logging.Info("proxy config changed on disk",
		zap.String("path", w.store.Path()),
		zap.String("revision", FormatRevision(rev)),
	)

	for _, cb := range callbacks {
		go cb(cfg)
	}
}

// Stop stops watching for changes
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
