package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nfrund/scriptrt/internal/pubsub"
)

// Source is the message source used for reload requests from the watcher.
const Source = "watcher"

// Config selects what the watcher monitors
type Config struct {
	// Root is the script root, watched recursively
	Root string
	// Extensions lists the file extensions that trigger a reload, e.g. ".go"
	Extensions []string
	// Debounce is the quiet period before a batch of changes is published
	Debounce time.Duration
}

// Watcher monitors the script root and publishes reload requests on the bus
type Watcher struct {
	cfg       Config
	pub       pubsub.Publisher
	watcher   *fsnotify.Watcher
	debouncer *Debouncer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a watcher; it does nothing until Start.
func New(cfg Config, pub pubsub.Publisher) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	return &Watcher{cfg: cfg, pub: pub}
}

// Start adds the root and all its subdirectories and begins the event loop.
// A missing root is not an error; there is nothing to watch yet.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		slog.Debug("Script watcher already active")
		return nil
	}
	if _, err := os.Stat(w.cfg.Root); errors.Is(err, fs.ErrNotExist) {
		slog.Debug("Scripts directory does not exist, skipping watcher setup", "path", w.cfg.Root)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	if err := addTree(watcher, w.cfg.Root); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to add directories to watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.watcher = watcher
	w.cancel = cancel
	w.debouncer = NewDebouncer(w.cfg.Debounce, func(files []string) {
		w.publish(ctx, files)
	})
	w.running = true

	w.wg.Add(1)
	go w.loop(ctx, watcher)

	slog.Info("Started file system watcher for script hot-reloading", "directory", w.cfg.Root)
	return nil
}

// Stop ends the event loop and closes the underlying watcher. Pending
// changes are dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	watcher := w.watcher
	debouncer := w.debouncer
	w.mu.Unlock()

	w.wg.Wait()
	debouncer.Stop()
	err := watcher.Close()
	slog.Info("File system watcher stopped")
	return err
}

// Running reports whether the watcher is active
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return err
		}
		slog.Debug("Added directory to watcher", "path", path)
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handle(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File system watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addTree(watcher, event.Name); err != nil {
				slog.Error("Failed to add directory to watcher", "path", event.Name, "error", err)
			}
			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !w.matches(event.Name) {
		return
	}
	slog.Debug("Script file changed", "path", event.Name, "op", event.Op.String())
	w.debouncer.Add(event.Name)
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "_test.go") {
		return false
	}
	if len(w.cfg.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(base)
	for _, want := range w.cfg.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func (w *Watcher) publish(ctx context.Context, files []string) {
	req := pubsub.ReloadRequest{Ref: w.cfg.Root, Reason: "files changed", Paths: files}
	if err := pubsub.Publish(ctx, w.pub, pubsub.ReloadRequested, Source, req); err != nil {
		slog.Error("Failed to publish reload request", "ref", w.cfg.Root, "error", err)
		return
	}
	slog.Info("Script change detected, reload requested", "ref", w.cfg.Root, "files", len(files))
}
