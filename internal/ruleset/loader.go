package ruleset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"taxrelay.app/relay/common/logger"
)

// Loader reads the ruleset file and keeps the latest valid snapshot.
type Loader struct {
	path    string
	getenv  func(string) string
	current atomic.Pointer[Ruleset]

	mu       sync.Mutex
	onChange []func(*Ruleset)
}

// NewLoader performs the initial load. An invalid file at startup is fatal.
func NewLoader(path string) (*Loader, error) {
	return NewLoaderWithEnv(path, os.Getenv)
}

// NewLoaderWithEnv is NewLoader with secrets resolved through getenv.
func NewLoaderWithEnv(path string, getenv func(string) string) (*Loader, error) {
	l := &Loader{path: path, getenv: getenv}
	rs, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current.Store(rs)
	return l, nil
}

// NewStatic wraps an already compiled ruleset, for callers that do not read from disk.
func NewStatic(rs *Ruleset) *Loader {
	l := &Loader{getenv: os.Getenv}
	l.current.Store(rs)
	return l
}

// Current returns the latest valid snapshot.
func (l *Loader) Current() *Ruleset {
	return l.current.Load()
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(*Ruleset)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Reload re-reads the file. On error the previous snapshot stays active.
func (l *Loader) Reload() (*Ruleset, error) {
	rs, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current.Store(rs)

	l.mu.Lock()
	callbacks := make([]func(*Ruleset), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(rs)
	}
	return rs, nil
}

// Watch hot-reloads the file on change until ctx is cancelled or stop is called.
// The parent directory is watched because editors and config-map mounts replace files
// rather than writing them in place.
func (l *Loader) Watch(ctx context.Context) (stop func(), err error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.ruleset.loader"})

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ruleset watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("ruleset watcher add %s: %w", dir, err)
	}

	target := filepath.Clean(l.path)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				rs, err := l.Reload()
				if err != nil {
					slog.ErrorContext(ctx, "ruleset reload rejected, keeping previous snapshot", "error", err, "path", l.path)
					continue
				}
				slog.InfoContext(ctx, "ruleset reloaded", "version", rs.Version, "sources", len(rs.sources))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "ruleset watcher error", "error", err)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}

func (l *Loader) load() (*Ruleset, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset %s: %w", l.path, err)
	}
	return Parse(data, l.getenv)
}

// Parse decodes and compiles a YAML ruleset document.
func Parse(data []byte, getenv func(string) string) (*Ruleset, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}
	return Compile(&f, getenv)
}
