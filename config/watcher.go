package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/utils"
)

// DefaultWatchDebounce is how long the watcher waits for writes to a config file to settle.
const DefaultWatchDebounce = 250 * time.Millisecond

// A Watcher rereads a config file whenever it changes on disk.
type Watcher struct {
	path   string
	logger logging.Logger

	fsw       *fsnotify.Watcher
	debounced func(func())
	configs   chan *Config
	workers   utils.StoppableWorkers

	mu     sync.Mutex
	closed bool
}

// NewWatcher watches the file at path. Only configs that read and validate are delivered; the
// rest are logged and dropped.
func NewWatcher(path string, debounceFor time.Duration, logger logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot watch config")
	}
	// editors often replace the file, so watch the directory instead
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot watch %s", filepath.Dir(abs)), fsw.Close())
	}
	if debounceFor <= 0 {
		debounceFor = DefaultWatchDebounce
	}
	w := &Watcher{
		path:      abs,
		logger:    logger,
		fsw:       fsw,
		debounced: debounce.New(debounceFor),
		configs:   make(chan *Config, 1),
	}
	w.workers = utils.NewStoppableWorkers(w.watch)
	return w, nil
}

// Configs delivers the latest config read after a change. A slow reader only sees the newest one.
func (w *Watcher) Configs() <-chan *Config {
	return w.configs
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.debounced(w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	cfg, err := Read(w.path, w.logger)
	if err != nil {
		w.logger.Warnw("ignoring changed config", "path", w.path, "error", err)
		return
	}
	select {
	case <-w.configs:
	default:
	}
	w.configs <- cfg
}

// Close stops watching. A reload already waiting on the debounce timer is dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.workers.Stop()
	return w.fsw.Close()
}
