package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is published after every reload attempt of the watched file.
type Event struct {
	Path   string
	Config *Config
	Error  error
}

// Watcher reloads a configuration file whenever it changes on disk.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	events   chan Event
	debounce time.Duration

	mu      sync.RWMutex
	current *Config

	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher watches path. The parent directory is watched so that editors
// replacing the file through a rename are still noticed.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		watcher:  fsWatcher,
		events:   make(chan Event, 10),
		debounce: 100 * time.Millisecond,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Events returns the channel that receives reload events. It is closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Current returns the last configuration that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start loads the file once and begins watching it.
func (w *Watcher) Start(ctx context.Context) error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(w.path), err)
	}
	w.mu.Lock()
	w.current = cfg
	w.started = true
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

// Stop closes the watcher and the events channel.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
		w.mu.RLock()
		started := w.started
		w.mu.RUnlock()
		if started {
			<-w.done
		}
		close(w.events)
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.publish(ctx, Event{Path: w.path, Error: err})

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		w.publish(ctx, Event{Path: w.path, Error: fmt.Errorf("failed to reload config %s: %w", w.path, err)})
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.publish(ctx, Event{Path: w.path, Config: cfg})
}

func (w *Watcher) publish(ctx context.Context, e Event) {
	select {
	case w.events <- e:
	case <-ctx.Done():
	case <-w.stop:
	}
}
