package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
)

// Watcher reloads a config file whenever it changes on disk. Decoded
// configs are delivered on Updates; files that fail to decode are logged and
// skipped.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	updates  chan Config
	done     chan struct{}
	wg       sync.WaitGroup

	mu   sync.Mutex
	last Config
}

// Watch starts watching path. current is the config already in use; only
// changes against it are delivered.
func Watch(path string, current Config) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	// Editors often replace the file instead of writing it, so the
	// directory is watched and events are filtered by name.
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}

	w := &Watcher{
		path:     abs,
		fsnotify: fsWatch,
		updates:  make(chan Config, 1),
		done:     make(chan struct{}),
		last:     current,
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

// Updates delivers every successfully decoded change. Only the most recent
// one is kept when the reader falls behind.
func (w *Watcher) Updates() <-chan Config {
	return w.updates
}

func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	w.wg.Wait()
	return nil
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)

		case <-w.done:
			w.fsnotify.Close()
			close(w.updates)
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		core.LogWarn("ignoring config change: %s", err)
		return
	}

	w.mu.Lock()
	changed := cfg != w.last
	w.last = cfg
	w.mu.Unlock()
	if !changed {
		return
	}

	// drop a pending update nobody has read yet
	select {
	case <-w.updates:
	default:
	}
	w.updates <- cfg
	core.LogInfo("config %s reloaded", w.path)
}
