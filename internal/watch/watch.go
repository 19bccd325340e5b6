// Package watch reports documents changing on disk under one type directory.
//
// Events are hints: a single Put can produce several OpPut events and an
// event may describe a state that has already been superseded. Consumers
// re-read the document with Store.Get.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/docstore/internal/docstore"
)

// Op is the kind of change observed on a document file.
type Op int

const (
	// OpPut means the file was created or written.
	OpPut Op = iota + 1
	// OpRemove means the file was removed or renamed away.
	OpRemove
)

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is a change to one document.
type Event struct {
	Type string `json:"type" yaml:"type"`
	// ID is the neutralized id, as returned by Store.IDs.
	ID string `json:"id" yaml:"id"`
	Op Op     `json:"op" yaml:"op"`
}

// Watcher follows a type directory and all its shard directories.
type Watcher struct {
	typ    string
	root   string
	dir    string
	fw     *fsnotify.Watcher
	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New starts watching documents of type typ in s.
//
// The type directory is created when missing so that documents created later
// are seen. Shard directories appearing later are followed too.
func New(s *docstore.Store, typ string) (*Watcher, error) {
	if err := docstore.CheckType(typ); err != nil {
		return nil, err
	}
	dir := s.TypeDir(typ)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: shared data directory
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		typ:    typ,
		root:   s.Dir(),
		dir:    dir,
		fw:     fw,
		events: make(chan Event, 64),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
	// The root is watched so a purged type directory is picked up again when
	// it is recreated.
	if err := fw.Add(w.root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if err := w.addTypeDir(false); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Events returns the channel of document changes. It is closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and closes both channels.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fw.Close()
		w.wg.Wait()
		close(w.events)
		close(w.errors)
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				slog.Warn("watch: dropped error", "type", w.typ, "err", err)
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	parent := filepath.Dir(ev.Name)
	switch {
	case ev.Name == w.dir:
		if ev.Has(fsnotify.Create) {
			if err := w.addTypeDir(true); err != nil {
				slog.Warn("watch: failed to follow type directory", "dir", w.dir, "err", err)
			}
		}
	case parent == w.dir:
		if !ev.Has(fsnotify.Create) || strings.HasPrefix(filepath.Base(ev.Name), ".") {
			return
		}
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addShard(ev.Name, true); err != nil {
				slog.Debug("watch: failed to follow shard", "dir", ev.Name, "err", err)
			}
		}
	case filepath.Dir(parent) == w.dir:
		key, ok := docstore.FileKey(ev.Name)
		if !ok {
			return
		}
		switch {
		case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
			w.send(Event{Type: w.typ, ID: key, Op: OpPut})
		case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
			w.send(Event{Type: w.typ, ID: key, Op: OpRemove})
		}
	}
}

// addTypeDir follows the type directory and every shard already in it.
func (w *Watcher) addTypeDir(report bool) error {
	if err := w.fw.Add(w.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := w.addShard(filepath.Join(w.dir, e.Name()), report); err != nil {
			return err
		}
	}
	return nil
}

// addShard follows a shard directory. When report is set, documents already
// present are reported since they may have been written before the watch
// was in place.
func (w *Watcher) addShard(dir string, report bool) error {
	if err := w.fw.Add(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !report {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if key, ok := docstore.FileKey(e.Name()); ok && !e.IsDir() {
			w.send(Event{Type: w.typ, ID: key, Op: OpPut})
		}
	}
	return nil
}

func (w *Watcher) send(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}
