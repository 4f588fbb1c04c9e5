package resources

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"holyrig/internal/model"
)

// ModelChange is delivered to a Watcher's callback after a .rig file on
// disk changes and is recompiled.
type ModelChange struct {
	RigID string
	Model *model.Model // nil if err is non-nil
	Err   error
}

// Watcher hot-reloads a Store's models on .rig file changes, the
// directory-watching half of original_source's one-shot
// Resources::load taken to its logical conclusion (see SPEC_FULL.md's
// "Hot-reload on file change"). Structurally the same
// fsnotify.NewWatcher/select-on-Events-and-Errors loop as
// WSHub.watchMBox in websocket_hub.go, watching a schema/model
// directory instead of a mailbox.
type Watcher struct {
	store *Store
	fs    *fsnotify.Watcher
}

// NewWatcher starts watching dir/rigs for changes to *.rig files,
// reloading the affected Model into store and invoking onChange for
// every reload attempt, success or failure. onChange runs on the
// watcher's own goroutine; callers that touch shared state should
// synchronize.
func NewWatcher(store *Store, dir string, onChange func(ModelChange)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Join(dir, rigsDir)); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{store: store, fs: fs}
	go w.run(onChange)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fs.Close() }

func (w *Watcher) run(onChange func(ModelChange)) {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event, onChange)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Println("resource watcher:", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, onChange func(ModelChange)) {
	if filepath.Ext(event.Name) != modelExt {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	rigID, m, err := w.store.ReloadModel(event.Name)
	onChange(ModelChange{RigID: rigID, Model: m, Err: err})
}
