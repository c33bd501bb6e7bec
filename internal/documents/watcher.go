package documents

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"ragqa/internal/logging"
)

// Watcher reports changes to the files selected by a DirSource. Bursts of
// filesystem events are collapsed into one callback after Debounce.
type Watcher struct {
	source   *DirSource
	debounce time.Duration
	onChange func(ctx context.Context)
	log      logrus.FieldLogger
}

// NewWatcher creates a watcher calling onChange after matching files change.
func NewWatcher(source *DirSource, debounce time.Duration, onChange func(ctx context.Context), log logrus.FieldLogger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Watcher{source: source, debounce: debounce, onChange: onChange, log: log}
}

// Run watches until ctx is cancelled. Callbacks run on the watcher goroutine,
// so a slow callback delays the next one rather than overlapping it.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if _, err := w.addTree(fw, w.source.Dir); err != nil {
		return err
	}
	w.log.WithField("dir", w.source.Dir).Info("documents.watch.started")

	// Go 1.23 timers: Reset needs no drain
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					matched, err := w.addTree(fw, ev.Name)
					if err != nil {
						w.log.WithError(err).WithField("dir", ev.Name).Warn("documents.watch.add_failed")
					}
					// a directory moved in arrives with its files already present
					if matched {
						timer.Reset(w.debounce)
					}
					continue
				}
			}
			if !w.relevant(ev.Name) {
				continue
			}
			w.log.WithFields(logrus.Fields{"file": ev.Name, "op": ev.Op.String()}).Debug("documents.watch.event")
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("documents.watch.error")
		case <-timer.C:
			w.onChange(ctx)
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	rel, err := filepath.Rel(w.source.Dir, name)
	if err != nil {
		return false
	}
	return w.source.Matches(filepath.ToSlash(rel))
}

// addTree watches every directory under root and reports whether root
// already holds files the source selects.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) (bool, error) {
	matched := false
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		if !matched && w.relevant(p) {
			matched = true
		}
		return nil
	})
	return matched, err
}
