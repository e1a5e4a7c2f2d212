package folder

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
)

// DefaultDebounce is used when a watcher is created with a zero period.
const DefaultDebounce = 2 * time.Second

// Watcher reports media files created or modified under a directory. A file
// is reported once no event has touched any pending file for the debounce
// period, so files still being copied are not picked up half-written.
type Watcher struct {
	root       string
	extensions []string
	recursive  bool
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	log        *zap.SugaredLogger

	pending map[string]struct{}
}

// NewWatcher starts watching root. Call Run to receive batches and Close when done.
func NewWatcher(root string, extensions []string, recursive bool, debounce time.Duration, log *zap.SugaredLogger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", root)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errors.NewInputError("not a folder: %s", abs)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	w := &Watcher{
		root:       abs,
		extensions: extensions,
		recursive:  recursive,
		debounce:   debounce,
		watcher:    fw,
		log:        logger.OrNop(log).Named("watch"),
		pending:    make(map[string]struct{}),
	}
	if err := w.addTree(abs); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and, when recursive, every visible directory below it.
func (w *Watcher) addTree(dir string) error {
	if !w.recursive {
		return errors.Wrapf(w.watcher.Add(dir), "failed to watch %s", dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", path)
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return errors.Wrapf(err, "failed to watch %s", path)
		}
		return nil
	})
}

// Run delivers settled files to onBatch until ctx is done. onBatch runs on
// the watcher's goroutine.
func (w *Watcher) Run(ctx context.Context, onBatch func(paths []string)) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("Folder watcher error", logger.FieldError, err)

		case <-timer.C:
			if batch := w.flush(); len(batch) > 0 {
				w.log.Infow("New media files settled", logger.FieldCount, len(batch))
				onBatch(batch)
			}
		}
	}
}

// handle updates the pending set, reporting whether the debounce should restart.
func (w *Watcher) handle(event fsnotify.Event) bool {
	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return false
		}
		if info.IsDir() {
			if w.recursive && event.Has(fsnotify.Create) && !hidden(filepath.Base(event.Name)) {
				if err := w.addTree(event.Name); err != nil {
					w.log.Warnw("Failed to watch new folder", logger.FieldPath, event.Name, logger.FieldError, err)
				}
				// Files copied in together with the folder produce no events of their own.
				if files, err := Scan(event.Name, w.extensions, true); err == nil {
					for _, f := range files {
						w.pending[f] = struct{}{}
					}
					return len(files) > 0
				}
			}
			return false
		}
		if hidden(filepath.Base(event.Name)) || !MatchesExtension(event.Name, w.extensions) {
			return false
		}
		w.log.Debugw("Media file changed", logger.FieldFile, event.Name, "op", event.Op.String())
		w.pending[event.Name] = struct{}{}
		return true

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if _, ok := w.pending[event.Name]; ok {
			delete(w.pending, event.Name)
			return true
		}
	}
	return false
}

func (w *Watcher) flush() []string {
	var batch []string
	for path := range w.pending {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			batch = append(batch, path)
		}
	}
	w.pending = make(map[string]struct{})
	sort.Strings(batch)
	return batch
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
