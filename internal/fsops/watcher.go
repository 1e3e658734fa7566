package fsops

import (
	"github.com/fsnotify/fsnotify"

	"github.com/driftmirror/driftmirror/internal/logging"
)

// Watcher delivers single-path change notifications, per the change watcher
// contract (§6): "on platform support, delivers single-path notifications;
// the receiver calls scan_single on each. On platforms without support, a
// no-op is acceptable." fsnotify provides that platform abstraction, so a
// platform without inotify/kqueue/ReadDirectoryChangesW support degrades to
// an fsnotify error at construction time, which the caller treats as "no
// watching available" rather than a fatal condition.
type Watcher struct {
	root    Root
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	events  chan Relative
	done    chan struct{}
}

// NewWatcher creates a Watcher rooted at root. If the platform has no
// watching support, it returns (nil, nil): a nil *Watcher is a valid no-op
// collaborator.
func NewWatcher(root Root, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil
	}

	if err := addRecursive(fsw, string(root.Absolute)); err != nil {
		fsw.Close()
		return nil, nil
	}

	w := &Watcher{
		root:    root,
		watcher: fsw,
		logger:  logger,
		events:  make(chan Relative, 256),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return fsw.Add(dir)
}

// Events returns the channel on which changed root-relative paths are
// delivered. The receiver is expected to call Scanner.ScanSingle on each.
func (w *Watcher) Events() <-chan Relative {
	if w == nil {
		return nil
	}
	return w.events
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			rel := w.root.Rel(Absolute(event.Name))
			select {
			case w.events <- rel:
			case <-w.done:
				return
			}
			if event.Op&fsnotify.Create != 0 {
				addRecursive(w.watcher, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	close(w.done)
	return w.watcher.Close()
}
