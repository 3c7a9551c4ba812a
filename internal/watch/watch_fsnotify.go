package watch

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSWatcher implements Watcher using fsnotify for OS-native notifications.
type FSWatcher struct {
	w    *fsnotify.Watcher
	evC  chan Event
	erC  chan error
	done chan struct{}
	once sync.Once
	err  error
}

// NewFSWatcher creates a new FSWatcher.
func NewFSWatcher() (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FSWatcher{
		w:    w,
		evC:  make(chan Event, 128),
		erC:  make(chan error, 1),
		done: make(chan struct{}),
	}
	go fw.loop()
	return fw, nil
}

// New prefers OS notifications and falls back to polling at interval.
func New(interval time.Duration) Watcher {
	if fw, err := NewFSWatcher(); err == nil {
		return fw
	}
	return NewPollingWatcher(interval)
}

func translate(op fsnotify.Op) Op {
	var out Op
	if op.Has(fsnotify.Create) {
		out |= OpCreate
	}
	if op.Has(fsnotify.Write) {
		out |= OpWrite
	}
	if op.Has(fsnotify.Remove) {
		out |= OpRemove
	}
	if op.Has(fsnotify.Rename) {
		out |= OpRename
	}
	if op.Has(fsnotify.Chmod) {
		out |= OpChmod
	}
	return out
}

func (fw *FSWatcher) loop() {
	defer close(fw.evC)
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			select {
			case fw.evC <- Event{Path: ev.Name, Op: translate(ev.Op), Time: time.Now()}:
			case <-fw.done:
				return
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			select {
			case fw.erC <- err:
			default:
			}
		}
	}
}

func (fw *FSWatcher) Events() <-chan Event     { return fw.evC }
func (fw *FSWatcher) Errors() <-chan error     { return fw.erC }
func (fw *FSWatcher) Add(name string) error    { return fw.w.Add(name) }
func (fw *FSWatcher) Remove(name string) error { return fw.w.Remove(name) }

// Close stops the watcher. Pending events are dropped once Close is called;
// later calls return the first call's result.
func (fw *FSWatcher) Close() error {
	fw.once.Do(func() {
		close(fw.done)
		fw.err = fw.w.Close()
	})
	return fw.err
}
