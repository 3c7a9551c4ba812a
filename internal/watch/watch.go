// Package watch reports changes to IR description files so tools can
// re-verify them as they are edited.
package watch

import (
	"context"
	"os"
	"sync"
	"time"
)

// Op indicates a change operation in the filesystem.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

// Event describes a filesystem change event.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Watcher delivers change events for the paths added to it.
type Watcher interface {
	Events() <-chan Event
	Errors() <-chan error
	Add(name string) error
	Remove(name string) error
	Close() error
}

// PollingWatcher is a stat-based watcher portable across OSes. It is the
// fallback when OS notifications are unavailable.
type PollingWatcher struct {
	interval time.Duration
	evCh     chan Event
	erCh     chan error
	stop     context.CancelFunc
	done     chan struct{}
	once     sync.Once

	mu    sync.Mutex
	paths map[string]time.Time
}

// DefaultPollInterval is used when a non-positive interval is given.
const DefaultPollInterval = 500 * time.Millisecond

// NewPollingWatcher starts polling every interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &PollingWatcher{
		interval: interval,
		evCh:     make(chan Event, 64),
		erCh:     make(chan error, 1),
		stop:     cancel,
		done:     make(chan struct{}),
		paths:    make(map[string]time.Time),
	}
	go w.loop(ctx)
	return w
}

func (w *PollingWatcher) Events() <-chan Event { return w.evCh }
func (w *PollingWatcher) Errors() <-chan error { return w.erCh }

// Add starts watching name. Its current modification time is the baseline.
func (w *PollingWatcher) Add(name string) error {
	info, err := os.Stat(name)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.paths[name] = info.ModTime()
	w.mu.Unlock()
	return nil
}

func (w *PollingWatcher) Remove(name string) error {
	w.mu.Lock()
	delete(w.paths, name)
	w.mu.Unlock()
	return nil
}

// Close stops polling and closes the event channel. It is safe to call more
// than once.
func (w *PollingWatcher) Close() error {
	w.once.Do(func() {
		w.stop()
		<-w.done
		close(w.evCh)
	})
	return nil
}

func (w *PollingWatcher) loop(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.poll(ctx)
		}
	}
}

func (w *PollingWatcher) poll(ctx context.Context) {
	w.mu.Lock()
	var events []Event
	var errs []error
	for p, last := range w.paths {
		info, statErr := os.Stat(p)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				delete(w.paths, p)
				events = append(events, Event{Path: p, Op: OpRemove, Time: time.Now()})
				continue
			}
			errs = append(errs, statErr)
			continue
		}
		if info.ModTime().After(last) {
			w.paths[p] = info.ModTime()
			events = append(events, Event{Path: p, Op: OpWrite, Time: time.Now()})
		}
	}
	w.mu.Unlock()

	for _, ev := range events {
		select {
		case w.evCh <- ev:
		case <-ctx.Done():
			return
		}
	}
	for _, err := range errs {
		select {
		case w.erCh <- err:
		default:
		}
	}
}
