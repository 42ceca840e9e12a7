//go:build !windows

package ready

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
)

// Dir holds the marker files; one file per name, created by Signal and
// removed by the Wait that consumes it.
var Dir = filepath.Join(os.TempDir(), "jobsupervisor-ready")

// Waiter watches Dir for the marker of one name.
type Waiter struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewWaiter starts watching for name and clears any stale signal.
func NewWaiter(name string) (*Waiter, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(Dir, 0o700); err != nil {
		return nil, fmt.Errorf("ready: create %s: %w", Dir, err)
	}

	path := filepath.Join(Dir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ready: clear stale signal: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ready: %w", err)
	}
	if err := watcher.Add(Dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("ready: watch %s: %w", Dir, err)
	}

	return &Waiter{path: path, watcher: watcher}, nil
}

// Wait blocks until the signal is raised or ctx is done.
func (w *Waiter) Wait(ctx context.Context) error {
	// Raised while nobody was reading events.
	if w.consume() {
		return nil
	}

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return ErrClosed
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && w.consume() {
				return nil
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return ErrClosed
			}
			return fmt.Errorf("ready: watch: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consume removes the marker; only the caller that removes it is woken.
func (w *Waiter) consume() bool {
	return os.Remove(w.path) == nil
}

// Close stops watching.
func (w *Waiter) Close() error {
	return w.watcher.Close()
}

// Signal raises the signal for name. The marker appears atomically so a
// waiter never sees a partially written file.
func Signal(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(Dir, 0o700); err != nil {
		return fmt.Errorf("ready: create %s: %w", Dir, err)
	}

	tmp, err := os.CreateTemp(Dir, "."+name+".tmp*")
	if err != nil {
		return fmt.Errorf("ready: %w", err)
	}
	_, werr := tmp.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ready: write marker: %v", firstNonNil(werr, cerr))
	}

	if err := os.Rename(tmp.Name(), filepath.Join(Dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ready: %w", err)
	}
	return nil
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
