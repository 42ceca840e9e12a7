//go:build windows

package ready

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/windows"
)

// Waiter holds the named auto-reset event plus a private event used to
// interrupt WaitForMultipleObjects when the context ends.
type Waiter struct {
	event  windows.Handle
	cancel windows.Handle
}

// Handles raised by Signal stay open for the life of the process so the
// event object outlives the call.
var (
	signalledMu sync.Mutex
	signalled   = make(map[string]windows.Handle)
)

func openEvent(name string) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	// An existing event is opened and reported as ERROR_ALREADY_EXISTS.
	h, err := windows.CreateEvent(nil, 0, 0, p)
	if h == 0 {
		return 0, err
	}
	return h, nil
}

// NewWaiter opens (or creates) the named event.
func NewWaiter(name string) (*Waiter, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	event, err := openEvent(name)
	if err != nil {
		return nil, fmt.Errorf("ready: create event %q: %w", name, err)
	}
	cancel, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		windows.CloseHandle(event)
		return nil, fmt.Errorf("ready: create cancel event: %w", err)
	}

	return &Waiter{event: event, cancel: cancel}, nil
}

// Wait blocks until the signal is raised or ctx is done.
func (w *Waiter) Wait(ctx context.Context) error {
	if w.event == 0 {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	windows.ResetEvent(w.cancel)

	stop := context.AfterFunc(ctx, func() { windows.SetEvent(w.cancel) })
	defer stop()

	ev, err := windows.WaitForMultipleObjects([]windows.Handle{w.event, w.cancel}, false, windows.INFINITE)
	if err != nil {
		return fmt.Errorf("ready: wait: %w", err)
	}
	if ev == windows.WAIT_OBJECT_0 {
		return nil
	}
	return ctx.Err()
}

// Close releases both handles.
func (w *Waiter) Close() error {
	if w.event == 0 {
		return nil
	}
	err := windows.CloseHandle(w.event)
	windows.CloseHandle(w.cancel)
	w.event, w.cancel = 0, 0
	return err
}

// Signal raises the named event.
func Signal(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	signalledMu.Lock()
	defer signalledMu.Unlock()

	h, ok := signalled[name]
	if !ok {
		var err error
		h, err = openEvent(name)
		if err != nil {
			return fmt.Errorf("ready: create event %q: %w", name, err)
		}
		signalled[name] = h
	}
	if err := windows.SetEvent(h); err != nil {
		return fmt.Errorf("ready: set event %q: %w", name, err)
	}
	return nil
}
