// Package jobgroup binds child processes to the lifetime of the current
// process. Members of a Group are killed by the operating system when the
// group is closed, including when the owning process dies without running any
// cleanup code.
package jobgroup

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"sync"
	"syscall"
)

var (
	// ErrClosed is returned when a Group is used after Close.
	ErrClosed = errors.New("jobgroup: group is closed")

	// ErrNilProcess is returned by Add for a nil process or a non-positive pid.
	ErrNilProcess = errors.New("jobgroup: nil process")

	// ErrUnsupported is returned by New on platforms without a kernel group primitive.
	ErrUnsupported = errors.New("jobgroup: process groups are not supported on " + runtime.GOOS)

	// ErrAlreadyMember means the process is already bound to another live Group.
	ErrAlreadyMember = errors.New("process already belongs to a group")
)

// CreateError reports that the group object could not be allocated or that
// the kill-on-close policy could not be applied to it.
type CreateError struct {
	Op   string
	Code syscall.Errno // OS failure code, 0 when the OS did not report one
	Err  error
}

func newCreateError(op string, err error) *CreateError {
	e := &CreateError{Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Code = errno
	}
	return e
}

func (e *CreateError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("jobgroup: %s: %v (code %d)", e.Op, e.Err, uintptr(e.Code))
	}
	return fmt.Sprintf("jobgroup: %s: %v", e.Op, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

// AttachError reports that the OS refused to bind a process to the group.
// It is an ordinary runtime outcome: the group stays usable and the process
// keeps running without the kill-on-close guarantee.
type AttachError struct {
	Pid int
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("jobgroup: attach process %d: %v", e.Pid, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// IsMisuse reports whether err is a programming error (use after Close or a
// nil process) rather than an attach refusal from the OS.
func IsMisuse(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrNilProcess)
}

// Group is a kernel-resident process group configured to kill every member
// when its controlling handle is closed.
type Group struct {
	mu      sync.Mutex
	sys     *osGroup
	members []int
	procs   map[int]*os.Process
	closed  bool
}

// New allocates an anonymous group and applies the kill-on-close policy.
// Failures are returned as *CreateError; a partially configured group is
// released before New returns.
func New() (*Group, error) {
	sys, err := createGroup()
	if err != nil {
		return nil, err
	}
	return &Group{sys: sys, procs: make(map[int]*os.Process)}, nil
}

// Add binds a live process to the group. Processes started afterwards by p
// are not added automatically.
//
// On Linux the kernel only kills members on owner death if they were started
// from a command passed to Prepare. A process started without it is still
// killed by Close, but survives the owner being SIGKILLed.
func (g *Group) Add(p *os.Process) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if p == nil || p.Pid <= 0 {
		return ErrNilProcess
	}

	if old, ok := g.procs[p.Pid]; ok {
		if !finished(old) {
			return nil
		}
		// The member was reaped and its pid now names another process.
		g.drop(p.Pid)
	}
	if err := claim(p, g); err != nil {
		return &AttachError{Pid: p.Pid, Err: err}
	}
	if err := g.sys.assign(p); err != nil {
		unclaim(p.Pid, g)
		return &AttachError{Pid: p.Pid, Err: err}
	}

	g.members = append(g.members, p.Pid)
	g.procs[p.Pid] = p
	return nil
}

func (g *Group) drop(pid int) {
	g.members = slices.DeleteFunc(g.members, func(m int) bool { return m == pid })
	delete(g.procs, pid)
	g.sys.release(pid)
	unclaim(pid, g)
}

// finished reports whether p has been waited for, after which its pid may
// belong to an unrelated process.
func finished(p *os.Process) bool {
	return errors.Is(p.Signal(syscall.Signal(0)), os.ErrProcessDone)
}

// Close releases the group. Every member that is still running is killed
// immediately. Calling Close again is a no-op.
func (g *Group) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	for _, pid := range g.members {
		unclaim(pid, g)
	}

	err := g.sys.close()
	g.sys = nil
	if err != nil {
		return fmt.Errorf("jobgroup: close: %w", err)
	}
	return nil
}

// Members returns the pids bound to the group, in attach order.
func (g *Group) Members() []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := make([]int, len(g.members))
	copy(result, g.members)
	return result
}

// Closed reports whether Close has been called.
func (g *Group) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Prepare configures cmd before it is started so that the kernel also kills
// it when the owning process dies abruptly, on platforms where that has to be
// armed at spawn time. It does not add the process to any group.
func Prepare(cmd *exec.Cmd) {
	prepareCmd(cmd)
}

type membership struct {
	group *Group
	proc  *os.Process
}

// A process is a member of at most one live group in this process. Entries
// whose process has been waited for are stale and may be taken over.
var (
	ownersMu sync.Mutex
	owners   = make(map[int]membership)
)

func claim(p *os.Process, g *Group) error {
	ownersMu.Lock()
	defer ownersMu.Unlock()

	if m, ok := owners[p.Pid]; ok && m.group != g && !finished(m.proc) {
		return ErrAlreadyMember
	}
	owners[p.Pid] = membership{group: g, proc: p}
	return nil
}

func unclaim(pid int, g *Group) {
	ownersMu.Lock()
	defer ownersMu.Unlock()

	if owners[pid].group == g {
		delete(owners, pid)
	}
}
