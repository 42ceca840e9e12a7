package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// State is the binding state of a child process.
type State int

const (
	// Spawned: started, attach not attempted yet.
	Spawned State = iota
	// Bound: attached to the group, killed when the group closes.
	Bound
	// Unbound: attach was refused, the child runs without the guarantee.
	Unbound
	// Terminated: the group was closed while the child was bound.
	Terminated
)

func (s State) String() string {
	switch s {
	case Spawned:
		return "spawned"
	case Bound:
		return "bound"
	case Unbound:
		return "unbound"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Spawned, Bound, Unbound, Terminated} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("supervisor: unknown child state %q", text)
}

// ChildStatus is a snapshot of one child.
type ChildStatus struct {
	Index    int   `json:"index"`
	PID      int   `json:"pid"`
	State    State `json:"state"`
	Exited   bool  `json:"exited"`
	ExitCode int   `json:"exitCode"`
}

type child struct {
	index int
	cmd   *exec.Cmd
	done  chan struct{}

	mu       sync.Mutex
	state    State
	exited   bool
	exitCode int
}

func newChild(index int, cmd *exec.Cmd) *child {
	return &child{
		index: index,
		cmd:   cmd,
		state: Spawned,
		done:  make(chan struct{}),
	}
}

func (c *child) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// terminate records that the group went away under a bound child. A child
// that already exited on its own keeps its state.
func (c *child) terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Bound && !c.exited {
		c.state = Terminated
	}
}

func (c *child) status() ChildStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChildStatus{
		Index:    c.index,
		PID:      c.cmd.Process.Pid,
		State:    c.state,
		Exited:   c.exited,
		ExitCode: c.exitCode,
	}
}

// reap collects the exit status once the stream readers have drained, so the
// process never lingers as a zombie. Exits are recorded, never restarted.
func (c *child) reap(readers *sync.WaitGroup) {
	readers.Wait()
	c.cmd.Wait()

	code := -1
	if c.cmd.ProcessState != nil {
		code = c.cmd.ProcessState.ExitCode()
	}

	c.mu.Lock()
	c.exited = true
	c.exitCode = code
	c.mu.Unlock()
	close(c.done)
}

// readLines calls fn for each line of r until EOF.
func readLines(r io.Reader, fn func(line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	// Keep the pipe drained after an over-long line so the child never blocks.
	io.Copy(io.Discard, r)
}
