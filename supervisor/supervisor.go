// Package supervisor spawns a fixed cohort of worker processes and binds each
// of them to a jobgroup.Group owned by the current process, so the operating
// system tears the whole cohort down when this process goes away.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/mrexodia/jobsupervisor/console"
	"github.com/mrexodia/jobsupervisor/jobgroup"
)

// LineHandler receives the redirected output of children, one line at a
// time. Calls for different children, and for stdout and stderr of the same
// child, may happen concurrently.
type LineHandler interface {
	OnOutputLine(child int, line string)
	OnErrorLine(child int, line string)
}

// NopLineHandler discards every line.
type NopLineHandler struct{}

func (NopLineHandler) OnOutputLine(int, string) {}
func (NopLineHandler) OnErrorLine(int, string)  {}

// AttachFailureFunc is called when a child could not be bound to the group.
type AttachFailureFunc func(child int, pid int, err error)

// Options describes the cohort to spawn.
type Options struct {
	Argv           []string // executable and arguments
	Count          int
	RedirectOutput bool
	HideWindow     bool
	Dir            string
	Env            []string // nil inherits the environment

	Lines           LineHandler // used when RedirectOutput is set
	OnAttachFailure AttachFailureFunc
	Logger          *console.Logger
}

// Supervisor owns one process group and the children bound to it.
type Supervisor struct {
	group    *jobgroup.Group
	log      *console.Logger
	lines    LineHandler
	onAttach AttachFailureFunc

	// attach binds a started child; tests replace it to simulate refusals.
	attach func(p *os.Process) error

	children []*child

	closeOnce sync.Once
	closeErr  error
}

// Start creates the process group and spawns opts.Count children one after
// another, attaching each immediately after it starts. A group that cannot be
// created aborts Start before anything is spawned. A refused attach is logged
// and reported through OnAttachFailure; the child keeps running unbound and
// the remaining children are still spawned.
func Start(opts Options) (*Supervisor, error) {
	s, err := newSupervisor(opts)
	if err != nil {
		return nil, err
	}
	if err := s.spawnAll(opts); err != nil {
		return nil, err
	}
	return s, nil
}

func newSupervisor(opts Options) (*Supervisor, error) {
	if len(opts.Argv) == 0 {
		return nil, errors.New("supervisor: empty command")
	}
	if opts.Count < 0 {
		return nil, fmt.Errorf("supervisor: invalid child count %d", opts.Count)
	}

	group, err := jobgroup.New()
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	s := &Supervisor{
		group:    group,
		log:      opts.Logger,
		lines:    opts.Lines,
		onAttach: opts.OnAttachFailure,
		children: make([]*child, 0, opts.Count),
	}
	if s.log == nil {
		s.log = console.New("Supervisor")
	}
	if s.lines == nil {
		s.lines = NopLineHandler{}
	}
	s.attach = group.Add
	return s, nil
}

func (s *Supervisor) spawnAll(opts Options) error {
	for i := 0; i < opts.Count; i++ {
		c, err := s.spawn(i, opts)
		if err != nil {
			s.abort()
			return err
		}
		s.children = append(s.children, c)
	}

	bound := 0
	for _, c := range s.children {
		if c.status().State == Bound {
			bound++
		}
	}
	s.log.Printf("Started %d children (%d bound to the process group)", len(s.children), bound)
	return nil
}

func (s *Supervisor) spawn(index int, opts Options) (*child, error) {
	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	configureCmd(cmd, opts.HideWindow)
	jobgroup.Prepare(cmd)

	var stdout, stderr io.ReadCloser
	if opts.RedirectOutput {
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("supervisor: stdout pipe for child %d: %w", index, err)
		}
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("supervisor: stderr pipe for child %d: %w", index, err)
		}
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start child %d: %w", index, err)
	}
	c := newChild(index, cmd)
	pid := cmd.Process.Pid

	var readers sync.WaitGroup
	if opts.RedirectOutput {
		readers.Add(2)
		go func() {
			defer readers.Done()
			readLines(stdout, func(line string) { s.lines.OnOutputLine(index, line) })
		}()
		go func() {
			defer readers.Done()
			readLines(stderr, func(line string) { s.lines.OnErrorLine(index, line) })
		}()
	}
	defer func() { go c.reap(&readers) }()

	if err := s.attach(cmd.Process); err != nil {
		if jobgroup.IsMisuse(err) {
			cmd.Process.Kill()
			return nil, fmt.Errorf("supervisor: attach child %d: %w", index, err)
		}
		c.setState(Unbound)
		s.log.Errorf("Child %d (PID: %d) is running outside the process group: %v", index, pid, err)
		if s.onAttach != nil {
			s.onAttach(index, pid, err)
		}
		return c, nil
	}

	c.setState(Bound)
	s.log.Printf("Started child %d (PID: %d)", index, pid)
	return c, nil
}

// abort tears down a partially started cohort. The caller never gets the
// Supervisor, so unbound children are killed here too.
func (s *Supervisor) abort() {
	s.Close()
	for _, c := range s.children {
		if c.status().State == Unbound {
			if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.log.Errorf("Failed to kill unbound child %d (PID: %d): %v", c.index, c.cmd.Process.Pid, err)
			}
		}
	}
}

// Close releases the process group, which kills every bound child at once.
// Unbound children are left running. Close is safe to call more than once.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.group.Close()
		for _, c := range s.children {
			c.terminate()
		}
		s.log.Printf("Process group closed")
	})
	return s.closeErr
}

// Children returns a snapshot of every child in spawn order.
func (s *Supervisor) Children() []ChildStatus {
	result := make([]ChildStatus, len(s.children))
	for i, c := range s.children {
		result[i] = c.status()
	}
	return result
}

// Wait blocks until every child has exited or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	for _, c := range s.children {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
