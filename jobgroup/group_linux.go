//go:build linux

package jobgroup

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// osGroup holds a pidfd on the owning process as the group's controlling
// handle and one pidfd per member. Killing through pidfds cannot hit a
// recycled pid.
type osGroup struct {
	self    int
	members map[int]int // pid -> pidfd
}

var (
	pidfdOpen       = unix.PidfdOpen
	pidfdSendSignal = unix.PidfdSendSignal
	closeFd         = unix.Close

	// applyPolicy checks that signals can be delivered through fd, which is
	// how members are killed on close.
	applyPolicy = func(fd int) error {
		return pidfdSendSignal(fd, 0, nil, 0)
	}
)

func createGroup() (*osGroup, error) {
	fd, err := pidfdOpen(os.Getpid(), 0)
	if err != nil {
		return nil, newCreateError("pidfd_open", err)
	}

	if err := applyPolicy(fd); err != nil {
		_ = closeFd(fd)
		return nil, newCreateError("apply kill-on-close policy", err)
	}

	return &osGroup{self: fd, members: make(map[int]int)}, nil
}

func (s *osGroup) assign(p *os.Process) error {
	fd, err := pidfdOpen(p.Pid, 0)
	if err != nil {
		return fmt.Errorf("pidfd_open: %w", err)
	}

	// EPERM here means we are not allowed to kill it later either.
	if err := pidfdSendSignal(fd, 0, nil, 0); err != nil {
		_ = closeFd(fd)
		return fmt.Errorf("pidfd_send_signal: %w", err)
	}

	// Zombies still accept signal 0.
	if exited(p.Pid) {
		_ = closeFd(fd)
		return fmt.Errorf("process has exited: %w", unix.ESRCH)
	}

	s.members[p.Pid] = fd
	return nil
}

// release forgets a member that is already gone.
func (s *osGroup) release(pid int) {
	if fd, ok := s.members[pid]; ok {
		_ = closeFd(fd)
		delete(s.members, pid)
	}
}

func (s *osGroup) close() error {
	var firstErr error
	for pid, fd := range s.members {
		err := pidfdSendSignal(fd, unix.SIGKILL, nil, 0)
		if err != nil && !errors.Is(err, unix.ESRCH) && firstErr == nil {
			firstErr = fmt.Errorf("kill %d: %w", pid, err)
		}
		_ = closeFd(fd)
	}
	s.members = nil

	_ = closeFd(s.self)
	return firstErr
}

// exited reports whether pid is gone or a zombie, from /proc/<pid>/stat.
func exited(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}

	// The command name may contain spaces and parentheses; the state field
	// follows the last ')'.
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return false
	}
	state := data[i+2]
	return state == 'Z' || state == 'X'
}

func prepareCmd(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	// Delivered by the kernel when the spawning thread dies, so it also
	// fires when the owner is SIGKILLed.
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}
