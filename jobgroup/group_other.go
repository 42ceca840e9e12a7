//go:build !linux && !windows

package jobgroup

import (
	"os"
	"os/exec"
)

// No kernel primitive survives the owner being SIGKILLed here, so New
// refuses instead of pretending.
type osGroup struct{}

func createGroup() (*osGroup, error) {
	return nil, newCreateError("create group", ErrUnsupported)
}

func (s *osGroup) assign(p *os.Process) error {
	return ErrUnsupported
}

func (s *osGroup) release(pid int) {}

func (s *osGroup) close() error {
	return nil
}

func prepareCmd(cmd *exec.Cmd) {}
