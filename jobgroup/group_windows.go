//go:build windows

package jobgroup

import (
	"os"
	"os/exec"

	winjob "github.com/kolesnikovae/go-winjob"
)

// osGroup wraps an anonymous job object. Windows closes the job handle when
// the owning process exits for any reason, which fires KillOnJobClose.
type osGroup struct {
	job *winjob.JobObject
}

var (
	createJob = func() (*winjob.JobObject, error) {
		return winjob.Create("")
	}

	applyPolicy = func(job *winjob.JobObject) error {
		return job.SetLimit(winjob.WithKillOnJobClose())
	}

	closeJob = func(job *winjob.JobObject) error {
		return job.Close()
	}
)

func createGroup() (*osGroup, error) {
	job, err := createJob()
	if err != nil {
		return nil, newCreateError("create job object", err)
	}

	if err := applyPolicy(job); err != nil {
		_ = closeJob(job)
		return nil, newCreateError("set kill-on-close limit", err)
	}

	return &osGroup{job: job}, nil
}

func (s *osGroup) assign(p *os.Process) error {
	return s.job.Assign(p)
}

// A dead process leaves its job by itself.
func (s *osGroup) release(pid int) {}

func (s *osGroup) close() error {
	return closeJob(s.job)
}

// Job membership is assigned after start, nothing to arm here.
func prepareCmd(cmd *exec.Cmd) {}
