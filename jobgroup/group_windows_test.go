//go:build windows

package jobgroup

import (
	"errors"
	"testing"

	winjob "github.com/kolesnikovae/go-winjob"
	"golang.org/x/sys/windows"
)

func alive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == windows.STILL_ACTIVE
}

func TestCreatePolicyFailureClosesJob(t *testing.T) {
	var created, closed *winjob.JobObject
	origCreate, origPolicy, origClose := createJob, applyPolicy, closeJob
	createJob = func() (*winjob.JobObject, error) {
		job, err := origCreate()
		created = job
		return job, err
	}
	applyPolicy = func(job *winjob.JobObject) error { return windows.ERROR_ACCESS_DENIED }
	closeJob = func(job *winjob.JobObject) error {
		closed = job
		return origClose(job)
	}
	defer func() { createJob, applyPolicy, closeJob = origCreate, origPolicy, origClose }()

	_, err := New()
	var createErr *CreateError
	if !errors.As(err, &createErr) {
		t.Fatalf("Expected CreateError, got: %v", err)
	}
	if createErr.Code != windows.ERROR_ACCESS_DENIED {
		t.Errorf("Expected code ERROR_ACCESS_DENIED, got: %d", createErr.Code)
	}
	if created == nil || closed != created {
		t.Errorf("Expected the created job object to be closed after policy failure")
	}
}
