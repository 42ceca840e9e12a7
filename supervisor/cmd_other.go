//go:build !windows

package supervisor

import "os/exec"

// configureCmd is a no-op on non-Windows platforms
func configureCmd(cmd *exec.Cmd, hideWindow bool) {}
