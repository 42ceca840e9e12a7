// Package ready passes a one-shot "service is up" signal between processes
// by name, so a launcher can block until the service it started is ready
// instead of polling or sleeping.
//
// A Waiter must be created before the signalling process is started. Each
// signal wakes one Wait and is consumed by it.
package ready

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by Wait after Close.
var ErrClosed = errors.New("ready: waiter is closed")

func validateName(name string) error {
	if name == "" {
		return errors.New("ready: empty name")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("ready: name %q must not contain path separators", name)
	}
	return nil
}
