// Package rt contains best-effort real-time hygiene for the process that
// runs the processing thread.
package rt

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned when the platform cannot lock memory.
var ErrUnsupported = errors.New("memory locking is not supported")

// LockThread wires the calling goroutine to its OS thread. The returned
// function undoes it.
func LockThread() func() {
	runtime.LockOSThread()
	return runtime.UnlockOSThread
}
