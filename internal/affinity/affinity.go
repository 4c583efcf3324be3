// Package affinity pins the calling goroutine's OS thread to a CPU.
// Platform-specific implementations live in affinity_linux.go and
// affinity_stub.go.
package affinity

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned where CPU pinning is not available.
var ErrUnsupported = errors.New("affinity: not supported on this platform")

// Pin locks the calling goroutine to its OS thread and restricts that
// thread to cpu. The thread stays locked even when pinning fails, so a
// goroutine that exits afterwards takes the thread with it.
func Pin(cpu int) error {
	runtime.LockOSThread()
	return pinPlatform(cpu)
}

// Allowed returns the CPUs the process may run on.
func Allowed() ([]int, error) {
	return allowedPlatform()
}
