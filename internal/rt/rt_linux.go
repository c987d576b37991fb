//go:build linux

package rt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// LockMemory locks current and future pages of the process in memory.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}

// UnlockMemory unlocks all pages of the process.
func UnlockMemory() error {
	if err := unix.Munlockall(); err != nil {
		return fmt.Errorf("munlockall: %w", err)
	}
	return nil
}
