//go:build !linux

package rt

// LockMemory is not supported on this platform.
func LockMemory() error {
	return ErrUnsupported
}

// UnlockMemory is not supported on this platform.
func UnlockMemory() error {
	return nil
}
