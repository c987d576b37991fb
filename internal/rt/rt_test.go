package rt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/engine/internal/rt"
)

func TestLockMemory(t *testing.T) {
	// locking needs privileges, only the error type is checked.
	if err := rt.LockMemory(); err == nil {
		assert.NoError(t, rt.UnlockMemory())
	}
	unlock := rt.LockThread()
	unlock()
}
