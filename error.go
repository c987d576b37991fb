package engine

import (
	"errors"
	"strings"
)

var (
	// ErrConfiguration is returned when a backend or a setting is not
	// supported. Backend configuration errors are recovered by falling
	// back to the dummy backend.
	ErrConfiguration = errors.New("configuration error")
	// ErrResourceContention is reported when a cycle is skipped because
	// the port-operation lock is busy, or when deactivation cannot wait
	// for a running cycle.
	ErrResourceContention = errors.New("resource contention")
	// ErrInvalidState is returned when an operation is not allowed in the
	// current engine state.
	ErrInvalidState = errors.New("invalid engine state")
	// ErrStaleGraph is reported when the port topology changed without a
	// graph rebuild. The cycle is skipped and the graph is rebuilt.
	ErrStaleGraph = errors.New("graph is stale")
)

// execErrors wraps errors that might occur when multiple backends are
// failing.
type execErrors []error

func (e execErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Is checks if any of errors match provided sentinel error.
func (e execErrors) Is(err error) bool {
	for _, se := range e {
		if errors.Is(se, err) {
			return true
		}
	}
	return false
}

// ret returns untyped nil if error is list is empty.
func (e execErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
