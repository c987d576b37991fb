package portmidi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLength(t *testing.T) {
	tests := []struct {
		status   int64
		expected int
	}{
		{status: 0x90, expected: 3},
		{status: 0x81, expected: 3},
		{status: 0xC5, expected: 2},
		{status: 0xD0, expected: 2},
		{status: 0xE2, expected: 3},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, length(test.status))
	}
}
