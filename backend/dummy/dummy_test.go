package dummy_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/engine/backend"
	"pipelined.dev/engine/backend/dummy"
	"pipelined.dev/engine/port"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type engine struct {
	calls int64
}

func (e *engine) Process(int) error {
	atomic.AddInt64(&e.calls, 1)
	return nil
}
func (*engine) Inputs() []*port.Port  { return nil }
func (*engine) Outputs() []*port.Port { return nil }
func (*engine) MIDIIn() *port.Port    { return nil }

func TestRegistered(t *testing.T) {
	a, err := backend.NewAudio(backend.Dummy)
	require.NoError(t, err)
	assert.Equal(t, backend.Dummy, a.Kind())

	m, err := backend.NewMIDI(backend.Dummy)
	require.NoError(t, err)
	assert.Equal(t, backend.Dummy, m.Kind())
}

func TestClock(t *testing.T) {
	e := &engine{}
	a := dummy.NewAudio()
	c, err := a.Setup(e, backend.Config{SampleRate: 48000, BlockLength: 48})
	require.NoError(t, err)
	assert.Equal(t, 48000, c.SampleRate)

	require.NoError(t, a.Activate(true))
	// second activation is ignored.
	require.NoError(t, a.Activate(true))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&e.calls) >= 3
	}, time.Second, time.Millisecond)
	require.NoError(t, a.TearDown())

	calls := atomic.LoadInt64(&e.calls)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt64(&e.calls))
}

func TestManual(t *testing.T) {
	e := &engine{}
	a := dummy.NewAudio(dummy.Manual())
	_, err := a.Setup(e, backend.Config{SampleRate: 48000, BlockLength: 48})
	require.NoError(t, err)
	require.NoError(t, a.Activate(true))
	time.Sleep(5 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt64(&e.calls))

	a.PrepareProcess(48)
	a.FillOutput(48)
	assert.Equal(t, int64(1), a.Cycles())
	assert.Equal(t, int64(48), a.Frames())
	require.NoError(t, a.TearDown())
}
