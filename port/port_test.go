package port_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"pipelined.dev/engine/port"
)

func audio(a *port.Arena, label string, flow port.Flow) *port.Port {
	return a.New(port.ID{Label: label, Flow: flow, Type: port.Audio})
}

func TestConnect(t *testing.T) {
	a := port.NewArena(4, 0)
	out := audio(a, "out", port.Output)
	in := audio(a, "in", port.Input)
	version := a.Version()

	require.NoError(t, out.Connect(in, false))
	assert.True(t, out.IsConnectedTo(in))
	assert.Equal(t, []*port.Port{in}, out.Destinations())
	assert.Equal(t, []*port.Port{out}, in.Sources())
	assert.Greater(t, a.Version(), version)

	// connecting twice is a no-op.
	version = a.Version()
	require.NoError(t, out.Connect(in, false))
	assert.Len(t, out.Destinations(), 1)
	assert.Equal(t, version, a.Version())

	in.Disconnect(out)
	assert.False(t, out.IsConnectedTo(in))
	assert.Empty(t, in.Sources())
	assert.Greater(t, a.Version(), version)
}

func TestConnectBidirectional(t *testing.T) {
	a := port.NewArena(4, 0)
	out := audio(a, "out", port.Output)
	in := audio(a, "in", port.Input)
	assert.ErrorIs(t, in.Connect(out, false), port.ErrFlowMismatch)
	require.NoError(t, in.Connect(out, true))
	assert.True(t, out.IsConnectedTo(in))
}

func TestConnectErrors(t *testing.T) {
	a := port.NewArena(4, 0)
	out := audio(a, "out", port.Output)
	events := a.New(port.ID{Label: "events", Flow: port.Input, Type: port.Event})
	assert.ErrorIs(t, out.Connect(events, false), port.ErrTypeMismatch)

	other := port.NewArena(4, 0)
	assert.ErrorIs(t, out.Connect(audio(other, "in", port.Input), false), port.ErrForeignArena)

	cv := a.New(port.ID{Label: "cv", Flow: port.Output, Type: port.CV})
	control := a.New(port.ID{Label: "control", Flow: port.Input, Type: port.Control})
	assert.NoError(t, cv.Connect(control, false))
}

func TestSumSources(t *testing.T) {
	a := port.NewArena(4, 0)
	in := audio(a, "in", port.Input)
	for i := 0; i < 2; i++ {
		out := audio(a, "out", port.Output)
		copy(out.Buffer(), []float32{1, 2, 3, 4})
		require.NoError(t, out.Connect(in, false))
	}
	in.SumSources(1, 2)
	assert.Equal(t, []float32{0, 4, 6, 0}, in.Buffer())

	in.ClearRange(1, 1)
	assert.Equal(t, []float32{0, 0, 6, 0}, in.Buffer())
	in.Clear()
	assert.Equal(t, []float32{0, 0, 0, 0}, in.Buffer())
}

func TestSumEvents(t *testing.T) {
	a := port.NewArena(4, 2)
	out := a.New(port.ID{Label: "out", Flow: port.Output, Type: port.Event})
	in := a.New(port.ID{Label: "in", Flow: port.Input, Type: port.Event})
	require.NoError(t, out.Connect(in, false))
	out.Events().Add(0, midi.NoteOn(0, 60, 100))
	out.Events().Add(3, midi.NoteOff(0, 60))
	assert.False(t, out.Events().Add(3, midi.NoteOff(0, 61)))
	assert.Equal(t, 1, out.Events().Dropped())

	in.SumSources(2, 2)
	require.Equal(t, 1, in.Events().Len())
	assert.Equal(t, 3, in.Events().Events()[0].Time)

	in.Clear()
	assert.Zero(t, in.Events().Len())
}

func TestRemoveRange(t *testing.T) {
	b := port.NewEventBuffer(4)
	for _, time := range []int{0, 2, 3, 5} {
		b.Add(time, midi.NoteOn(0, 60, 100))
	}
	b.RemoveRange(2, 2)
	var times []int
	for _, e := range b.Events() {
		times = append(times, e.Time)
	}
	assert.Equal(t, []int{0, 5}, times)
	assert.True(t, b.Add(7, midi.NoteOff(0, 60)))
}

func TestSumControl(t *testing.T) {
	a := port.NewArena(4, 0)
	cv := a.New(port.ID{Label: "cv", Flow: port.Output, Type: port.CV})
	control := a.New(port.ID{Label: "control", Flow: port.Input, Type: port.Control})
	require.NoError(t, cv.Connect(control, false))
	cv.Buffer()[1] = 0.5
	control.SumSources(1, 3)
	assert.Equal(t, float32(0.5), control.Value)
}

func TestPanic(t *testing.T) {
	b := port.NewEventBuffer(port.DefaultEventCapacity)
	b.Panic()
	require.Equal(t, 16, b.Len())
	var ch, controller, value uint8
	require.True(t, b.Events()[15].Message.GetControlChange(&ch, &controller, &value))
	assert.Equal(t, uint8(15), ch)
	assert.Equal(t, uint8(123), controller)

	allocs := testing.AllocsPerRun(10, func() {
		b.Reset()
		b.Panic()
	})
	assert.Zero(t, allocs)
}

func TestArena(t *testing.T) {
	a := port.NewArena(4, 0)
	p := audio(a, "p", port.Output)
	assert.NotEmpty(t, p.UID)
	q := audio(a, "q", port.Input)
	require.NoError(t, p.Connect(q, false))
	assert.Len(t, a.Ports(), 2)

	a.Release(p)
	assert.Empty(t, q.Sources())
	assert.Len(t, a.Ports(), 1)

	// released slot is reused.
	r := audio(a, "r", port.Output)
	assert.Len(t, a.Ports(), 2)
	assert.Len(t, r.Buffer(), 4)

	copy(q.Buffer(), []float32{1, 1, 1, 1})
	a.Resize(8)
	assert.Equal(t, 8, a.BlockLength())
	assert.Equal(t, make([]float32, 8), q.Buffer())
	a.Resize(2)
	assert.Len(t, r.Buffer(), 2)

	copy(r.Buffer(), []float32{1, 1})
	a.ClearAll()
	assert.Equal(t, []float32{0, 0}, r.Buffer())
}

func TestStereo(t *testing.T) {
	a := port.NewArena(4, 0)
	out := a.NewStereo("out", "owner", port.Output, port.ExposeToBackend)
	in := a.NewStereo("in", "owner", port.Input, 0)
	assert.Equal(t, "out L", out.L.Label)
	assert.True(t, out.R.Flags.Has(port.ExposeToBackend))
	require.NoError(t, out.Connect(in))
	assert.True(t, out.L.IsConnectedTo(in.L))
	assert.True(t, out.R.IsConnectedTo(in.R))

	assert.Error(t, in.Connect(out))
	out.Disconnect()
	assert.Empty(t, in.L.Sources())
	assert.Len(t, out.Ports(), 2)
}
