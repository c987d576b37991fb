package backend_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine/backend"
	"pipelined.dev/engine/port"
)

func TestParseAudioKind(t *testing.T) {
	tests := []struct {
		name     string
		expected backend.Kind
		err      error
	}{
		{name: "dummy", expected: backend.Dummy},
		{name: "none", expected: backend.Dummy},
		{name: " JACK ", expected: backend.Jack},
		{name: "port-audio", expected: backend.PortAudio},
		{name: "pulseaudio", expected: backend.Pulse},
		{name: "rtmidi", expected: backend.Dummy, err: backend.ErrUnsupported},
		{name: "coreaudio", expected: backend.Dummy, err: backend.ErrUnknown},
	}
	for _, test := range tests {
		kind, err := backend.ParseAudioKind(test.name)
		assert.Equal(t, test.expected, kind, test.name)
		if test.err != nil {
			assert.True(t, errors.Is(err, test.err), test.name)
		} else {
			assert.NoError(t, err, test.name)
		}
	}
}

func TestParseMIDIKind(t *testing.T) {
	kind, err := backend.ParseMIDIKind("portmidi")
	require.NoError(t, err)
	assert.Equal(t, backend.PortMidi, kind)

	_, err = backend.ParseMIDIKind("port-audio")
	assert.ErrorIs(t, err, backend.ErrUnsupported)
}

func TestKindText(t *testing.T) {
	var k backend.Kind
	require.NoError(t, k.UnmarshalText([]byte("rtaudio")))
	assert.Equal(t, backend.RtAudio, k)
	text, err := k.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "rtaudio", string(text))
	assert.Error(t, k.UnmarshalText([]byte("unknown")))
}

func TestNewUnregistered(t *testing.T) {
	_, err := backend.NewAudio(backend.Sdl)
	assert.ErrorIs(t, err, backend.ErrUnsupported)
	_, err = backend.NewMIDI(backend.Alsa)
	assert.ErrorIs(t, err, backend.ErrUnsupported)
}

func TestCopy(t *testing.T) {
	a := port.NewArena(4, 0)
	ports := []*port.Port{
		a.New(port.ID{Label: "1", Flow: port.Output}),
		a.New(port.ID{Label: "2", Flow: port.Output}),
	}
	backend.CopyIn(ports, [][]float32{{1, 2, 3, 4}}, 4)
	assert.Equal(t, []float32{1, 2, 3, 4}, ports[0].Buffer())
	assert.Equal(t, []float32{0, 0, 0, 0}, ports[1].Buffer())

	out := [][]float32{make([]float32, 4), {9, 9, 9, 9}, {9, 9, 9, 9}}
	backend.CopyOut(out, ports, 4)
	assert.Equal(t, []float32{1, 2, 3, 4}, out[0])
	assert.Equal(t, []float32{0, 0, 0, 0}, out[1])
	assert.Equal(t, []float32{0, 0, 0, 0}, out[2])

	backend.Silence(out)
	assert.Equal(t, []float32{0, 0, 0, 0}, out[0])
}

func TestMIDIQueue(t *testing.T) {
	a := port.NewArena(4, 2)
	in := a.New(port.ID{Label: "midi in", Flow: port.Output, Type: port.Event})
	q := backend.NewMIDIQueue(4)

	assert.True(t, q.Push([]byte{0x90, 60, 100}))
	assert.True(t, q.Push([]byte{0xC0, 1}))
	assert.False(t, q.Push(nil))
	assert.False(t, q.Push([]byte{0xF0, 1, 2, 3, 0xF7}))
	assert.True(t, q.Push([]byte{0x80, 60, 0}))
	assert.Equal(t, 3, q.Len())

	// event buffer holds two events, the rest stays queued.
	q.Deliver(in.Events())
	events := in.Events().Events()
	require.Len(t, events, 2)
	assert.Equal(t, []byte{0x90, 60, 100}, []byte(events[0].Message))
	assert.Equal(t, []byte{0xC0, 1}, []byte(events[1].Message))

	in.Events().Reset()
	q.Deliver(in.Events())
	require.Len(t, in.Events().Events(), 1)
	assert.Equal(t, 0, q.Len())
}
