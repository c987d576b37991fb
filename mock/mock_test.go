package mock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/mock"
	"pipelined.dev/engine/plugin"
	"pipelined.dev/engine/port"
)

func TestPluginDelay(t *testing.T) {
	tests := []struct {
		latency  int
		input    []float32
		expected []float32
	}{
		{
			latency:  0,
			input:    []float32{1, 2, 3, 4},
			expected: []float32{1, 2, 3, 4},
		},
		{
			latency:  1,
			input:    []float32{1, 2, 3, 4},
			expected: []float32{0, 1, 2, 3},
		},
		{
			latency:  3,
			input:    []float32{1, 2, 3, 4},
			expected: []float32{0, 0, 0, 1},
		},
	}
	for _, test := range tests {
		arena := port.NewArena(len(test.input), 0)
		p := &mock.Plugin{PluginName: "delay", LatencyFrames: test.latency}
		u, err := plugin.New(arena, p)
		require.NoError(t, err)
		assert.Equal(t, 1, p.Allocations)
		assert.Equal(t, test.latency, u.Latency())

		copy(u.Input("in").Buffer(), test.input)
		// process in two halves.
		half := len(test.input) / 2
		require.NoError(t, u.Process(graph.Time{Frames: half, Global: 10}))
		require.NoError(t, u.Process(graph.Time{Local: half, Frames: half, Global: 12}))
		assert.Equal(t, test.expected, u.Output("out").Buffer())
		assert.Equal(t, []mock.Call{
			{Frames: half, Local: 0, Global: 10},
			{Frames: half, Local: half, Global: 12},
		}, p.Calls)
		calls, frames := p.Count()
		assert.Equal(t, 2, calls)
		assert.Equal(t, len(test.input), frames)
	}
}

func TestUnit(t *testing.T) {
	arena := port.NewArena(4, 0)
	rec := &mock.Recorder{}
	a := mock.NewUnit(arena, "a", 2, 1)
	a.Recorder = rec
	copy(a.In[0].Buffer(), []float32{1, 1, 1, 1})
	copy(a.In[1].Buffer(), []float32{1, 2, 3, 4})

	require.NoError(t, a.Process(graph.Time{Frames: 4}))
	assert.Equal(t, []float32{2, 3, 4, 5}, a.Out[0].Buffer())
	assert.Equal(t, []string{"a"}, rec.Names())
	assert.Len(t, a.Ports(), 3)

	a.ErrorOnCall = mock.ErrTest
	assert.ErrorIs(t, a.Process(graph.Time{Frames: 4}), mock.ErrTest)
	a.PanicOnCall = true
	assert.Panics(t, func() { _ = a.Process(graph.Time{Frames: 4}) })
}

func TestSourceAndSink(t *testing.T) {
	arena := port.NewArena(4, 0)
	src := mock.NewSource(arena, "src")
	src.Impulse = 5
	sink := mock.NewSink(arena, "sink")

	require.NoError(t, src.Process(graph.Time{Global: 4, Frames: 4, Rolling: true}))
	assert.Equal(t, []float32{0, 1, 0, 0}, src.Out.Buffer())
	copy(sink.In.Buffer(), src.Out.Buffer())
	require.NoError(t, sink.Process(graph.Time{Local: 1, Frames: 2}))
	assert.Equal(t, []float32{1, 0}, sink.Buffer())

	require.NoError(t, src.Process(graph.Time{Global: 4, Frames: 4}))
	assert.Equal(t, []float32{0, 0, 0, 0}, src.Out.Buffer())
}
