package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/mock"
	"pipelined.dev/engine/port"
)

// chain returns units connected one after another.
func chain(t *testing.T, a *port.Arena, latencies ...int) []*mock.Unit {
	t.Helper()
	var units []*mock.Unit
	for i, l := range latencies {
		u := mock.NewUnit(a, string(rune('a'+i)), 1, 1)
		u.LatencyFrames = l
		if i > 0 {
			require.NoError(t, units[i-1].Out[0].Connect(u.In[0], false))
		}
		units = append(units, u)
	}
	return units
}

func asUnits(mocks ...*mock.Unit) []graph.Unit {
	units := make([]graph.Unit, 0, len(mocks))
	for _, m := range mocks {
		units = append(units, m)
	}
	return units
}

func TestBuild(t *testing.T) {
	a := port.NewArena(16, 0)
	units := chain(t, a, 0, 10, 0)
	g, err := graph.Build(asUnits(units...), a.Version())
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 3)
	require.Len(t, g.Triggers, 1)
	assert.Equal(t, "a", g.Triggers[0].String())
	require.Len(t, g.Terminals, 1)
	assert.Equal(t, "c", g.Terminals[0].String())
	assert.Equal(t, []string{"a", "b", "c"}, names(g.Order))
	assert.Equal(t, 10, g.MaxRoutePlaybackLatency)
	assert.Equal(t, []int{0, 10}, g.Latencies)
	assert.Equal(t, a.Version(), g.Version)
	assert.Equal(t, 10, g.Node(units[0]).RoutePlaybackLatency)
	assert.Equal(t, 10, g.Node(units[1]).RoutePlaybackLatency)
	assert.Equal(t, 0, g.Node(units[2]).RoutePlaybackLatency)
}

func TestRoutePlaybackLatency(t *testing.T) {
	// a -> b(100) -> d(5)
	// a -> c(300) -> d
	// e(20) -> d
	a := port.NewArena(16, 0)
	src := mock.NewUnit(a, "a", 0, 2)
	b := mock.NewUnit(a, "b", 1, 1)
	b.LatencyFrames = 100
	c := mock.NewUnit(a, "c", 1, 1)
	c.LatencyFrames = 300
	d := mock.NewUnit(a, "d", 3, 0)
	d.LatencyFrames = 5
	e := mock.NewUnit(a, "e", 0, 1)
	e.LatencyFrames = 20
	require.NoError(t, src.Out[0].Connect(b.In[0], false))
	require.NoError(t, src.Out[1].Connect(c.In[0], false))
	require.NoError(t, b.Out[0].Connect(d.In[0], false))
	require.NoError(t, c.Out[0].Connect(d.In[1], false))
	require.NoError(t, e.Out[0].Connect(d.In[2], false))

	g, err := graph.Build(asUnits(d, c, b, src, e), a.Version())
	require.NoError(t, err)
	assert.Equal(t, 5, g.Node(d).RoutePlaybackLatency)
	assert.Equal(t, 305, g.Node(c).RoutePlaybackLatency)
	assert.Equal(t, 105, g.Node(b).RoutePlaybackLatency)
	assert.Equal(t, 305, g.Node(src).RoutePlaybackLatency)
	assert.Equal(t, 25, g.Node(e).RoutePlaybackLatency)
	assert.Equal(t, 305, g.MaxRoutePlaybackLatency)
	assert.Equal(t, []int{5, 25, 105, 305}, g.Latencies)
	assert.ElementsMatch(t, []string{"a", "e"}, names(g.Triggers))

	// every node comes after its parents.
	position := map[string]int{}
	for i, n := range g.Order {
		position[n.String()] = i
	}
	for _, n := range g.Nodes {
		for _, p := range n.Parents {
			assert.Less(t, position[p.String()], position[n.String()])
		}
	}
}

func TestBuildErrors(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		a := port.NewArena(16, 0)
		units := chain(t, a, 0, 0, 0)
		u := mock.NewUnit(a, "loop", 1, 1)
		require.NoError(t, units[2].Out[0].Connect(u.In[0], false))
		require.NoError(t, u.Out[0].Connect(units[1].In[0], false))
		_, err := graph.Build(asUnits(units[0], units[1], units[2], u), a.Version())
		assert.ErrorIs(t, err, graph.ErrInconsistency)
		var inconsistency *graph.InconsistencyError
		require.ErrorAs(t, err, &inconsistency)
		assert.Equal(t, "cycle detected", inconsistency.Reason)
	})
	t.Run("cycle without triggers", func(t *testing.T) {
		a := port.NewArena(16, 0)
		x := mock.NewUnit(a, "x", 1, 1)
		y := mock.NewUnit(a, "y", 1, 1)
		require.NoError(t, x.Out[0].Connect(y.In[0], false))
		require.NoError(t, y.Out[0].Connect(x.In[0], false))
		_, err := graph.Build(asUnits(x, y), a.Version())
		assert.ErrorIs(t, err, graph.ErrInconsistency)
	})
	t.Run("outside", func(t *testing.T) {
		a := port.NewArena(16, 0)
		units := chain(t, a, 0, 0)
		_, err := graph.Build(asUnits(units[0]), a.Version())
		assert.ErrorIs(t, err, graph.ErrInconsistency)
	})
	t.Run("duplicate unit", func(t *testing.T) {
		a := port.NewArena(16, 0)
		units := chain(t, a, 0, 0)
		_, err := graph.Build(asUnits(units[0], units[1], units[0]), a.Version())
		var inconsistency *graph.InconsistencyError
		require.ErrorAs(t, err, &inconsistency)
		assert.Equal(t, "unit is added twice", inconsistency.Reason)
	})
	t.Run("shared port", func(t *testing.T) {
		a := port.NewArena(16, 0)
		x := mock.NewUnit(a, "x", 1, 0)
		y := &mock.Unit{UnitName: "y", In: x.In}
		_, err := graph.Build(asUnits(x, y), a.Version())
		assert.ErrorIs(t, err, graph.ErrInconsistency)
	})
}

func TestEmpty(t *testing.T) {
	g, err := graph.Build(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)
	assert.Zero(t, g.MaxRoutePlaybackLatency)
	assert.Empty(t, g.Latencies)
}

func TestNodeCounters(t *testing.T) {
	a := port.NewArena(16, 0)
	src := mock.NewUnit(a, "src", 0, 2)
	dst := mock.NewUnit(a, "dst", 2, 0)
	require.NoError(t, src.Out[0].Connect(dst.In[0], false))
	require.NoError(t, src.Out[1].Connect(dst.In[1], false))
	g, err := graph.Build(asUnits(src, dst), a.Version())
	require.NoError(t, err)

	// parallel connections between the same units are one edge.
	n := g.Node(dst)
	require.Len(t, n.Parents, 1)
	g.Reset()
	assert.True(t, n.Release())
	assert.False(t, n.Processed())
	assert.True(t, n.MarkProcessed())
	assert.False(t, n.MarkProcessed())
	assert.True(t, n.Processed())
	g.Reset()
	assert.False(t, n.Processed())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "hardware port", graph.HardwarePort.String())
	assert.Equal(t, "other", graph.Kind(100).String())
}

func names(nodes []*graph.Node) []string {
	s := make([]string, 0, len(nodes))
	for _, n := range nodes {
		s = append(s, n.String())
	}
	return s
}
