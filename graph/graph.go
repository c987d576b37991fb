/*
Package graph builds the processing graph from units and their port
connections.

A Graph is immutable once built. It is rebuilt on the non-real-time side
whenever the port topology or a reported latency changes and swapped into
the router between cycles.

Route playback latency of a node is the longest pipeline delay from the
node to the graph outputs: its own reported latency plus the maximum route
playback latency of the nodes it feeds. Trigger nodes are the nodes
without predecessors; the maximum of their route latencies is the preroll
needed before playback starts.
*/
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"pipelined.dev/engine/port"
)

type (
	// Kind of the processable unit wrapped by a node.
	Kind int

	// Time describes the region a unit processes in one sub-cycle.
	Time struct {
		// Global is the timeline position of the first frame. Only
		// meaningful when Rolling is true.
		Global int64
		// Local is the offset of the first frame inside port buffers.
		Local int
		// Frames is the number of frames to process.
		Frames int
		// Rolling is true if the unit must read the timeline. It is false
		// when the transport is stopped or the unit's route is still
		// waiting for the latency preroll.
		Rolling bool
		// Denormal is a tiny bias alternating its sign every cycle.
		Denormal float32
	}

	// Unit is a processable element of the graph: a track, a plugin, a
	// fader, a hardware port or any other producer or consumer.
	Unit interface {
		Name() string
		Kind() Kind
		// Ports returns all ports owned by the unit. Edges of the graph
		// are derived from connections of these ports.
		Ports() []*port.Port
		// Latency returns processing latency of the unit in frames.
		Latency() int
		// Process is called once per sub-cycle. Input ports already
		// contain the sum of their sources.
		Process(Time) error
	}

	// Node wraps a unit in the graph.
	Node struct {
		ID       int
		Unit     Unit
		Parents  []*Node
		Children []*Node
		// RoutePlaybackLatency is the maximum latency accumulated along
		// any path from this node to the graph outputs.
		RoutePlaybackLatency int

		refcount  int32
		processed int32
	}

	// Graph is the set of nodes with precomputed ordering and latencies.
	Graph struct {
		Nodes []*Node
		// Triggers are nodes without predecessors.
		Triggers []*Node
		// Terminals are nodes without successors.
		Terminals []*Node
		// Order is a topological order of all nodes.
		Order []*Node
		// MaxRoutePlaybackLatency is the maximum route latency over all
		// trigger nodes.
		MaxRoutePlaybackLatency int
		// Latencies are distinct route playback latencies of all nodes in
		// ascending order.
		Latencies []int
		// Version is the port topology version the graph was built from.
		Version uint64
	}
)

// Unit kinds.
const (
	Other Kind = iota
	Track
	Plugin
	Fader
	HardwarePort
	Metronome
	SampleProcessor
	Terminal
)

// ErrInconsistency is returned when the graph cannot be executed: it
// contains a cycle or an edge leading to a unit outside the graph.
var ErrInconsistency = errors.New("graph inconsistency")

// InconsistencyError describes the node that made the graph inconsistent.
type InconsistencyError struct {
	Node   string
	Reason string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%v: node %q: %s", ErrInconsistency, e.Node, e.Reason)
}

// Is allows to match the error with ErrInconsistency.
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrInconsistency
}

func (k Kind) String() string {
	switch k {
	case Track:
		return "track"
	case Plugin:
		return "plugin"
	case Fader:
		return "fader"
	case HardwarePort:
		return "hardware port"
	case Metronome:
		return "metronome"
	case SampleProcessor:
		return "sample processor"
	case Terminal:
		return "terminal"
	}
	return "other"
}

func (n *Node) String() string {
	return n.Unit.Name()
}

// Reset marks the node unprocessed and restores its dependency counter.
func (n *Node) Reset() {
	atomic.StoreInt32(&n.refcount, int32(len(n.Parents)))
	atomic.StoreInt32(&n.processed, 0)
}

// Release is called when one of the parents is processed. It returns true
// if all parents are processed and the node is ready to run.
func (n *Node) Release() bool {
	return atomic.AddInt32(&n.refcount, -1) == 0
}

// MarkProcessed marks the node processed. It returns false if the node was
// already processed in this sub-cycle.
func (n *Node) MarkProcessed() bool {
	return atomic.CompareAndSwapInt32(&n.processed, 0, 1)
}

// Processed returns true if the node was processed in this sub-cycle.
func (n *Node) Processed() bool {
	return atomic.LoadInt32(&n.processed) == 1
}

// Build creates a graph from the units. Edges are derived from port
// connections. An error wrapping ErrInconsistency is returned if a
// connection leads outside of provided units or if the graph has a cycle.
func Build(units []Unit, version uint64) (*Graph, error) {
	g := Graph{
		Nodes:   make([]*Node, 0, len(units)),
		Version: version,
	}
	owners := make(map[*port.Port]*Node)
	seen := make(map[Unit]struct{}, len(units))
	for i, u := range units {
		if _, ok := seen[u]; ok {
			return nil, &InconsistencyError{Node: u.Name(), Reason: "unit is added twice"}
		}
		seen[u] = struct{}{}
		n := &Node{
			ID:   i,
			Unit: u,
		}
		for _, p := range u.Ports() {
			if owner, ok := owners[p]; ok {
				return nil, &InconsistencyError{
					Node:   u.Name(),
					Reason: fmt.Sprintf("port %v is owned by %s", p, owner.Unit.Name()),
				}
			}
			owners[p] = n
		}
		g.Nodes = append(g.Nodes, n)
	}

	// derive edges from connections of output ports.
	for _, n := range g.Nodes {
		for _, p := range n.Unit.Ports() {
			if p.Flow != port.Output {
				continue
			}
			for _, dst := range p.Destinations() {
				child, ok := owners[dst]
				if !ok {
					return nil, &InconsistencyError{
						Node:   n.Unit.Name(),
						Reason: fmt.Sprintf("port %v is connected to %v outside of the graph", p, dst),
					}
				}
				link(n, child)
			}
		}
	}

	for _, n := range g.Nodes {
		if len(n.Parents) == 0 {
			g.Triggers = append(g.Triggers, n)
		}
		if len(n.Children) == 0 {
			g.Terminals = append(g.Terminals, n)
		}
	}

	if err := g.computeLatencies(); err != nil {
		return nil, err
	}
	if err := g.computeOrder(); err != nil {
		return nil, err
	}
	for _, n := range g.Triggers {
		if n.RoutePlaybackLatency > g.MaxRoutePlaybackLatency {
			g.MaxRoutePlaybackLatency = n.RoutePlaybackLatency
		}
	}
	distinct := make(map[int]struct{})
	for _, n := range g.Nodes {
		if _, ok := distinct[n.RoutePlaybackLatency]; !ok {
			distinct[n.RoutePlaybackLatency] = struct{}{}
			g.Latencies = append(g.Latencies, n.RoutePlaybackLatency)
		}
	}
	sort.Ints(g.Latencies)
	return &g, nil
}

func link(parent, child *Node) {
	for _, c := range parent.Children {
		if c == child {
			return
		}
	}
	parent.Children = append(parent.Children, child)
	child.Parents = append(child.Parents, parent)
}

// visit states of the post-order walk.
const (
	unvisited = iota
	inProgress
	done
)

// computeLatencies runs a memoized post-order walk. Every node is a walk
// root, so cycles without trigger nodes are detected as well.
func (g *Graph) computeLatencies() error {
	state := make([]int, len(g.Nodes))
	var walk func(n *Node) error
	walk = func(n *Node) error {
		switch state[n.ID] {
		case done:
			return nil
		case inProgress:
			return &InconsistencyError{
				Node:   n.Unit.Name(),
				Reason: "cycle detected",
			}
		}
		state[n.ID] = inProgress
		downstream := 0
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
			if c.RoutePlaybackLatency > downstream {
				downstream = c.RoutePlaybackLatency
			}
		}
		n.RoutePlaybackLatency = n.Unit.Latency() + downstream
		state[n.ID] = done
		return nil
	}
	for _, n := range g.Nodes {
		if err := walk(n); err != nil {
			return err
		}
	}
	return nil
}

// computeOrder sorts nodes topologically starting from trigger nodes.
func (g *Graph) computeOrder() error {
	indegree := make([]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = len(n.Parents)
	}
	g.Order = make([]*Node, 0, len(g.Nodes))
	g.Order = append(g.Order, g.Triggers...)
	for i := 0; i < len(g.Order); i++ {
		for _, c := range g.Order[i].Children {
			indegree[c.ID]--
			if indegree[c.ID] == 0 {
				g.Order = append(g.Order, c)
			}
		}
	}
	if len(g.Order) != len(g.Nodes) {
		for _, n := range g.Nodes {
			if indegree[n.ID] > 0 {
				return &InconsistencyError{
					Node:   n.Unit.Name(),
					Reason: "dependencies can never be satisfied",
				}
			}
		}
	}
	return nil
}

// Reset prepares all nodes for a new sub-cycle.
func (g *Graph) Reset() {
	for _, n := range g.Nodes {
		n.Reset()
	}
}

// Node returns the node wrapping provided unit or nil.
func (g *Graph) Node(u Unit) *Node {
	for _, n := range g.Nodes {
		if n.Unit == u {
			return n
		}
	}
	return nil
}
