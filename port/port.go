/*
Package port provides typed buffer endpoints of the processing graph.

Every port has an identity (owner, flow, type), a buffer sized to the
engine's block length and a set of directed connections to other ports.
Buffers are not owned by ports: they live in an Arena and are indexed by
the port's slot, so they can be reallocated all at once when the block
length changes.

Connecting or disconnecting ports bumps the arena's topology version. The
processing graph records the version it was built from and is considered
stale once the version moves on.
*/
package port

import (
	"errors"
	"fmt"

	"github.com/rs/xid"
)

type (
	// Type of the signal carried by the port.
	Type int

	// Flow is the direction of the port.
	Flow int

	// Flags are additional port properties.
	Flags uint32

	// ID identifies the port.
	ID struct {
		UID   string
		Label string
		// Owner is the UID of the unit owning the port. Empty for ports
		// owned by the engine itself.
		Owner string
		Flow  Flow
		Type  Type
		Flags Flags
	}

	// Port is a typed buffer endpoint.
	Port struct {
		ID
		arena   *Arena
		slot    int
		sources []*Port
		dests   []*Port
		events  *EventBuffer
		// Value is the current value of control ports.
		Value float32
	}
)

// Port types.
const (
	Audio Type = iota
	Control
	CV
	Event
)

// Port flows.
const (
	Input Flow = iota
	Output
)

// Port flags.
const (
	Sidechain Flags = 1 << iota
	Automatable
	ReportsLatency
	ExposeToBackend
	ManualPress
)

var (
	// ErrTypeMismatch is returned when ports of incompatible types are
	// connected.
	ErrTypeMismatch = errors.New("port type mismatch")
	// ErrFlowMismatch is returned when the source is not an output or the
	// destination is not an input.
	ErrFlowMismatch = errors.New("port flow mismatch")
	// ErrForeignArena is returned when ports from different arenas are
	// connected.
	ErrForeignArena = errors.New("ports belong to different arenas")
)

func (t Type) String() string {
	switch t {
	case Audio:
		return "audio"
	case Control:
		return "control"
	case CV:
		return "cv"
	case Event:
		return "event"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

func (f Flow) String() string {
	if f == Input {
		return "input"
	}
	return "output"
}

// Has returns true if all provided flags are set.
func (f Flags) Has(flags Flags) bool {
	return f&flags == flags
}

func (p *Port) String() string {
	return fmt.Sprintf("%s(%s %s)", p.Label, p.Type, p.Flow)
}

// newUID returns new unique id value.
func newUID() string {
	return xid.New().String()
}

// compatible returns true if signal of type src can be fed into dst.
func compatible(src, dst Type) bool {
	if src == dst {
		return true
	}
	// CV can modulate control ports.
	return src == CV && dst == Control
}

// Connect adds a directed edge from p to other. If bidirectional is true
// the ports can be passed in any order and the edge is oriented from the
// output to the input.
func (p *Port) Connect(other *Port, bidirectional bool) error {
	src, dst := p, other
	if bidirectional && src.Flow == Input && dst.Flow == Output {
		src, dst = dst, src
	}
	if src.arena != dst.arena {
		return fmt.Errorf("connect %v to %v: %w", src, dst, ErrForeignArena)
	}
	if src.Flow != Output || dst.Flow != Input {
		return fmt.Errorf("connect %v to %v: %w", src, dst, ErrFlowMismatch)
	}
	if !compatible(src.Type, dst.Type) {
		return fmt.Errorf("connect %v to %v: %w", src, dst, ErrTypeMismatch)
	}
	if src.IsConnectedTo(dst) {
		return nil
	}
	src.dests = append(src.dests, dst)
	dst.sources = append(dst.sources, src)
	src.arena.invalidate()
	return nil
}

// Disconnect removes the edge between p and other, in either direction.
func (p *Port) Disconnect(other *Port) {
	changed := false
	if i := indexOf(p.dests, other); i >= 0 {
		p.dests = remove(p.dests, i)
		other.sources = remove(other.sources, indexOf(other.sources, p))
		changed = true
	}
	if i := indexOf(p.sources, other); i >= 0 {
		p.sources = remove(p.sources, i)
		other.dests = remove(other.dests, indexOf(other.dests, p))
		changed = true
	}
	if changed {
		p.arena.invalidate()
	}
}

// DisconnectAll removes all edges of the port.
func (p *Port) DisconnectAll() {
	for len(p.dests) > 0 {
		p.Disconnect(p.dests[len(p.dests)-1])
	}
	for len(p.sources) > 0 {
		p.Disconnect(p.sources[len(p.sources)-1])
	}
}

// IsConnectedTo returns true if there is an edge from p to dst.
func (p *Port) IsConnectedTo(dst *Port) bool {
	return indexOf(p.dests, dst) >= 0
}

// Sources returns ports feeding this port.
func (p *Port) Sources() []*Port {
	return p.sources
}

// Destinations returns ports fed by this port.
func (p *Port) Destinations() []*Port {
	return p.dests
}

// Buffer returns the sample buffer of the port. Its length is always the
// current block length.
func (p *Port) Buffer() []float32 {
	return p.arena.buffer(p.slot)
}

// Events returns the event buffer of event ports and nil otherwise.
func (p *Port) Events() *EventBuffer {
	return p.events
}

// Clear zeroes the whole buffer of the port.
func (p *Port) Clear() {
	buf := p.Buffer()
	for i := range buf {
		buf[i] = 0
	}
	if p.events != nil {
		p.events.Reset()
	}
}

// ClearRange zeroes n samples starting at offset. Events are not
// affected.
func (p *Port) ClearRange(offset, n int) {
	buf := p.Buffer()[offset : offset+n]
	for i := range buf {
		buf[i] = 0
	}
}

// SumSources mixes the signal of all source ports into this port for n
// frames starting at offset.
func (p *Port) SumSources(offset, n int) {
	switch p.Type {
	case Audio, CV:
		buf := p.Buffer()[offset : offset+n]
		for _, src := range p.sources {
			in := src.Buffer()[offset : offset+n]
			for i := range buf {
				buf[i] += in[i]
			}
		}
	case Control:
		// the last connected modulator wins.
		for _, src := range p.sources {
			if src.Type == CV {
				p.Value = src.Buffer()[offset]
			} else {
				p.Value = src.Value
			}
		}
	case Event:
		for _, src := range p.sources {
			if src.events == nil {
				continue
			}
			for _, e := range src.events.Events() {
				if e.Time >= offset && e.Time < offset+n {
					p.events.Add(e.Time, e.Message)
				}
			}
		}
	}
}

func indexOf(ports []*Port, p *Port) int {
	for i := range ports {
		if ports[i] == p {
			return i
		}
	}
	return -1
}

func remove(ports []*Port, i int) []*Port {
	if i < 0 {
		return ports
	}
	copy(ports[i:], ports[i+1:])
	ports[len(ports)-1] = nil
	return ports[:len(ports)-1]
}
