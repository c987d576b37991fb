/*
Package plugin adapts hosted plugins to the processing graph.

Instantiation of plugins is up to the host implementation. The engine only
needs three capabilities from it: port buffer (re)allocation, processing of
a region and the latency it reports. A Unit wraps a hosted plugin, owns its
ports and caches its reported latency. The cached value is refreshed only
outside of the processing thread, and a change must be followed by a graph
rebuild.
*/
package plugin

import (
	"fmt"
	"sync/atomic"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
)

// Host is the capability set of a hosted plugin instance.
type Host interface {
	// Name of the plugin instance.
	Name() string
	// Ports describes ports of the plugin. UID and Owner are assigned by
	// the unit.
	Ports() []port.ID
	// AllocatePortBuffers is called after the unit created its ports and
	// every time port buffers are reallocated.
	AllocatePortBuffers(ports []*port.Port) error
	// Process runs the plugin for nframes starting at local offset in the
	// port buffers. Global is the timeline position of the first frame.
	Process(nframes, local int, global int64) error
	// ReportedLatency returns plugin latency in frames.
	ReportedLatency() int
}

// Unit is a graph unit that runs a hosted plugin.
type Unit struct {
	host    Host
	uid     string
	arena   *port.Arena
	ports   []*port.Port
	latency int64
	bypass  int32
}

// New creates a unit for the plugin host. Ports are allocated in the
// arena and handed over to the host.
func New(arena *port.Arena, host Host) (*Unit, error) {
	u := Unit{
		host:  host,
		uid:   fmt.Sprintf("plugin:%s", host.Name()),
		arena: arena,
	}
	for _, id := range host.Ports() {
		id.UID = ""
		id.Owner = u.uid
		u.ports = append(u.ports, arena.New(id))
	}
	if err := host.AllocatePortBuffers(u.ports); err != nil {
		u.Release()
		return nil, fmt.Errorf("plugin %s: allocate port buffers: %w", host.Name(), err)
	}
	u.latency = int64(host.ReportedLatency())
	return &u, nil
}

// Name returns the plugin name.
func (u *Unit) Name() string {
	return u.host.Name()
}

// Kind always returns graph.Plugin.
func (*Unit) Kind() graph.Kind {
	return graph.Plugin
}

// Ports returns ports of the plugin.
func (u *Unit) Ports() []*port.Port {
	return u.ports
}

// Host returns the wrapped plugin host.
func (u *Unit) Host() Host {
	return u.host
}

// Latency returns the cached latency of the plugin.
func (u *Unit) Latency() int {
	if u.Bypassed() {
		return 0
	}
	return int(atomic.LoadInt64(&u.latency))
}

// RefreshLatency reads latency reported by the host and returns true if
// it differs from the cached value.
func (u *Unit) RefreshLatency() bool {
	reported := int64(u.host.ReportedLatency())
	return atomic.SwapInt64(&u.latency, reported) != reported
}

// Bypassed returns true if the plugin is bypassed.
func (u *Unit) Bypassed() bool {
	return atomic.LoadInt32(&u.bypass) == 1
}

// SetBypass enables or disables the bypass. Bypass changes latency of the
// unit, so the graph must be rebuilt afterwards.
func (u *Unit) SetBypass(bypass bool) {
	var v int32
	if bypass {
		v = 1
	}
	atomic.StoreInt32(&u.bypass, v)
}

// Process calls the host. Bypassed units copy audio inputs to audio
// outputs in port order.
func (u *Unit) Process(t graph.Time) error {
	if u.Bypassed() {
		u.passThrough(t)
		return nil
	}
	return u.host.Process(t.Frames, t.Local, t.Global)
}

// ReallocatePortBuffers is called after the block length changed.
func (u *Unit) ReallocatePortBuffers() error {
	if err := u.host.AllocatePortBuffers(u.ports); err != nil {
		return fmt.Errorf("plugin %s: reallocate port buffers: %w", u.Name(), err)
	}
	return nil
}

// Input returns the input port with provided label or nil.
func (u *Unit) Input(label string) *port.Port {
	return u.find(label, port.Input)
}

// Output returns the output port with provided label or nil.
func (u *Unit) Output(label string) *port.Port {
	return u.find(label, port.Output)
}

// Release disconnects and frees all ports of the unit.
func (u *Unit) Release() {
	for _, p := range u.ports {
		u.arena.Release(p)
	}
	u.ports = nil
}

func (u *Unit) find(label string, flow port.Flow) *port.Port {
	for _, p := range u.ports {
		if p.Label == label && p.Flow == flow {
			return p
		}
	}
	return nil
}

func (u *Unit) passThrough(t graph.Time) {
	var in, out int
	for {
		for in < len(u.ports) && !isAudio(u.ports[in], port.Input) {
			in++
		}
		for out < len(u.ports) && !isAudio(u.ports[out], port.Output) {
			out++
		}
		if out == len(u.ports) {
			return
		}
		dst := u.ports[out].Buffer()[t.Local : t.Local+t.Frames]
		if in == len(u.ports) {
			for i := range dst {
				dst[i] = 0
			}
		} else {
			copy(dst, u.ports[in].Buffer()[t.Local:t.Local+t.Frames])
			in++
		}
		out++
	}
}

func isAudio(p *port.Port, flow port.Flow) bool {
	return p.Type == port.Audio && p.Flow == flow
}
