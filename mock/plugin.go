package mock

import (
	"pipelined.dev/engine/port"
)

// Call is a recorded plugin call.
type Call struct {
	Frames int
	Local  int
	Global int64
}

// Plugin mocks a plugin.Host. It delays its mono input by the reported
// latency.
type Plugin struct {
	counter
	PluginName      string
	LatencyFrames   int
	ErrorOnCall     error
	ErrorOnAllocate error
	PanicOnCall     bool
	Calls           []Call
	Allocations     int

	in, out *port.Port
	delay   []float32
	pos     int
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return p.PluginName
}

// Ports describes a mono input and a mono output.
func (p *Plugin) Ports() []port.ID {
	return []port.ID{
		{Label: "in", Flow: port.Input, Type: port.Audio},
		{Label: "out", Flow: port.Output, Type: port.Audio, Flags: port.ReportsLatency},
	}
}

// AllocatePortBuffers keeps ports and allocates the delay line.
func (p *Plugin) AllocatePortBuffers(ports []*port.Port) error {
	p.Allocations++
	if p.ErrorOnAllocate != nil {
		return p.ErrorOnAllocate
	}
	for _, pp := range ports {
		if pp.Flow == port.Input {
			p.in = pp
		} else {
			p.out = pp
		}
	}
	p.resize()
	return nil
}

func (p *Plugin) resize() {
	if len(p.delay) != p.LatencyFrames {
		p.delay = make([]float32, p.LatencyFrames)
		p.pos = 0
	}
}

// Process delays the input.
func (p *Plugin) Process(nframes, local int, global int64) error {
	p.advance(nframes)
	p.Calls = append(p.Calls, Call{Frames: nframes, Local: local, Global: global})
	if p.PanicOnCall {
		panic(p.PluginName)
	}
	if p.ErrorOnCall != nil {
		return p.ErrorOnCall
	}
	p.resize()
	in := p.in.Buffer()[local : local+nframes]
	out := p.out.Buffer()[local : local+nframes]
	if len(p.delay) == 0 {
		copy(out, in)
		return nil
	}
	for i := range in {
		out[i] = p.delay[p.pos]
		p.delay[p.pos] = in[i]
		p.pos = (p.pos + 1) % len(p.delay)
	}
	return nil
}

// ReportedLatency returns configured latency.
func (p *Plugin) ReportedLatency() int {
	return p.LatencyFrames
}
