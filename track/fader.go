package track

import (
	"fmt"
	"math"
	"sync/atomic"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
)

// Fader applies gain to a stereo signal. It also adds the denormal bias of
// the cycle to its output.
type Fader struct {
	name  string
	arena *port.Arena
	In    port.Stereo
	Out   port.Stereo
	ports []*port.Port
	gain  uint32
	mute  int32
}

// NewFader returns a fader with unity gain.
func NewFader(arena *port.Arena, name string) *Fader {
	uid := fmt.Sprintf("fader:%s", name)
	f := &Fader{
		name:  name,
		arena: arena,
		In:    arena.NewStereo(name+" in", uid, port.Input, 0),
		Out:   arena.NewStereo(name+" out", uid, port.Output, 0),
	}
	f.ports = []*port.Port{f.In.L, f.In.R, f.Out.L, f.Out.R}
	f.SetGain(1)
	return f
}

// Name returns the fader name.
func (f *Fader) Name() string {
	return f.name
}

// Kind always returns graph.Fader.
func (*Fader) Kind() graph.Kind {
	return graph.Fader
}

// Ports returns inputs and outputs of the fader.
func (f *Fader) Ports() []*port.Port {
	return f.ports
}

// Latency of the fader is zero.
func (*Fader) Latency() int {
	return 0
}

// Gain returns the amplitude multiplier.
func (f *Fader) Gain() float32 {
	return math.Float32frombits(atomic.LoadUint32(&f.gain))
}

// SetGain sets the amplitude multiplier.
func (f *Fader) SetGain(gain float32) {
	atomic.StoreUint32(&f.gain, math.Float32bits(gain))
}

// Muted returns true if the fader is muted.
func (f *Fader) Muted() bool {
	return atomic.LoadInt32(&f.mute) == 1
}

// SetMute mutes or unmutes the fader.
func (f *Fader) SetMute(mute bool) {
	var v int32
	if mute {
		v = 1
	}
	atomic.StoreInt32(&f.mute, v)
}

// Process applies the gain.
func (f *Fader) Process(t graph.Time) error {
	gain := f.Gain()
	if f.Muted() {
		gain = 0
	}
	apply(f.In.L.Buffer(), f.Out.L.Buffer(), t, gain)
	apply(f.In.R.Buffer(), f.Out.R.Buffer(), t, gain)
	return nil
}

func apply(in, out []float32, t graph.Time, gain float32) {
	in = in[t.Local : t.Local+t.Frames]
	out = out[t.Local : t.Local+t.Frames]
	for i := range out {
		out[i] = in[i]*gain + t.Denormal
	}
}

// Release frees ports of the fader.
func (f *Fader) Release() {
	for _, p := range f.Ports() {
		f.arena.Release(p)
	}
}
