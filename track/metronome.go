package track

import (
	"fmt"
	"math"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
	"pipelined.dev/engine/transport"
)

// Click frequencies of the metronome.
const (
	EmphasisFrequency = 1760.0
	NormalFrequency   = 880.0
)

// Click returns a mono sine burst with linear decay.
func Click(sampleRate int, frequency float64, length int) *Asset {
	data := make([]float32, length)
	for i := range data {
		decay := 1 - float64(i)/float64(length)
		data[i] = float32(0.5 * decay * math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate)))
	}
	return NewAsset(sampleRate, data)
}

// Metronome plays a click at every beat while the transport is rolling
// and the metronome is enabled. The first beat of a bar is emphasized.
type Metronome struct {
	name      string
	arena     *port.Arena
	transport *transport.Transport
	Out       port.Stereo
	ports     []*port.Port
	emphasis  *Asset
	normal    *Asset
	voices
}

// NewMetronome returns a metronome for the sample rate.
func NewMetronome(arena *port.Arena, t *transport.Transport, sampleRate int) *Metronome {
	m := &Metronome{
		name:      "metronome",
		arena:     arena,
		transport: t,
	}
	m.Out = arena.NewStereo("metronome out", fmt.Sprintf("metronome:%s", m.name), port.Output, 0)
	m.ports = m.Out.Ports()
	m.SetSampleRate(sampleRate)
	return m
}

// SetSampleRate regenerates clicks.
func (m *Metronome) SetSampleRate(sampleRate int) {
	length := sampleRate / 20
	m.emphasis = Click(sampleRate, EmphasisFrequency, length)
	m.normal = Click(sampleRate, NormalFrequency, length)
}

// Name returns "metronome".
func (m *Metronome) Name() string {
	return m.name
}

// Kind always returns graph.Metronome.
func (*Metronome) Kind() graph.Kind {
	return graph.Metronome
}

// Ports returns the stereo output.
func (m *Metronome) Ports() []*port.Port {
	return m.ports
}

// Latency of the metronome is zero.
func (*Metronome) Latency() int {
	return 0
}

// Process starts clicks for beats inside the region and renders them.
func (m *Metronome) Process(t graph.Time) error {
	l := m.Out.L.Buffer()[t.Local : t.Local+t.Frames]
	r := m.Out.R.Buffer()[t.Local : t.Local+t.Frames]
	for i := range l {
		l[i] = 0
		r[i] = 0
	}
	if !t.Rolling || !m.transport.Metronome() {
		m.voices.stop()
		return nil
	}
	framesPerBeat := m.transport.FramesPerBeat()
	if framesPerBeat > 0 {
		beatsPerBar := int64(m.transport.BeatsPerBar())
		end := t.Global + int64(t.Frames)
		// first beat at or after the region start.
		beat := (t.Global + framesPerBeat - 1) / framesPerBeat
		if t.Global < 0 {
			beat = 0
		}
		for ; beat*framesPerBeat < end; beat++ {
			click := m.normal
			if beatsPerBar > 0 && beat%beatsPerBar == 0 {
				click = m.emphasis
			}
			m.start(voice{
				asset: click,
				delay: int(beat*framesPerBeat - t.Global),
				gain:  1,
			})
		}
	}
	m.render(l, r)
	return nil
}

// Release frees ports of the metronome.
func (m *Metronome) Release() {
	m.arena.Release(m.Out.L)
	m.arena.Release(m.Out.R)
}
