package track

import (
	"fmt"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
)

// MaxVoices is the number of samples played at the same time.
const MaxVoices = 32

// Play is a request to play a sample.
type Play struct {
	Asset *Asset
	// Delay in frames from the start of the next processed region.
	Delay int
	Gain  float32
}

// voice is a sample being played.
type voice struct {
	asset *Asset
	pos   int
	delay int
	gain  float32
}

// render mixes the voice into the buffers. It returns false once the
// whole sample is played.
func (v *voice) render(l, r []float32) bool {
	n := len(l)
	if v.delay >= n {
		v.delay -= n
		return true
	}
	i := v.delay
	v.delay = 0
	left, right := v.asset.channel(0), v.asset.channel(1)
	for ; i < n && v.pos < len(left); i++ {
		l[i] += left[v.pos] * v.gain
		r[i] += right[v.pos] * v.gain
		v.pos++
	}
	return v.pos < len(left)
}

// voices is a fixed set of active voices.
type voices struct {
	active [MaxVoices]voice
	n      int
}

func (vs *voices) start(v voice) bool {
	if vs.n == len(vs.active) {
		return false
	}
	vs.active[vs.n] = v
	vs.n++
	return true
}

func (vs *voices) render(l, r []float32) {
	for i := 0; i < vs.n; {
		if vs.active[i].render(l, r) {
			i++
			continue
		}
		vs.n--
		vs.active[i] = vs.active[vs.n]
		vs.active[vs.n] = voice{}
	}
}

func (vs *voices) stop() {
	for i := range vs.active[:vs.n] {
		vs.active[i] = voice{}
	}
	vs.n = 0
}

// SampleProcessor plays one-shot samples, e.g. auditioned files. Samples
// are queued from any goroutine and picked up by the next cycle.
type SampleProcessor struct {
	name  string
	arena *port.Arena
	Out   port.Stereo
	ports []*port.Port
	queue chan Play
	voices
}

// NewSampleProcessor returns a sample processor.
func NewSampleProcessor(arena *port.Arena, name string) *SampleProcessor {
	uid := fmt.Sprintf("sampler:%s", name)
	s := &SampleProcessor{
		name:  name,
		arena: arena,
		Out:   arena.NewStereo(name+" out", uid, port.Output, 0),
		queue: make(chan Play, MaxVoices),
	}
	s.ports = s.Out.Ports()
	return s
}

// Name returns the processor name.
func (s *SampleProcessor) Name() string {
	return s.name
}

// Kind always returns graph.SampleProcessor.
func (*SampleProcessor) Kind() graph.Kind {
	return graph.SampleProcessor
}

// Ports returns the stereo output.
func (s *SampleProcessor) Ports() []*port.Port {
	return s.ports
}

// Latency of the processor is zero.
func (*SampleProcessor) Latency() int {
	return 0
}

// Queue requests to play the sample. It never blocks and returns false if
// too many samples are queued.
func (s *SampleProcessor) Queue(p Play) bool {
	if p.Asset == nil || p.Asset.Len() == 0 {
		return false
	}
	if p.Gain == 0 {
		p.Gain = 1
	}
	select {
	case s.queue <- p:
		return true
	default:
		return false
	}
}

// Stop drops all playing and queued samples.
func (s *SampleProcessor) Stop() {
	for {
		select {
		case <-s.queue:
		default:
			s.voices.stop()
			return
		}
	}
}

// Playing returns number of active voices.
func (s *SampleProcessor) Playing() int {
	return s.voices.n
}

// Process starts queued samples and renders active voices.
func (s *SampleProcessor) Process(t graph.Time) error {
	l := s.Out.L.Buffer()[t.Local : t.Local+t.Frames]
	r := s.Out.R.Buffer()[t.Local : t.Local+t.Frames]
	for i := range l {
		l[i] = 0
		r[i] = 0
	}
	for s.voices.n < MaxVoices {
		select {
		case p := <-s.queue:
			s.start(voice{asset: p.Asset, delay: p.Delay, gain: p.Gain})
			continue
		default:
		}
		break
	}
	s.render(l, r)
	return nil
}

// Release frees ports of the processor.
func (s *SampleProcessor) Release() {
	s.arena.Release(s.Out.L)
	s.arena.Release(s.Out.R)
}
