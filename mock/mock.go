// Package mock provides mocks for engine components and allows to execute
// integration tests.
package mock

import (
	"errors"
	"sync"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
)

// ErrTest is a generic error returned by mocks on request.
var ErrTest = errors.New("mock error")

// counter counts calls and frames.
type counter struct {
	calls  int
	frames int
}

// advance counter's metrics.
func (c *counter) advance(frames int) {
	c.calls++
	c.frames += frames
}

// Count returns calls and frames metrics.
func (c *counter) Count() (int, int) {
	return c.calls, c.frames
}

// Reset resets counter's metrics.
func (c *counter) reset() {
	c.calls, c.frames = 0, 0
}

// Recorder collects names of processed units in processing order. It's
// safe to share it between units processed by different workers.
type Recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *Recorder) record(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

// Names returns recorded names.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

// Reset drops recorded names.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.names = r.names[:0]
	r.mu.Unlock()
}

// Unit mocks a graph.Unit with mono audio ports. Inputs are summed and
// passed to every output.
type Unit struct {
	counter
	UnitName      string
	UnitKind      graph.Kind
	LatencyFrames int
	ErrorOnCall   error
	PanicOnCall   bool
	// OnCall is called on every Process call if set.
	OnCall   func()
	Recorder *Recorder
	// Times are regions passed to the unit.
	Times []graph.Time
	In    []*port.Port
	Out   []*port.Port
}

// NewUnit returns a unit with provided number of audio inputs and outputs.
func NewUnit(arena *port.Arena, name string, inputs, outputs int) *Unit {
	u := Unit{
		UnitName: name,
	}
	for i := 0; i < inputs; i++ {
		u.In = append(u.In, arena.New(port.ID{Label: name + " in", Owner: name, Flow: port.Input, Type: port.Audio}))
	}
	for i := 0; i < outputs; i++ {
		u.Out = append(u.Out, arena.New(port.ID{Label: name + " out", Owner: name, Flow: port.Output, Type: port.Audio}))
	}
	return &u
}

// Name returns the unit name.
func (u *Unit) Name() string {
	return u.UnitName
}

// Kind returns configured kind.
func (u *Unit) Kind() graph.Kind {
	return u.UnitKind
}

// Ports returns inputs followed by outputs.
func (u *Unit) Ports() []*port.Port {
	ports := make([]*port.Port, 0, len(u.In)+len(u.Out))
	ports = append(ports, u.In...)
	return append(ports, u.Out...)
}

// Latency returns configured latency.
func (u *Unit) Latency() int {
	return u.LatencyFrames
}

// Process sums inputs into outputs.
func (u *Unit) Process(t graph.Time) error {
	u.advance(t.Frames)
	u.Times = append(u.Times, t)
	u.Recorder.record(u.UnitName)
	if u.OnCall != nil {
		u.OnCall()
	}
	if u.PanicOnCall {
		panic(u.UnitName)
	}
	if u.ErrorOnCall != nil {
		return u.ErrorOnCall
	}
	for _, out := range u.Out {
		buf := out.Buffer()[t.Local : t.Local+t.Frames]
		for i := range buf {
			buf[i] = 0
		}
		for _, in := range u.In {
			src := in.Buffer()[t.Local : t.Local+t.Frames]
			for i := range buf {
				buf[i] += src[i]
			}
		}
	}
	return nil
}

// Source mocks a timeline reader. While rolling it writes Value to its
// output and 1 at the Impulse timeline position.
type Source struct {
	counter
	UnitName string
	Value    float32
	// Impulse is a timeline position of the impulse. Negative disables
	// the impulse.
	Impulse     int64
	ErrorOnCall error
	Out         *port.Port
}

// NewSource returns a source without impulse.
func NewSource(arena *port.Arena, name string) *Source {
	return &Source{
		UnitName: name,
		Impulse:  -1,
		Out:      arena.New(port.ID{Label: name + " out", Owner: name, Flow: port.Output, Type: port.Audio}),
	}
}

// Name returns the source name.
func (s *Source) Name() string {
	return s.UnitName
}

// Kind always returns graph.Track.
func (*Source) Kind() graph.Kind {
	return graph.Track
}

// Ports returns the output.
func (s *Source) Ports() []*port.Port {
	return []*port.Port{s.Out}
}

// Latency of the source is zero.
func (*Source) Latency() int {
	return 0
}

// Process writes the signal.
func (s *Source) Process(t graph.Time) error {
	s.advance(t.Frames)
	if s.ErrorOnCall != nil {
		return s.ErrorOnCall
	}
	buf := s.Out.Buffer()[t.Local : t.Local+t.Frames]
	for i := range buf {
		buf[i] = 0
		if !t.Rolling {
			continue
		}
		buf[i] = s.Value
		if t.Global+int64(i) == s.Impulse {
			buf[i] = 1
		}
	}
	return nil
}

// Sink mocks a terminal unit. It appends its input to the buffer.
// Buffer is not thread-safe, so should not be checked while cycles run.
type Sink struct {
	counter
	UnitName string
	Discard  bool
	In       *port.Port
	buffer   []float32
}

// NewSink returns a sink.
func NewSink(arena *port.Arena, name string) *Sink {
	return &Sink{
		UnitName: name,
		In:       arena.New(port.ID{Label: name + " in", Owner: name, Flow: port.Input, Type: port.Audio}),
	}
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return s.UnitName
}

// Kind always returns graph.Terminal.
func (*Sink) Kind() graph.Kind {
	return graph.Terminal
}

// Ports returns the input.
func (s *Sink) Ports() []*port.Port {
	return []*port.Port{s.In}
}

// Latency of the sink is zero.
func (*Sink) Latency() int {
	return 0
}

// Process appends the input to the buffer.
func (s *Sink) Process(t graph.Time) error {
	s.advance(t.Frames)
	if !s.Discard {
		s.buffer = append(s.buffer, s.In.Buffer()[t.Local:t.Local+t.Frames]...)
	}
	return nil
}

// Buffer returns sink's buffer.
func (s *Sink) Buffer() []float32 {
	return s.buffer
}

// Reset drops the buffer and metrics.
func (s *Sink) Reset() {
	s.buffer = nil
	s.reset()
}
