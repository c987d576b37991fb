// Package transport keeps the play state and the playhead of a session.
//
// Play state changes are requested from any thread and applied by the
// engine at cycle-prepare time only: RollRequested becomes Rolling and
// PauseRequested becomes Paused.
package transport

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// PlayState of the transport.
type PlayState int32

// Play states.
const (
	Stopped PlayState = iota
	RollRequested
	Rolling
	PauseRequested
	Paused
)

// DefaultTicksPerBeat is the musical time resolution.
const DefaultTicksPerBeat = 960

func (s PlayState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case RollRequested:
		return "roll requested"
	case Rolling:
		return "rolling"
	case PauseRequested:
		return "pause requested"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Transport holds the play state, the playhead and the tempo.
type Transport struct {
	state    int32
	playhead int64
	// metronome is 1 if clicks must be queued while rolling.
	metronome int32

	// mu serializes tempo changes. Values read by the processing thread
	// are published atomically.
	mu           sync.RWMutex
	bpm          float64
	beatsPerBar  int
	beatUnit     int
	ticksPerBeat int

	meter         atomic.Int32
	framesPerTick atomic.Uint64
}

// Option configures the transport.
type Option func(*Transport)

// WithTempo sets bpm and time signature.
func WithTempo(bpm float64, beatsPerBar, beatUnit int) Option {
	return func(t *Transport) {
		t.bpm = bpm
		t.beatsPerBar = beatsPerBar
		t.beatUnit = beatUnit
	}
}

// WithMetronome enables the metronome.
func WithMetronome(enabled bool) Option {
	return func(t *Transport) {
		t.SetMetronome(enabled)
	}
}

// New returns a stopped transport at position zero with 120 bpm in 4/4.
func New(options ...Option) *Transport {
	t := &Transport{
		bpm:          120,
		beatsPerBar:  4,
		beatUnit:     4,
		ticksPerBeat: DefaultTicksPerBeat,
	}
	for _, option := range options {
		option(t)
	}
	t.meter.Store(int32(t.beatsPerBar))
	return t
}

// State returns current play state.
func (t *Transport) State() PlayState {
	return PlayState(atomic.LoadInt32(&t.state))
}

// IsRolling returns true if the transport is rolling.
func (t *Transport) IsRolling() bool {
	return t.State() == Rolling
}

// RequestRoll asks the engine to start rolling on the next cycle.
func (t *Transport) RequestRoll() {
	for {
		s := t.State()
		if s == Rolling || s == RollRequested {
			return
		}
		if atomic.CompareAndSwapInt32(&t.state, int32(s), int32(RollRequested)) {
			return
		}
	}
}

// RequestPause asks the engine to pause on the next cycle.
func (t *Transport) RequestPause() {
	for {
		s := t.State()
		if s != Rolling && s != RollRequested {
			return
		}
		if atomic.CompareAndSwapInt32(&t.state, int32(s), int32(PauseRequested)) {
			return
		}
	}
}

// Stop stops the transport immediately.
func (t *Transport) Stop() {
	atomic.StoreInt32(&t.state, int32(Stopped))
}

// Prepare applies requested state transitions. It must be called only by
// the engine at cycle-prepare time. The returned state is the new one.
func (t *Transport) Prepare() (state PlayState, changed bool) {
	switch s := t.State(); s {
	case RollRequested:
		if atomic.CompareAndSwapInt32(&t.state, int32(RollRequested), int32(Rolling)) {
			return Rolling, true
		}
	case PauseRequested:
		if atomic.CompareAndSwapInt32(&t.state, int32(PauseRequested), int32(Paused)) {
			return Paused, true
		}
	}
	return t.State(), false
}

// Playhead returns the playhead position in frames.
func (t *Transport) Playhead() int64 {
	return atomic.LoadInt64(&t.playhead)
}

// AddToPlayhead moves the playhead forward.
func (t *Transport) AddToPlayhead(frames int) {
	atomic.AddInt64(&t.playhead, int64(frames))
}

// Locate moves the playhead to the frame.
func (t *Transport) Locate(frame int64) {
	atomic.StoreInt64(&t.playhead, frame)
}

// Metronome returns true if the metronome is enabled.
func (t *Transport) Metronome() bool {
	return atomic.LoadInt32(&t.metronome) == 1
}

// SetMetronome enables or disables the metronome.
func (t *Transport) SetMetronome(enabled bool) {
	var v int32
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&t.metronome, v)
}

// Tempo returns bpm and time signature.
func (t *Transport) Tempo() (bpm float64, beatsPerBar, beatUnit int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bpm, t.beatsPerBar, t.beatUnit
}

// SetTempo changes bpm and time signature. Frames per tick must be
// updated afterwards.
func (t *Transport) SetTempo(bpm float64, beatsPerBar, beatUnit int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bpm = bpm
	t.beatsPerBar = beatsPerBar
	t.beatUnit = beatUnit
	t.meter.Store(int32(beatsPerBar))
}

// TicksPerBar returns number of ticks in one bar.
func (t *Transport) TicksPerBar() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ticksPerBeat * t.beatsPerBar
}

// UpdateFramesPerTick recalculates frames per tick for the sample rate.
func (t *Transport) UpdateFramesPerTick(sampleRate int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ticksPerBar := float64(t.ticksPerBeat * t.beatsPerBar)
	framesPerTick := float64(sampleRate) * 60 * float64(t.beatsPerBar) /
		(t.bpm * ticksPerBar)
	t.framesPerTick.Store(math.Float64bits(framesPerTick))
	return framesPerTick
}

// FramesPerTick returns the value calculated by UpdateFramesPerTick. It
// never blocks.
func (t *Transport) FramesPerTick() float64 {
	return math.Float64frombits(t.framesPerTick.Load())
}

// FramesPerBeat returns number of frames in one beat, rounded. It never
// blocks.
func (t *Transport) FramesPerBeat() int64 {
	return int64(math.Round(t.FramesPerTick() * float64(t.ticksPerBeat)))
}

// BeatsPerBar returns numerator of the time signature. It never blocks.
func (t *Transport) BeatsPerBar() int {
	return int(t.meter.Load())
}
