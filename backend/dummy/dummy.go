// Package dummy provides backends without hardware. The audio backend
// calls the engine from its own goroutine at the pace of the configured
// block length and discards the output.
package dummy

import (
	"sync"
	"sync/atomic"
	"time"

	"pipelined.dev/engine/backend"
)

func init() {
	backend.RegisterAudio(backend.Dummy, func() backend.Audio { return NewAudio() })
	backend.RegisterMIDI(backend.Dummy, func() backend.MIDI { return NewMIDI() })
}

// Audio is a clocked backend without hardware.
type Audio struct {
	engine backend.Engine
	config backend.Config
	manual bool

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	cycles int64
	frames int64
}

// AudioOption configures the dummy audio backend.
type AudioOption func(*Audio)

// Manual disables the clock goroutine. Cycles are run by calling
// Engine.Process directly.
func Manual() AudioOption {
	return func(a *Audio) {
		a.manual = true
	}
}

// NewAudio returns a new dummy audio backend.
func NewAudio(options ...AudioOption) *Audio {
	a := &Audio{}
	for _, option := range options {
		option(a)
	}
	return a
}

// Kind returns backend.Dummy.
func (*Audio) Kind() backend.Kind {
	return backend.Dummy
}

// Setup accepts requested config as is.
func (a *Audio) Setup(e backend.Engine, requested backend.Config) (backend.Config, error) {
	a.engine = e
	a.config = requested
	return requested, nil
}

// Activate starts or stops the clock goroutine.
func (a *Audio) Activate(active bool) error {
	if a.manual {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if active {
		if a.stop != nil {
			return nil
		}
		a.stop = make(chan struct{})
		a.done = make(chan struct{})
		go a.clock(a.stop, a.done)
		return nil
	}
	if a.stop == nil {
		return nil
	}
	close(a.stop)
	<-a.done
	a.stop, a.done = nil, nil
	return nil
}

func (a *Audio) clock(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	period := time.Duration(a.config.BlockLength) * time.Second / time.Duration(a.config.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// errors are reported by the engine itself.
			_ = a.engine.Process(a.config.BlockLength)
		}
	}
}

// PrepareProcess counts cycles.
func (a *Audio) PrepareProcess(int) {
	atomic.AddInt64(&a.cycles, 1)
}

// DeliverInput does nothing: there is no hardware input.
func (*Audio) DeliverInput(int) {}

// FillOutput discards the output.
func (a *Audio) FillOutput(nframes int) {
	atomic.AddInt64(&a.frames, int64(nframes))
}

// Cycles returns number of prepared cycles.
func (a *Audio) Cycles() int64 {
	return atomic.LoadInt64(&a.cycles)
}

// Frames returns number of discarded output frames.
func (a *Audio) Frames() int64 {
	return atomic.LoadInt64(&a.frames)
}

// TearDown stops the clock.
func (a *Audio) TearDown() error {
	return a.Activate(false)
}

// MIDI is a backend without MIDI devices.
type MIDI struct{}

// NewMIDI returns a new dummy MIDI backend.
func NewMIDI() *MIDI {
	return &MIDI{}
}

// Kind returns backend.Dummy.
func (*MIDI) Kind() backend.Kind {
	return backend.Dummy
}

// Setup does nothing.
func (*MIDI) Setup(backend.Engine) error { return nil }

// Activate does nothing.
func (*MIDI) Activate(bool) error { return nil }

// PrepareProcess does nothing.
func (*MIDI) PrepareProcess(int) {}

// DeliverInput does nothing.
func (*MIDI) DeliverInput(int) {}

// TearDown does nothing.
func (*MIDI) TearDown() error { return nil }
