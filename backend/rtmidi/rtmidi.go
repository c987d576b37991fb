// Package rtmidi provides a MIDI backend on top of the RtMidi driver. All
// available inputs are opened and listened to; received messages are
// delivered to the engine on the next cycle.
package rtmidi

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"pipelined.dev/engine/backend"
	"pipelined.dev/engine/log"
)

func init() {
	backend.RegisterMIDI(backend.RtMidi, func() backend.MIDI { return New() })
}

// MIDI is an RtMidi backend.
type MIDI struct {
	log    logrus.FieldLogger
	engine backend.Engine
	driver *rtmididrv.Driver
	inputs []drivers.In
	stops  []func()
	queue  *backend.MIDIQueue
	active atomic.Bool
}

// New returns a new RtMidi backend.
func New() *MIDI {
	return &MIDI{
		log:   log.GetLogger().WithField("backend", backend.RtMidi),
		queue: backend.NewMIDIQueue(1024),
	}
}

// Kind returns backend.RtMidi.
func (*MIDI) Kind() backend.Kind {
	return backend.RtMidi
}

// Setup opens the driver and starts listening to every input.
func (m *MIDI) Setup(e backend.Engine) error {
	drv, err := rtmididrv.New()
	if err != nil {
		return fmt.Errorf("rtmidi driver: %w", err)
	}
	m.driver = drv
	m.engine = e
	ins, err := drv.Ins()
	if err != nil {
		_ = m.TearDown()
		return fmt.Errorf("rtmidi inputs: %w", err)
	}
	for _, in := range ins {
		if err := in.Open(); err != nil {
			m.log.WithError(err).Warnf("skip input %s", in)
			continue
		}
		stop, err := midi.ListenTo(in, m.receive, midi.HandleError(func(err error) {
			m.log.WithError(err).Warn("listener failed")
		}))
		if err != nil {
			_ = in.Close()
			m.log.WithError(err).Warnf("skip input %s", in)
			continue
		}
		m.inputs = append(m.inputs, in)
		m.stops = append(m.stops, stop)
	}
	m.log.Debugf("listening to %d inputs", len(m.inputs))
	return nil
}

func (m *MIDI) receive(msg midi.Message, _ int32) {
	if m.active.Load() {
		m.queue.Push(msg)
	}
}

// Activate enables or disables queueing of received messages.
func (m *MIDI) Activate(active bool) error {
	m.active.Store(active)
	return nil
}

// PrepareProcess does nothing.
func (*MIDI) PrepareProcess(int) {}

// DeliverInput moves queued messages into the engine MIDI input.
func (m *MIDI) DeliverInput(int) {
	m.queue.Deliver(m.engine.MIDIIn().Events())
}

// TearDown stops listeners and closes the driver.
func (m *MIDI) TearDown() error {
	for _, stop := range m.stops {
		stop()
	}
	m.stops = nil
	for _, in := range m.inputs {
		_ = in.Close()
	}
	m.inputs = nil
	if m.driver == nil {
		return nil
	}
	err := m.driver.Close()
	m.driver = nil
	return err
}
