// Package portmidi provides a MIDI backend that polls the default PortMidi
// input device.
package portmidi

import (
	"fmt"
	"sync"
	"time"

	"github.com/rakyll/portmidi"
	"github.com/sirupsen/logrus"

	"pipelined.dev/engine/backend"
	"pipelined.dev/engine/log"
)

// DefaultPollInterval is the pace the input device is polled with.
const DefaultPollInterval = time.Millisecond

func init() {
	backend.RegisterMIDI(backend.PortMidi, func() backend.MIDI { return New() })
}

// MIDI is a PortMidi backend.
type MIDI struct {
	log      logrus.FieldLogger
	engine   backend.Engine
	stream   *portmidi.Stream
	interval time.Duration
	queue    *backend.MIDIQueue

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New returns a new PortMidi backend.
func New() *MIDI {
	return &MIDI{
		log:      log.GetLogger().WithField("backend", backend.PortMidi),
		interval: DefaultPollInterval,
		queue:    backend.NewMIDIQueue(1024),
	}
}

// Kind returns backend.PortMidi.
func (*MIDI) Kind() backend.Kind {
	return backend.PortMidi
}

// Setup initializes PortMidi and opens the default input device.
func (m *MIDI) Setup(e backend.Engine) error {
	if err := portmidi.Initialize(); err != nil {
		return fmt.Errorf("portmidi initialize: %w", err)
	}
	id := portmidi.DefaultInputDeviceID()
	if id < 0 {
		_ = portmidi.Terminate()
		return fmt.Errorf("portmidi: no default input device")
	}
	stream, err := portmidi.NewInputStream(id, 1024)
	if err != nil {
		_ = portmidi.Terminate()
		return fmt.Errorf("portmidi open input: %w", err)
	}
	if info := portmidi.Info(id); info != nil {
		m.log.Debugf("opened input %s", info.Name)
	}
	m.engine = e
	m.stream = stream
	return nil
}

// Activate starts or stops polling of the input device.
func (m *MIDI) Activate(active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		if m.stop != nil || m.stream == nil {
			return nil
		}
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.poll(m.stop, m.done)
		return nil
	}
	if m.stop == nil {
		return nil
	}
	close(m.stop)
	<-m.done
	m.stop, m.done = nil, nil
	return nil
}

func (m *MIDI) poll(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ok, err := m.stream.Poll()
		if err != nil {
			m.log.WithError(err).Warn("poll failed")
			continue
		}
		if !ok {
			continue
		}
		events, err := m.stream.Read(1024)
		if err != nil {
			m.log.WithError(err).Warn("read failed")
			continue
		}
		for _, ev := range events {
			m.queue.Push([]byte{byte(ev.Status), byte(ev.Data1), byte(ev.Data2)}[:length(ev.Status)])
		}
	}
}

// length returns size of the channel message with provided status byte.
func length(status int64) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 2
	}
	return 3
}

// PrepareProcess does nothing.
func (*MIDI) PrepareProcess(int) {}

// DeliverInput moves queued messages into the engine MIDI input.
func (m *MIDI) DeliverInput(int) {
	m.queue.Deliver(m.engine.MIDIIn().Events())
}

// TearDown stops polling, closes the stream and terminates PortMidi.
func (m *MIDI) TearDown() error {
	if err := m.Activate(false); err != nil {
		return err
	}
	if m.stream == nil {
		return nil
	}
	err := m.stream.Close()
	m.stream = nil
	if terr := portmidi.Terminate(); err == nil {
		err = terr
	}
	return err
}
