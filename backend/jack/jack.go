// Package jack provides audio and MIDI backends for the JACK server.
//
// The audio client registers one JACK port per engine input and output
// port and drives the engine from the JACK process callback. The MIDI
// client registers a single MIDI input and queues incoming short messages
// for the next engine cycle.
package jack

import (
	"fmt"

	"github.com/xthexder/go-jack"

	"pipelined.dev/engine/backend"
)

func init() {
	backend.RegisterAudio(backend.Jack, func() backend.Audio { return NewAudio("engine") })
	backend.RegisterMIDI(backend.Jack, func() backend.MIDI { return NewMIDI("engine-midi") })
}

// Audio is a JACK audio client.
type Audio struct {
	name    string
	engine  backend.Engine
	client  *jack.Client
	inputs  []*jack.Port
	outputs []*jack.Port
	nframes uint32
}

// NewAudio returns a backend that opens a JACK client with provided name.
func NewAudio(name string) *Audio {
	return &Audio{name: name}
}

// Kind returns backend.Jack.
func (*Audio) Kind() backend.Kind {
	return backend.Jack
}

// Setup opens the client and registers ports. JACK dictates sample rate
// and block length.
func (a *Audio) Setup(e backend.Engine, requested backend.Config) (backend.Config, error) {
	client, status := jack.ClientOpen(a.name, jack.NoStartServer)
	if status != 0 {
		return requested, fmt.Errorf("jack open client: %w", jack.StrError(status))
	}
	a.client = client
	a.engine = e
	if code := client.SetProcessCallback(a.process); code != 0 {
		_ = a.TearDown()
		return requested, fmt.Errorf("jack set process callback: %w", jack.StrError(code))
	}
	for i, p := range e.Inputs() {
		jp := client.PortRegister(fmt.Sprintf("in_%d", i+1), jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
		if jp == nil {
			_ = a.TearDown()
			return requested, fmt.Errorf("jack register port for %v", p)
		}
		a.inputs = append(a.inputs, jp)
	}
	for i, p := range e.Outputs() {
		jp := client.PortRegister(fmt.Sprintf("out_%d", i+1), jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0)
		if jp == nil {
			_ = a.TearDown()
			return requested, fmt.Errorf("jack register port for %v", p)
		}
		a.outputs = append(a.outputs, jp)
	}
	return backend.Config{
		SampleRate:  int(client.GetSampleRate()),
		BlockLength: int(client.GetBufferSize()),
	}, nil
}

func (a *Audio) process(nframes uint32) int {
	a.nframes = nframes
	for _, jp := range a.outputs {
		out := jp.GetBuffer(nframes)
		for j := range out {
			out[j] = 0
		}
	}
	// errors are reported by the engine itself.
	_ = a.engine.Process(int(nframes))
	return 0
}

// Activate activates or deactivates the client.
func (a *Audio) Activate(active bool) error {
	if a.client == nil {
		return nil
	}
	var code int
	if active {
		code = a.client.Activate()
	} else {
		code = a.client.Deactivate()
	}
	if code != 0 {
		return fmt.Errorf("jack activate %v: %w", active, jack.StrError(code))
	}
	return nil
}

// PrepareProcess does nothing.
func (*Audio) PrepareProcess(int) {}

// DeliverInput copies JACK input buffers into engine ports.
func (a *Audio) DeliverInput(nframes int) {
	ports := a.engine.Inputs()
	for i, jp := range a.inputs {
		in := jp.GetBuffer(a.nframes)
		buf := ports[i].Buffer()[:nframes]
		for j := range buf {
			buf[j] = float32(in[j])
		}
	}
}

// FillOutput copies engine ports into JACK output buffers.
func (a *Audio) FillOutput(nframes int) {
	ports := a.engine.Outputs()
	for i, jp := range a.outputs {
		out := jp.GetBuffer(a.nframes)
		buf := ports[i].Buffer()[:nframes]
		for j := range buf {
			out[j] = jack.AudioSample(buf[j])
		}
	}
}

// TearDown closes the client.
func (a *Audio) TearDown() error {
	if a.client == nil {
		return nil
	}
	code := a.client.Close()
	a.client = nil
	a.inputs, a.outputs = nil, nil
	if code != 0 {
		return fmt.Errorf("jack close client: %w", jack.StrError(code))
	}
	return nil
}

// MIDI is a JACK MIDI client.
type MIDI struct {
	name   string
	engine backend.Engine
	client *jack.Client
	input  *jack.Port
	queue  *backend.MIDIQueue
}

// NewMIDI returns a backend that opens a JACK client with provided name.
func NewMIDI(name string) *MIDI {
	return &MIDI{
		name:  name,
		queue: backend.NewMIDIQueue(1024),
	}
}

// Kind returns backend.Jack.
func (*MIDI) Kind() backend.Kind {
	return backend.Jack
}

// Setup opens the client and registers the MIDI input.
func (m *MIDI) Setup(e backend.Engine) error {
	client, status := jack.ClientOpen(m.name, jack.NoStartServer)
	if status != 0 {
		return fmt.Errorf("jack open client: %w", jack.StrError(status))
	}
	m.client = client
	m.engine = e
	if code := client.SetProcessCallback(m.process); code != 0 {
		_ = m.TearDown()
		return fmt.Errorf("jack set process callback: %w", jack.StrError(code))
	}
	m.input = client.PortRegister("midi_in", jack.DEFAULT_MIDI_TYPE, jack.PortIsInput, 0)
	if m.input == nil {
		_ = m.TearDown()
		return fmt.Errorf("jack register midi port")
	}
	return nil
}

func (m *MIDI) process(nframes uint32) int {
	for _, ev := range m.input.GetMidiEvents(nframes) {
		m.queue.Push(ev.Buffer)
	}
	return 0
}

// Activate activates or deactivates the client.
func (m *MIDI) Activate(active bool) error {
	if m.client == nil {
		return nil
	}
	var code int
	if active {
		code = m.client.Activate()
	} else {
		code = m.client.Deactivate()
	}
	if code != 0 {
		return fmt.Errorf("jack activate %v: %w", active, jack.StrError(code))
	}
	return nil
}

// PrepareProcess does nothing.
func (*MIDI) PrepareProcess(int) {}

// DeliverInput moves queued messages into the engine MIDI input.
func (m *MIDI) DeliverInput(int) {
	m.queue.Deliver(m.engine.MIDIIn().Events())
}

// TearDown closes the client.
func (m *MIDI) TearDown() error {
	if m.client == nil {
		return nil
	}
	code := m.client.Close()
	m.client = nil
	m.input = nil
	if code != 0 {
		return fmt.Errorf("jack close client: %w", jack.StrError(code))
	}
	return nil
}
