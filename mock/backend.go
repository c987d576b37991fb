package mock

import (
	"gitlab.com/gomidi/midi/v2"

	"pipelined.dev/engine/backend"
)

// Hooks allows to mock backend lifecycle.
type Hooks struct {
	Activated bool
	TornDown  bool

	ErrorOnSetup    error
	ErrorOnActivate error
	ErrorOnTearDown error
}

// Audio mocks a backend.Audio. Cycles are driven by the test through Run.
// Input is delivered from the start on, output is captured.
type Audio struct {
	counter
	Hooks
	BackendKind backend.Kind
	// Config overrides the requested config if not zero.
	Config backend.Config
	Input  [][]float32
	engine backend.Engine
	pos    int
	output [][]float32
}

// Kind returns configured kind.
func (a *Audio) Kind() backend.Kind {
	return a.BackendKind
}

// Setup keeps the engine.
func (a *Audio) Setup(e backend.Engine, requested backend.Config) (backend.Config, error) {
	if a.ErrorOnSetup != nil {
		return requested, a.ErrorOnSetup
	}
	a.engine = e
	a.output = make([][]float32, len(e.Outputs()))
	if a.Config != (backend.Config{}) {
		return a.Config, nil
	}
	return requested, nil
}

// Activate records activation.
func (a *Audio) Activate(active bool) error {
	if a.ErrorOnActivate != nil {
		return a.ErrorOnActivate
	}
	a.Activated = active
	return nil
}

// Run calls the engine like a hardware callback would.
func (a *Audio) Run(nframes int) error {
	return a.engine.Process(nframes)
}

// PrepareProcess counts cycles.
func (a *Audio) PrepareProcess(nframes int) {
	a.advance(nframes)
}

// DeliverInput copies the next region of the input.
func (a *Audio) DeliverInput(nframes int) {
	for i, p := range a.engine.Inputs() {
		if i == len(a.Input) {
			break
		}
		buf := p.Buffer()[:nframes]
		if a.pos < len(a.Input[i]) {
			copy(buf, a.Input[i][a.pos:])
		}
	}
	a.pos += nframes
}

// FillOutput captures the output.
func (a *Audio) FillOutput(nframes int) {
	for i, p := range a.engine.Outputs() {
		a.output[i] = append(a.output[i], p.Buffer()[:nframes]...)
	}
}

// Output returns captured output, one slice per engine output.
func (a *Audio) Output() [][]float32 {
	return a.output
}

// TearDown records the teardown.
func (a *Audio) TearDown() error {
	a.TornDown = true
	return a.ErrorOnTearDown
}

// MIDI mocks a backend.MIDI. Sent messages are delivered on the next
// cycle.
type MIDI struct {
	Hooks
	BackendKind backend.Kind
	engine      backend.Engine
	queue       []midi.Message
}

// Kind returns configured kind.
func (m *MIDI) Kind() backend.Kind {
	return m.BackendKind
}

// Setup keeps the engine.
func (m *MIDI) Setup(e backend.Engine) error {
	if m.ErrorOnSetup != nil {
		return m.ErrorOnSetup
	}
	m.engine = e
	return nil
}

// Activate records activation.
func (m *MIDI) Activate(active bool) error {
	if m.ErrorOnActivate != nil {
		return m.ErrorOnActivate
	}
	m.Activated = active
	return nil
}

// Send queues the message.
func (m *MIDI) Send(msg midi.Message) {
	m.queue = append(m.queue, msg)
}

// PrepareProcess does nothing.
func (*MIDI) PrepareProcess(int) {}

// DeliverInput delivers queued messages at frame 0.
func (m *MIDI) DeliverInput(int) {
	events := m.engine.MIDIIn().Events()
	for _, msg := range m.queue {
		events.Add(0, msg)
	}
	m.queue = m.queue[:0]
}

// TearDown records the teardown.
func (m *MIDI) TearDown() error {
	m.TornDown = true
	return m.ErrorOnTearDown
}
