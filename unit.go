package engine

import (
	"fmt"

	"pipelined.dev/engine/backend"
	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
)

// hardwareIn exposes hardware inputs to the graph. Backends write audio
// and MIDI into its ports before routing starts, so it has nothing to
// compute except merging manual presses.
type hardwareIn struct {
	audio       []*port.Port
	midiIn      *port.Port
	manualPress *port.Port
	presses     *backend.MIDIQueue
	ports       []*port.Port
}

func newHardwareIn(arena *port.Arena, channels, queueSize int) *hardwareIn {
	const owner = "engine:hardware-in"
	h := hardwareIn{
		presses: backend.NewMIDIQueue(queueSize),
	}
	for i := 0; i < channels; i++ {
		h.audio = append(h.audio, arena.New(port.ID{
			Label: fmt.Sprintf("capture %d", i+1),
			Owner: owner,
			Flow:  port.Output,
			Type:  port.Audio,
			Flags: port.ExposeToBackend,
		}))
	}
	h.midiIn = arena.New(port.ID{
		Label: "midi in",
		Owner: owner,
		Flow:  port.Output,
		Type:  port.Event,
		Flags: port.ExposeToBackend,
	})
	h.manualPress = arena.New(port.ID{
		Label: "manual press",
		Owner: owner,
		Flow:  port.Output,
		Type:  port.Event,
		Flags: port.ManualPress,
	})
	h.ports = append(h.ports, h.audio...)
	h.ports = append(h.ports, h.midiIn, h.manualPress)
	return &h
}

func (*hardwareIn) Name() string {
	return "hardware in"
}

func (*hardwareIn) Kind() graph.Kind {
	return graph.HardwarePort
}

func (h *hardwareIn) Ports() []*port.Port {
	return h.ports
}

func (*hardwareIn) Latency() int {
	return 0
}

// Process moves pending manual presses into the port.
func (h *hardwareIn) Process(t graph.Time) error {
	if t.Local == 0 {
		h.presses.Deliver(h.manualPress.Events())
	}
	return nil
}

func (h *hardwareIn) release(arena *port.Arena) {
	for _, p := range h.ports {
		arena.Release(p)
	}
}

// monitorOut is the terminal of the graph. Its inputs are read by the
// audio backend after the cycle.
type monitorOut struct {
	in    port.Stereo
	ports []*port.Port
}

func newMonitorOut(arena *port.Arena) *monitorOut {
	in := arena.NewStereo("monitor out", "engine:monitor-out", port.Input, port.ExposeToBackend)
	return &monitorOut{
		in:    in,
		ports: in.Ports(),
	}
}

func (*monitorOut) Name() string {
	return "monitor out"
}

func (*monitorOut) Kind() graph.Kind {
	return graph.Terminal
}

func (m *monitorOut) Ports() []*port.Port {
	return m.ports
}

func (*monitorOut) Latency() int {
	return 0
}

// Process does nothing: inputs already hold the mix.
func (*monitorOut) Process(graph.Time) error {
	return nil
}

// clear zeroes the first n frames of the output.
func (m *monitorOut) clear(n int) {
	m.in.L.ClearRange(0, n)
	m.in.R.ClearRange(0, n)
}

func (m *monitorOut) release(arena *port.Arena) {
	arena.Release(m.in.L)
	arena.Release(m.in.R)
}
