/*
Package backend defines capabilities of audio and MIDI backends.

A backend owns the hardware callback thread and calls Engine.Process from
it once per period. Within the cycle the engine calls back into the
backend: PrepareProcess first, then DeliverInput to copy hardware input
into engine ports and, after the graph is processed, FillOutput to copy
the monitor output to the hardware.

Backends are registered by kind, the same way database drivers are: the
package implementing a backend calls RegisterAudio or RegisterMIDI from its init function and
the program imports it for side effects.
*/
package backend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pipelined.dev/engine/port"
)

// Kind of the backend.
type Kind int

// Backend kinds.
const (
	Dummy Kind = iota
	Jack
	Alsa
	Pulse
	PortAudio
	Sdl
	RtAudio
	RtMidi
	PortMidi
)

var (
	// ErrUnsupported is returned when no backend is registered for the
	// kind or the kind cannot be used for the requested signal.
	ErrUnsupported = errors.New("backend not supported")
	// ErrUnknown is returned when a backend name cannot be parsed.
	ErrUnknown = errors.New("unknown backend")
)

var names = map[Kind]string{
	Dummy:     "dummy",
	Jack:      "jack",
	Alsa:      "alsa",
	Pulse:     "pulseaudio",
	PortAudio: "port-audio",
	Sdl:       "sdl",
	RtAudio:   "rtaudio",
	RtMidi:    "rtmidi",
	PortMidi:  "portmidi",
}

var (
	audioKinds = []Kind{Dummy, Jack, Alsa, Pulse, PortAudio, Sdl, RtAudio}
	midiKinds  = []Kind{Dummy, Jack, Alsa, RtMidi, PortMidi}
)

func (k Kind) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return fmt.Sprintf("backend(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := parse(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseAudioKind returns audio backend kind by its name. "none" is the
// dummy backend.
func ParseAudioKind(name string) (Kind, error) {
	return parseOf(name, audioKinds)
}

// ParseMIDIKind returns MIDI backend kind by its name. "none" is the
// dummy backend.
func ParseMIDIKind(name string) (Kind, error) {
	return parseOf(name, midiKinds)
}

func parseOf(name string, kinds []Kind) (Kind, error) {
	k, err := parse(name)
	if err != nil {
		return Dummy, err
	}
	for _, supported := range kinds {
		if k == supported {
			return k, nil
		}
	}
	return Dummy, fmt.Errorf("%s: %w", name, ErrUnsupported)
}

func parse(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "none" || name == "" {
		return Dummy, nil
	}
	for k, n := range names {
		if n == name {
			return k, nil
		}
	}
	return Dummy, fmt.Errorf("%q: %w", name, ErrUnknown)
}

type (
	// Config is negotiated between the engine and the audio backend. The
	// engine requests values and the backend returns the ones it actually
	// uses.
	Config struct {
		SampleRate  int
		BlockLength int
	}

	// Engine is the part of the engine visible to backends.
	Engine interface {
		// Process runs one cycle. It's called from the backend callback
		// thread.
		Process(nframes int) error
		// Inputs returns ports the backend writes hardware input to.
		Inputs() []*port.Port
		// Outputs returns ports the backend reads hardware output from.
		Outputs() []*port.Port
		// MIDIIn returns the event port the backend delivers MIDI to.
		MIDIIn() *port.Port
	}

	// Audio is the capability set of an audio backend.
	Audio interface {
		Kind() Kind
		Setup(e Engine, requested Config) (Config, error)
		Activate(active bool) error
		PrepareProcess(nframes int)
		DeliverInput(nframes int)
		FillOutput(nframes int)
		TearDown() error
	}

	// MIDI is the capability set of a MIDI backend.
	MIDI interface {
		Kind() Kind
		Setup(e Engine) error
		Activate(active bool) error
		PrepareProcess(nframes int)
		DeliverInput(nframes int)
		TearDown() error
	}

	// AudioFactory creates new audio backends.
	AudioFactory func() Audio

	// MIDIFactory creates new MIDI backends.
	MIDIFactory func() MIDI
)

var (
	mu             sync.RWMutex
	audioFactories = make(map[Kind]AudioFactory)
	midiFactories  = make(map[Kind]MIDIFactory)
)

// RegisterAudio makes an audio backend available by kind. It panics if
// called twice for the same kind.
func RegisterAudio(k Kind, fn AudioFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := audioFactories[k]; dup {
		panic(fmt.Sprintf("backend: register audio %v twice", k))
	}
	audioFactories[k] = fn
}

// RegisterMIDI makes a MIDI backend available by kind. It panics if
// called twice for the same kind.
func RegisterMIDI(k Kind, fn MIDIFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := midiFactories[k]; dup {
		panic(fmt.Sprintf("backend: register midi %v twice", k))
	}
	midiFactories[k] = fn
}

// NewAudio returns a new audio backend of provided kind.
func NewAudio(k Kind) (Audio, error) {
	mu.RLock()
	fn, ok := audioFactories[k]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("audio %v: %w", k, ErrUnsupported)
	}
	return fn(), nil
}

// NewMIDI returns a new MIDI backend of provided kind.
func NewMIDI(k Kind) (MIDI, error) {
	mu.RLock()
	fn, ok := midiFactories[k]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("midi %v: %w", k, ErrUnsupported)
	}
	return fn(), nil
}

// AudioKinds returns registered audio backends.
func AudioKinds() []Kind {
	mu.RLock()
	defer mu.RUnlock()
	return sorted(audioFactories)
}

// MIDIKinds returns registered MIDI backends.
func MIDIKinds() []Kind {
	mu.RLock()
	defer mu.RUnlock()
	return sorted(midiFactories)
}

func sorted[T any](m map[Kind]T) []Kind {
	kinds := make([]Kind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// CopyIn copies hardware samples into engine ports, one channel per port.
// Ports without a channel are left untouched.
func CopyIn(ports []*port.Port, channels [][]float32, nframes int) {
	for i, p := range ports {
		if i == len(channels) {
			return
		}
		copy(p.Buffer()[:nframes], channels[i])
	}
}

// Silence zeroes hardware buffers. Backends call it before the engine
// cycle, so skipped cycles are silent.
func Silence(channels [][]float32) {
	for _, ch := range channels {
		for j := range ch {
			ch[j] = 0
		}
	}
}

// CopyOut copies engine ports into hardware buffers, one channel per port.
// Channels without a port are zeroed.
func CopyOut(channels [][]float32, ports []*port.Port, nframes int) {
	for i, ch := range channels {
		if i < len(ports) {
			copy(ch, ports[i].Buffer()[:nframes])
			continue
		}
		for j := range ch {
			ch[j] = 0
		}
	}
}
