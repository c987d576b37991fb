// Package portaudio provides an audio backend for the default PortAudio
// device. The stream runs in callback mode with non-interleaved buffers.
package portaudio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"pipelined.dev/engine/backend"
)

func init() {
	backend.RegisterAudio(backend.PortAudio, func() backend.Audio { return New() })
}

// Audio is a PortAudio backend.
type Audio struct {
	engine      backend.Engine
	stream      *portaudio.Stream
	numInputs   int
	numOutputs  int
	initialized bool

	// valid only during the callback.
	in, out [][]float32
}

// Option configures the backend.
type Option func(*Audio)

// WithChannels sets number of input and output channels. By default the
// backend opens one channel per engine port.
func WithChannels(inputs, outputs int) Option {
	return func(a *Audio) {
		a.numInputs = inputs
		a.numOutputs = outputs
	}
}

// New returns a new PortAudio backend.
func New(options ...Option) *Audio {
	a := &Audio{
		numInputs:  -1,
		numOutputs: -1,
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// Kind returns backend.PortAudio.
func (*Audio) Kind() backend.Kind {
	return backend.PortAudio
}

// Setup initializes PortAudio and opens the default stream.
func (a *Audio) Setup(e backend.Engine, requested backend.Config) (backend.Config, error) {
	if err := portaudio.Initialize(); err != nil {
		return requested, fmt.Errorf("portaudio initialize: %w", err)
	}
	a.initialized = true
	a.engine = e
	if a.numInputs < 0 {
		a.numInputs = len(e.Inputs())
	}
	if a.numOutputs < 0 {
		a.numOutputs = len(e.Outputs())
	}
	stream, err := portaudio.OpenDefaultStream(
		a.numInputs,
		a.numOutputs,
		float64(requested.SampleRate),
		requested.BlockLength,
		a.callback,
	)
	if err != nil {
		_ = a.TearDown()
		return requested, fmt.Errorf("portaudio open stream: %w", err)
	}
	a.stream = stream
	info := stream.Info()
	return backend.Config{
		SampleRate:  int(info.SampleRate),
		BlockLength: requested.BlockLength,
	}, nil
}

func (a *Audio) callback(in, out [][]float32) {
	a.in, a.out = in, out
	nframes := 0
	if len(out) > 0 {
		nframes = len(out[0])
	} else if len(in) > 0 {
		nframes = len(in[0])
	}
	backend.Silence(out)
	// errors are reported by the engine itself.
	_ = a.engine.Process(nframes)
	a.in, a.out = nil, nil
}

// Activate starts or stops the stream.
func (a *Audio) Activate(active bool) error {
	if a.stream == nil {
		return nil
	}
	if active {
		return a.stream.Start()
	}
	return a.stream.Stop()
}

// PrepareProcess does nothing.
func (*Audio) PrepareProcess(int) {}

// DeliverInput copies input of the callback into engine inputs.
func (a *Audio) DeliverInput(nframes int) {
	backend.CopyIn(a.engine.Inputs(), a.in, nframes)
}

// FillOutput copies engine outputs into the callback output.
func (a *Audio) FillOutput(nframes int) {
	backend.CopyOut(a.out, a.engine.Outputs(), nframes)
}

// TearDown closes the stream and terminates PortAudio.
func (a *Audio) TearDown() error {
	var err error
	if a.stream != nil {
		err = a.stream.Close()
		a.stream = nil
	}
	if a.initialized {
		a.initialized = false
		if terr := portaudio.Terminate(); err == nil {
			err = terr
		}
	}
	return err
}
