package engine

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"pipelined.dev/engine/backend"
	"pipelined.dev/engine/port"
)

// BufferSizes are block lengths the engine can run with.
var BufferSizes = []int{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// SampleRates are sample rates the engine can run with.
var SampleRates = []int{22050, 32000, 44100, 48000, 88200, 96000, 192000}

// Config holds engine settings. Zero values are replaced with defaults.
type Config struct {
	AudioBackend backend.Kind `yaml:"audio_backend"`
	MIDIBackend  backend.Kind `yaml:"midi_backend"`
	SampleRate   int          `yaml:"sample_rate"`
	BlockLength  int          `yaml:"block_length"`
	// Inputs is the number of hardware input channels.
	Inputs int `yaml:"inputs"`
	// Workers is the size of the worker pool. Zero runs the graph on the
	// backend thread.
	Workers int `yaml:"workers"`
	// MIDIBufferSize is the number of events an event port holds in a
	// cycle.
	MIDIBufferSize int  `yaml:"midi_buffer_size"`
	Metronome      bool `yaml:"metronome"`
}

// DefaultConfig returns config with dummy backends at 48 kHz.
func DefaultConfig() Config {
	return Config{
		AudioBackend:   backend.Dummy,
		MIDIBackend:    backend.Dummy,
		SampleRate:     48000,
		BlockLength:    256,
		Inputs:         2,
		MIDIBufferSize: port.DefaultEventCapacity,
	}
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.BlockLength == 0 {
		c.BlockLength = d.BlockLength
	}
	if c.Inputs == 0 {
		c.Inputs = d.Inputs
	}
	if c.MIDIBufferSize == 0 {
		c.MIDIBufferSize = d.MIDIBufferSize
	}
	return c
}

// Validate checks sample rate and block length against supported values.
func (c Config) Validate() error {
	if !contains(SampleRates, c.SampleRate) {
		return fmt.Errorf("sample rate %d: %w", c.SampleRate, ErrConfiguration)
	}
	if !contains(BufferSizes, c.BlockLength) {
		return fmt.Errorf("block length %d: %w", c.BlockLength, ErrConfiguration)
	}
	if c.Inputs < 0 || c.Workers < 0 || c.MIDIBufferSize < 0 {
		return fmt.Errorf("negative value in %+v: %w", c, ErrConfiguration)
	}
	return nil
}

// DecodeConfig reads YAML config. Missing fields are set to defaults.
func DecodeConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func contains(values []int, v int) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
