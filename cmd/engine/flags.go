package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"

	"pipelined.dev/engine"
	"pipelined.dev/engine/backend"
	"pipelined.dev/engine/session"
	"pipelined.dev/engine/track"
)

// stringList is a semicolon separated flag value.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ";")
}

func (l *stringList) Set(value string) error {
	for _, v := range strings.Split(value, ";") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

// engineFlags are settings shared by commands. Flags override values of
// the config file.
type engineFlags struct {
	path         string
	audioBackend string
	midiBackend  string
	sampleRate   int
	blockLength  int
	workers      int
	metronome    bool
	bpm          float64
	inputs       stringList
}

func (f *engineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.path, "config", "", "path to yaml config")
	fs.StringVar(&f.audioBackend, "audio", "", "audio backend")
	fs.StringVar(&f.midiBackend, "midi", "", "midi backend")
	fs.IntVar(&f.sampleRate, "rate", 0, "sample rate")
	fs.IntVar(&f.blockLength, "block", 0, "block length in frames")
	fs.IntVar(&f.workers, "workers", 0, "number of graph workers")
	fs.BoolVar(&f.metronome, "metronome", false, "enable metronome")
	fs.Float64Var(&f.bpm, "bpm", 120, "tempo")
	fs.Var(&f.inputs, "in", "semicolon separated wav files, one track per file")
}

// config reads the config file and applies flags on top of it.
func (f *engineFlags) config() (engine.Config, error) {
	c := engine.DefaultConfig()
	if f.path != "" {
		file, err := os.Open(f.path)
		if err != nil {
			return c, err
		}
		defer file.Close()
		if c, err = engine.DecodeConfig(file); err != nil {
			return c, err
		}
	}
	var err error
	if f.audioBackend != "" {
		if c.AudioBackend, err = backend.ParseAudioKind(f.audioBackend); err != nil {
			return c, err
		}
	}
	if f.midiBackend != "" {
		if c.MIDIBackend, err = backend.ParseMIDIKind(f.midiBackend); err != nil {
			return c, err
		}
	}
	if f.sampleRate != 0 {
		c.SampleRate = f.sampleRate
	}
	if f.blockLength != 0 {
		c.BlockLength = f.blockLength
	}
	if f.workers != 0 {
		c.Workers = f.workers
	}
	c.Metronome = c.Metronome || f.metronome
	return c, c.Validate()
}

// newSession creates a session with a track per input file. Without
// inputs a track with a test tone is added. It returns the session and
// the length of its longest track.
func (f *engineFlags) newSession(ctx context.Context, c engine.Config, options ...engine.Option) (*session.Session, int64, error) {
	s, err := session.New(c,
		session.Logger(logger),
		session.Tempo(f.bpm, 4, 4),
		session.EngineOptions(options...),
	)
	if err != nil {
		return nil, 0, err
	}
	assets := make([]*track.Asset, 0, len(f.inputs))
	for _, path := range f.inputs {
		a, err := track.LoadWAV(path)
		if err != nil {
			return nil, 0, closeOnError(s, fmt.Errorf("load %s: %w", path, err))
		}
		assets = append(assets, a)
	}
	if len(assets) == 0 {
		assets = append(assets, tone(c.SampleRate, 440, c.SampleRate))
	}

	var length int64
	for i, a := range assets {
		t, err := s.AddTrack(ctx, fmt.Sprintf("track %d", i+1))
		if err != nil {
			return nil, 0, closeOnError(s, err)
		}
		if err := s.AddClip(ctx, t, 0, a.Clip(0, a.Len())); err != nil {
			return nil, 0, closeOnError(s, err)
		}
		length = max(length, t.End())
	}
	return s, length, nil
}

func closeOnError(s *session.Session, err error) error {
	if cerr := s.Close(); cerr != nil {
		logger.WithError(cerr).Warn("close session")
	}
	return err
}

// tone returns a mono sine asset.
func tone(sampleRate int, frequency float64, frames int) *track.Asset {
	data := make([]float32, frames)
	for i := range data {
		data[i] = float32(0.5 * math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate)))
	}
	return track.NewAsset(sampleRate, data)
}
