// Package session owns the transport and the engine of a project and
// wires tracks into the processing graph.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"pipelined.dev/engine"
	"pipelined.dev/engine/log"
	"pipelined.dev/engine/plugin"
	"pipelined.dev/engine/port"
	"pipelined.dev/engine/track"
	"pipelined.dev/engine/transport"
)

// ErrNoOutputs is returned when a plugin without audio outputs is
// inserted into a track.
var ErrNoOutputs = errors.New("plugin has no audio outputs")

// Session is a top level abstraction. It owns the transport and the
// engine, and both live until the session is closed.
type Session struct {
	id        string
	log       logrus.FieldLogger
	tempo     tempo
	metronome bool
	options   []engine.Option

	transport *transport.Transport
	engine    *engine.Engine
	tracks    []*Track
}

// Track is an audio track routed through its own fader into master.
// Plugins are inserted between the track and the fader.
type Track struct {
	*track.Track
	Fader   *track.Fader
	Plugins []*plugin.Unit
}

type tempo struct {
	bpm         float64
	beatsPerBar int
	beatUnit    int
}

// Option of a session. It returns an option restoring the previous value.
type Option func(s *Session) Option

// Tempo defines bpm and time signature.
func Tempo(bpm float64, beatsPerBar, beatUnit int) Option {
	return func(s *Session) Option {
		previous := s.tempo
		s.tempo = tempo{bpm: bpm, beatsPerBar: beatsPerBar, beatUnit: beatUnit}
		return Tempo(previous.bpm, previous.beatsPerBar, previous.beatUnit)
	}
}

// Metronome enables clicks while rolling.
func Metronome(enabled bool) Option {
	return func(s *Session) Option {
		previous := s.metronome
		s.metronome = enabled
		return Metronome(previous)
	}
}

// Logger defines the logger of the session and its engine.
func Logger(l logrus.FieldLogger) Option {
	return func(s *Session) Option {
		previous := s.log
		s.log = l
		return Logger(previous)
	}
}

// EngineOptions appends options passed to the engine.
func EngineOptions(options ...engine.Option) Option {
	return func(s *Session) Option {
		previous := s.options
		s.options = append(previous[:len(previous):len(previous)], options...)
		return restoreEngineOptions(previous)
	}
}

func restoreEngineOptions(options []engine.Option) Option {
	return func(s *Session) Option {
		previous := s.options
		s.options = options
		return restoreEngineOptions(previous)
	}
}

// New creates a session and sets up its engine. The engine is not
// activated until Start is called.
func New(config engine.Config, options ...Option) (*Session, error) {
	s := &Session{
		id:    xid.New().String(),
		tempo: tempo{bpm: 120, beatsPerBar: 4, beatUnit: 4},
	}
	for _, option := range options {
		option(s)
	}
	if s.log == nil {
		s.log = log.GetLogger()
	}
	s.log = s.log.WithField("session", s.id)
	config.Metronome = config.Metronome || s.metronome
	s.transport = transport.New(
		transport.WithTempo(s.tempo.bpm, s.tempo.beatsPerBar, s.tempo.beatUnit),
	)
	s.engine = engine.New(s.transport, append([]engine.Option{
		engine.WithConfig(config),
		engine.WithLogger(s.log),
	}, s.options...)...)
	if err := s.engine.PreSetup(); err != nil {
		return nil, fmt.Errorf("session pre-setup: %w", err)
	}
	if err := s.engine.Setup(); err != nil {
		return nil, errors.Join(fmt.Errorf("session setup: %w", err), s.engine.Free())
	}
	return s, nil
}

// ID returns unique id of the session.
func (s *Session) ID() string {
	return s.id
}

// Engine returns the engine of the session.
func (s *Session) Engine() *engine.Engine {
	return s.engine
}

// Transport returns the transport of the session.
func (s *Session) Transport() *transport.Transport {
	return s.transport
}

// Tracks returns tracks in the order they were added.
func (s *Session) Tracks() []*Track {
	return s.tracks
}

// Start activates the engine.
func (s *Session) Start() error {
	return s.engine.Activate(true)
}

// Play requests the transport to roll.
func (s *Session) Play() {
	s.transport.RequestRoll()
}

// Pause requests the transport to pause.
func (s *Session) Pause() {
	s.transport.RequestPause()
}

// Stop stops the transport and moves the playhead to the start.
func (s *Session) Stop() {
	s.transport.Stop()
	s.transport.Locate(0)
}

// Locate moves the playhead.
func (s *Session) Locate(frame int64) {
	s.transport.Locate(frame)
}

// AddTrack creates a track with a fader and routes it into master.
func (s *Session) AddTrack(ctx context.Context, name string) (*Track, error) {
	var t Track
	// ports are allocated while no cycle runs.
	err := s.engine.Mutate(ctx, func() error {
		t.Track = track.New(s.engine.Arena(), name)
		t.Fader = track.NewFader(s.engine.Arena(), name+" fader")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.engine.AddUnit(ctx, t.Track); err != nil {
		return nil, err
	}
	if err := s.engine.AddUnit(ctx, t.Fader); err != nil {
		return nil, errors.Join(err, s.engine.RemoveUnit(ctx, t.Track))
	}
	err = s.engine.Mutate(ctx, func() error {
		if err := t.Out.Connect(t.Fader.In); err != nil {
			return err
		}
		return t.Fader.Out.Connect(s.engine.Master.In)
	})
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("route track %s: %w", name, err),
			s.engine.RemoveUnit(ctx, t.Fader),
			s.engine.RemoveUnit(ctx, t.Track),
		)
	}
	s.tracks = append(s.tracks, &t)
	s.log.WithField("track", name).Debug("track added")
	return &t, nil
}

// AddClip places the clip on the track timeline.
func (s *Session) AddClip(ctx context.Context, t *Track, at int64, c track.Clip) error {
	return s.engine.Mutate(ctx, func() error {
		t.AddClip(at, c)
		return nil
	})
}

// RemoveTrack removes the track, its plugins and its fader.
func (s *Session) RemoveTrack(ctx context.Context, t *Track) error {
	i := -1
	for j := range s.tracks {
		if s.tracks[j] == t {
			i = j
		}
	}
	if i < 0 {
		return fmt.Errorf("remove track %s: not found", t.Name())
	}
	var errs []error
	for _, p := range t.Plugins {
		errs = append(errs, s.engine.RemoveUnit(ctx, p))
	}
	errs = append(errs,
		s.engine.RemoveUnit(ctx, t.Fader),
		s.engine.RemoveUnit(ctx, t.Track),
	)
	s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
	return errors.Join(errs...)
}

// AddPlugin creates a unit for the host and inserts it after the last
// plugin of the track. The host must have at least one audio output.
func (s *Session) AddPlugin(ctx context.Context, t *Track, host plugin.Host) (*plugin.Unit, error) {
	var u *plugin.Unit
	err := s.engine.Mutate(ctx, func() error {
		var err error
		u, err = plugin.New(s.engine.Arena(), host)
		return err
	})
	if err != nil {
		return nil, err
	}
	ins, outs := audioPorts(u)
	if len(outs) == 0 {
		_ = s.engine.Mutate(ctx, func() error {
			u.Release()
			return nil
		})
		return nil, fmt.Errorf("add plugin %s: %w", host.Name(), ErrNoOutputs)
	}
	if err := s.engine.AddUnit(ctx, u); err != nil {
		return nil, err
	}

	// the plugin takes the place of the fader input.
	prev := t.Out.Ports()
	if n := len(t.Plugins); n > 0 {
		_, prev = audioPorts(t.Plugins[n-1])
	}
	err = s.engine.Mutate(ctx, func() error {
		var errs []error
		for _, src := range prev {
			for _, dst := range t.Fader.In.Ports() {
				src.Disconnect(dst)
			}
		}
		for i, dst := range ins {
			errs = append(errs, prev[i%len(prev)].Connect(dst, false))
		}
		for i, dst := range t.Fader.In.Ports() {
			errs = append(errs, outs[i%len(outs)].Connect(dst, false))
		}
		return errors.Join(errs...)
	})
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("insert plugin %s: %w", host.Name(), err),
			s.engine.RemoveUnit(ctx, u),
			s.engine.Mutate(ctx, func() error {
				return port.Stereo{L: prev[0], R: prev[len(prev)-1]}.Connect(t.Fader.In)
			}),
		)
	}
	t.Plugins = append(t.Plugins, u)
	s.log.WithFields(logrus.Fields{
		"track":   t.Name(),
		"plugin":  u.Name(),
		"latency": u.Latency(),
	}).Debug("plugin inserted")
	return u, nil
}

func audioPorts(u *plugin.Unit) (ins, outs []*port.Port) {
	for _, p := range u.Ports() {
		if p.Type != port.Audio {
			continue
		}
		if p.Flow == port.Input {
			ins = append(ins, p)
		} else {
			outs = append(outs, p)
		}
	}
	return ins, outs
}

// Close frees the engine. The session cannot be used afterwards.
func (s *Session) Close() error {
	return s.engine.Free()
}
