/*
Package engine drives the processing graph from the hardware callback of
an audio backend.

Lifecycle

The engine is created for a transport and goes through the states

	Uninitialized -> PreSetup -> Setup -> Activated <-> Deactivated -> Freed

PreSetup selects audio and MIDI backends. If the configured backend cannot
be created or set up, the engine falls back to the dummy backend and logs
a warning. Setup wires the monitor path: master fader, monitor fader,
sample processor and metronome feed the monitor output read by the
backend. Activate starts backend callbacks; deactivation waits until the
running cycle completes.

Cycle

Every callback calls Process. The cycle is skipped if a structural
mutation holds the port-operation lock. Otherwise all port buffers are
cleared, transport requests are applied, the backend delivers its input
and the router runs the graph. After routing, the playhead advances by
the frames rolled after the latency preroll and the backend fills its
output.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"pipelined.dev/engine/backend"
	"pipelined.dev/engine/backend/dummy"
	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/log"
	"pipelined.dev/engine/metric"
	"pipelined.dev/engine/port"
	"pipelined.dev/engine/router"
	"pipelined.dev/engine/track"
	"pipelined.dev/engine/transport"
)

// State of the engine lifecycle.
type State int32

// Engine states.
const (
	Uninitialized State = iota
	PreSetup
	Setup
	Activated
	Deactivated
	Freed
)

const (
	// DeactivateTimeout bounds the wait for a running cycle on
	// deactivation.
	DeactivateTimeout = time.Second
	// denormalBias is added to the signal to keep it out of the
	// denormal range.
	denormalBias = 1e-20
	// reportsBuffer is the size of the cycle reports channel.
	reportsBuffer = 64
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case PreSetup:
		return "pre-setup"
	case Setup:
		return "setup"
	case Activated:
		return "activated"
	case Deactivated:
		return "deactivated"
	case Freed:
		return "freed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type (
	// Engine owns the router, the monitor path and backends of one
	// session.
	Engine struct {
		id            string
		log           logrus.FieldLogger
		config        Config
		transport     *transport.Transport
		registerer    prometheus.Registerer
		metrics       *metric.Engine
		measure       metric.MeasureFunc
		routerOptions []router.Option

		// deactivateTimeout bounds the wait for a running cycle.
		deactivateTimeout time.Duration

		state int32
		audio backend.Audio
		midi  backend.MIDI

		arena  *port.Arena
		router *router.Router
		// lock is the port-operation lock. The processing thread only
		// tries to acquire it.
		lock  *semaphore.Weighted
		units []graph.Unit

		hardwareIn *hardwareIn
		monitorOut *monitorOut
		// Master is the fader all tracks are routed to.
		Master *track.Fader
		// Monitor is the control room fader between master and the
		// monitor output.
		Monitor   *track.Fader
		Sampler   *track.SampleProcessor
		Metronome *track.Metronome

		run          atomic.Bool
		cycleRunning atomic.Bool
		skipCycle    atomic.Bool
		exporting    atomic.Bool
		panicking    atomic.Bool

		// processing thread only.
		denormalPositive bool
		denormal         float32
		rolled           int
		failures         int64

		skipped        atomic.Int64
		lastTimeTaken  atomic.Int64
		maxTimeTaken   atomic.Int64
		timestampStart atomic.Int64
		timestampEnd   atomic.Int64

		reports chan error
		rebuild chan struct{}
		done    chan struct{}
		wg      sync.WaitGroup
	}

	// Option configures the engine.
	Option func(*Engine)
)

// WithConfig sets the configuration. Zero values are replaced with
// defaults.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		e.config = c.withDefaults()
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithAudioBackend sets the audio backend instead of creating one of the
// configured kind.
func WithAudioBackend(a backend.Audio) Option {
	return func(e *Engine) {
		e.audio = a
	}
}

// WithMIDIBackend sets the MIDI backend instead of creating one of the
// configured kind.
func WithMIDIBackend(m backend.MIDI) Option {
	return func(e *Engine) {
		e.midi = m
	}
}

// WithRegisterer registers engine collectors on setup.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = r
	}
}

// WithDeactivateTimeout overrides DeactivateTimeout.
func WithDeactivateTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.deactivateTimeout = d
	}
}

// WithRouterOptions passes options to the router.
func WithRouterOptions(options ...router.Option) Option {
	return func(e *Engine) {
		e.routerOptions = append(e.routerOptions, options...)
	}
}

// New returns an uninitialized engine for the transport.
func New(t *transport.Transport, options ...Option) *Engine {
	e := &Engine{
		id:                xid.New().String(),
		config:            DefaultConfig(),
		transport:         t,
		deactivateTimeout: DeactivateTimeout,
		lock:              semaphore.NewWeighted(1),
		reports:           make(chan error, reportsBuffer),
		rebuild:           make(chan struct{}, 1),
	}
	for _, option := range options {
		option(e)
	}
	if e.log == nil {
		e.log = log.GetLogger()
	}
	e.log = e.log.WithField("engine", e.id)
	e.metrics = metric.NewEngine(e.id)
	return e
}

// ID returns unique id of the engine.
func (e *Engine) ID() string {
	return e.id
}

// State returns current lifecycle state.
func (e *Engine) State() State {
	return State(atomic.LoadInt32(&e.state))
}

func (e *Engine) setState(s State) {
	e.log.WithField("state", s).Debug("engine state changed")
	atomic.StoreInt32(&e.state, int32(s))
}

func (e *Engine) expect(op string, states ...State) error {
	current := e.State()
	for _, s := range states {
		if s == current {
			return nil
		}
	}
	return fmt.Errorf("%s in %v state: %w", op, current, ErrInvalidState)
}

// PreSetup validates configuration, allocates engine ports and sets up
// backends. A backend that fails is replaced with the dummy one.
func (e *Engine) PreSetup() error {
	if err := e.expect("pre-setup", Uninitialized); err != nil {
		return err
	}
	if err := e.config.Validate(); err != nil {
		return err
	}
	e.arena = port.NewArena(e.config.BlockLength, e.config.MIDIBufferSize)
	e.hardwareIn = newHardwareIn(e.arena, e.config.Inputs, e.config.MIDIBufferSize)
	e.monitorOut = newMonitorOut(e.arena)

	negotiated, err := e.setupAudio(backend.Config{
		SampleRate:  e.config.SampleRate,
		BlockLength: e.config.BlockLength,
	})
	if err != nil {
		return err
	}
	if negotiated.SampleRate > 0 {
		e.config.SampleRate = negotiated.SampleRate
	}
	if negotiated.BlockLength > 0 && negotiated.BlockLength != e.arena.BlockLength() {
		e.arena.Resize(negotiated.BlockLength)
		e.config.BlockLength = negotiated.BlockLength
	}
	if err := e.setupMIDI(); err != nil {
		return err
	}
	if (e.audio.Kind() == backend.Jack) != (e.midi.Kind() == backend.Jack) {
		e.log.WithFields(logrus.Fields{
			"audio": e.audio.Kind(),
			"midi":  e.midi.Kind(),
		}).Warn("mixing jack with other backends is not recommended")
	}
	e.startReports()
	e.log.WithFields(logrus.Fields{
		"audio":        e.audio.Kind(),
		"midi":         e.midi.Kind(),
		"sample_rate":  e.config.SampleRate,
		"block_length": e.config.BlockLength,
	}).Info("backends ready")
	e.setState(PreSetup)
	return nil
}

func (e *Engine) setupAudio(requested backend.Config) (backend.Config, error) {
	a, kind := e.audio, e.config.AudioBackend
	var err error
	if a == nil {
		a, err = backend.NewAudio(kind)
	} else {
		kind = a.Kind()
	}
	if err == nil {
		var c backend.Config
		if c, err = a.Setup(e, requested); err == nil {
			e.audio = a
			return c, nil
		}
	}
	e.log.WithError(fmt.Errorf("audio backend %v: %w: %v", kind, ErrConfiguration, err)).
		Warn("falling back to dummy audio backend")
	d := dummy.NewAudio()
	c, err := d.Setup(e, requested)
	if err != nil {
		return requested, fmt.Errorf("dummy audio backend: %w", err)
	}
	e.audio = d
	return c, nil
}

func (e *Engine) setupMIDI() error {
	m, kind := e.midi, e.config.MIDIBackend
	var err error
	if m == nil {
		m, err = backend.NewMIDI(kind)
	} else {
		kind = m.Kind()
	}
	if err == nil {
		if err = m.Setup(e); err == nil {
			e.midi = m
			return nil
		}
	}
	e.log.WithError(fmt.Errorf("midi backend %v: %w: %v", kind, ErrConfiguration, err)).
		Warn("falling back to dummy midi backend")
	d := dummy.NewMIDI()
	if err := d.Setup(e); err != nil {
		return fmt.Errorf("dummy midi backend: %w", err)
	}
	e.midi = d
	return nil
}

// Setup wires the monitor path and builds the graph. The engine stays in
// PreSetup state if the graph is inconsistent.
func (e *Engine) Setup() error {
	if err := e.expect("setup", PreSetup); err != nil {
		return err
	}
	if e.Master == nil {
		if err := e.wireMonitor(); err != nil {
			return err
		}
	}
	if e.config.Metronome {
		e.transport.SetMetronome(true)
	}
	e.transport.UpdateFramesPerTick(e.config.SampleRate)
	if e.router == nil {
		options := []router.Option{
			router.WithLogger(e.log),
			router.WithWorkers(e.config.Workers),
			router.WithReports(e.reports),
		}
		e.router = router.New(append(options, e.routerOptions...)...)
	}
	if err := e.router.Build(e.allUnits(), e.arena.Version()); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if e.registerer != nil {
		if err := e.metrics.Register(e.registerer); err != nil {
			e.log.WithError(err).Warn("engine metrics are not registered")
		}
	}
	e.measure = metric.Meter(e, e.config.SampleRate)()
	e.setState(Setup)
	return nil
}

// wireMonitor creates the monitor path:
//
//	master ----------\
//	sample processor --> monitor --> monitor out
//	metronome -------/
func (e *Engine) wireMonitor() error {
	e.Master = track.NewFader(e.arena, "master")
	e.Monitor = track.NewFader(e.arena, "monitor")
	e.Sampler = track.NewSampleProcessor(e.arena, "sample processor")
	e.Metronome = track.NewMetronome(e.arena, e.transport, e.config.SampleRate)
	for _, src := range []port.Stereo{e.Master.Out, e.Sampler.Out, e.Metronome.Out} {
		if err := src.Connect(e.Monitor.In); err != nil {
			return fmt.Errorf("wire monitor: %w", err)
		}
	}
	if err := e.Monitor.Out.Connect(e.monitorOut.in); err != nil {
		return fmt.Errorf("wire monitor out: %w", err)
	}
	return nil
}

// allUnits returns engine units followed by session units.
func (e *Engine) allUnits() []graph.Unit {
	units := []graph.Unit{
		e.hardwareIn,
		e.Master,
		e.Monitor,
		e.Sampler,
		e.Metronome,
		e.monitorOut,
	}
	return append(units, e.units...)
}

// Activate starts or stops backend callbacks. Port buffers are
// reallocated to the block length on activation. Deactivation waits until
// the running cycle completes.
func (e *Engine) Activate(active bool) error {
	if !active {
		return e.deactivate()
	}
	if err := e.expect("activate", Setup, Deactivated); err != nil {
		return err
	}
	if err := e.reallocate(context.Background(), e.arena.BlockLength()); err != nil {
		return err
	}
	e.run.Store(true)
	if err := e.audio.Activate(true); err != nil {
		e.run.Store(false)
		return fmt.Errorf("activate audio backend %v: %w", e.audio.Kind(), err)
	}
	if err := e.midi.Activate(true); err != nil {
		e.run.Store(false)
		_ = e.audio.Activate(false)
		return fmt.Errorf("activate midi backend %v: %w", e.midi.Kind(), err)
	}
	e.setState(Activated)
	e.log.Info("engine activated")
	return nil
}

func (e *Engine) deactivate() error {
	if err := e.expect("deactivate", Activated); err != nil {
		return err
	}
	e.run.Store(false)
	if err := e.waitCycle(e.deactivateTimeout); err != nil {
		// the engine stays activated.
		e.run.Store(true)
		return err
	}
	var errs execErrors
	if err := e.midi.Activate(false); err != nil {
		errs = append(errs, fmt.Errorf("deactivate midi backend %v: %w", e.midi.Kind(), err))
	}
	if err := e.audio.Activate(false); err != nil {
		errs = append(errs, fmt.Errorf("deactivate audio backend %v: %w", e.audio.Kind(), err))
	}
	e.setState(Deactivated)
	e.log.Info("engine deactivated")
	return errs.ret()
}

// waitCycle polls until no cycle is running.
func (e *Engine) waitCycle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for e.cycleRunning.Load() {
		if time.Now().After(deadline) {
			return fmt.Errorf("cycle is still running after %v: %w", timeout, ErrResourceContention)
		}
		time.Sleep(100 * time.Microsecond)
	}
	return nil
}

// Free deactivates the engine, tears backends down and releases engine
// ports.
func (e *Engine) Free() error {
	if e.State() == Freed {
		return nil
	}
	var errs execErrors
	if e.State() == Activated {
		if err := e.deactivate(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.midi != nil {
		if err := e.midi.TearDown(); err != nil {
			errs = append(errs, fmt.Errorf("tear down midi backend %v: %w", e.midi.Kind(), err))
		}
	}
	if e.audio != nil {
		if err := e.audio.TearDown(); err != nil {
			errs = append(errs, fmt.Errorf("tear down audio backend %v: %w", e.audio.Kind(), err))
		}
	}
	if e.router != nil {
		e.router.Close()
	}
	e.stopReports()
	if e.registerer != nil {
		e.metrics.Unregister(e.registerer)
	}
	if e.arena != nil {
		e.release()
	}
	e.setState(Freed)
	return errs.ret()
}

// release frees ports of engine units.
func (e *Engine) release() {
	e.hardwareIn.release(e.arena)
	e.monitorOut.release(e.arena)
	if e.Master != nil {
		e.Master.Release()
		e.Monitor.Release()
		e.Sampler.Release()
		e.Metronome.Release()
	}
}

func (e *Engine) startReports() {
	e.done = make(chan struct{})
	e.wg.Add(1)
	go e.handleReports(e.done)
}

func (e *Engine) stopReports() {
	if e.done == nil {
		return
	}
	close(e.done)
	e.wg.Wait()
	e.done = nil
}

// handleReports logs failures reported by the processing thread and
// rebuilds stale graphs.
func (e *Engine) handleReports(done <-chan struct{}) {
	defer e.wg.Done()
	failed := ^uint64(0)
	for {
		select {
		case <-done:
			return
		case err := <-e.reports:
			if errors.Is(err, ErrResourceContention) {
				e.log.Debug("port operation lock is busy, cycle skipped")
				continue
			}
			e.log.WithError(err).Warn("cycle failure")
		case <-e.rebuild:
			v := e.arena.Version()
			if v == failed {
				continue
			}
			if err := e.Mutate(context.Background(), nil); err != nil {
				failed = v
				e.log.WithError(err).Error("rebuild stale graph")
			}
		}
	}
}

// report sends the error without blocking.
func (e *Engine) report(err error) {
	select {
	case e.reports <- err:
	default:
	}
}

// Config returns the configuration negotiated with backends.
func (e *Engine) Config() Config {
	return e.config
}

// Transport returns the transport driven by the engine.
func (e *Engine) Transport() *transport.Transport {
	return e.transport
}

// Arena returns the arena engine ports are allocated in. Session units
// must allocate their ports in the same arena, inside Mutate while the
// engine is activated.
func (e *Engine) Arena() *port.Arena {
	return e.arena
}

// AudioBackend returns the audio backend selected on pre-setup.
func (e *Engine) AudioBackend() backend.Audio {
	return e.audio
}

// MIDIBackend returns the MIDI backend selected on pre-setup.
func (e *Engine) MIDIBackend() backend.MIDI {
	return e.midi
}

// Graph returns the graph processed by the engine.
func (e *Engine) Graph() *graph.Graph {
	if e.router == nil {
		return nil
	}
	return e.router.Graph()
}

// Inputs returns hardware input ports.
func (e *Engine) Inputs() []*port.Port {
	return e.hardwareIn.audio
}

// Outputs returns monitor output ports.
func (e *Engine) Outputs() []*port.Port {
	return e.monitorOut.ports
}

// MIDIIn returns the port MIDI backends deliver events to.
func (e *Engine) MIDIIn() *port.Port {
	return e.hardwareIn.midiIn
}

// ManualPress returns the port carrying manually pressed notes.
func (e *Engine) ManualPress() *port.Port {
	return e.hardwareIn.manualPress
}

// Press queues a short MIDI message to the manual press port. It never
// blocks and returns false if the queue is full.
func (e *Engine) Press(msg []byte) bool {
	return e.hardwareIn.presses.Push(msg)
}

// Panic sends all notes off on every channel of MIDI in during the next
// cycle.
func (e *Engine) Panic() {
	e.panicking.Store(true)
}

// SkippedCycles returns number of cycles skipped due to lock contention
// or a stale graph.
func (e *Engine) SkippedCycles() int64 {
	return e.skipped.Load()
}

// Failures returns number of node failures.
func (e *Engine) Failures() int64 {
	if e.router == nil {
		return 0
	}
	return e.router.Failures()
}

// Exporting returns true while the engine renders offline.
func (e *Engine) Exporting() bool {
	return e.exporting.Load()
}

// LastTimeTaken returns wall-clock duration of the last cycle.
func (e *Engine) LastTimeTaken() time.Duration {
	return time.Duration(e.lastTimeTaken.Load())
}

// MaxTimeTaken returns the longest cycle since the last reset.
func (e *Engine) MaxTimeTaken() time.Duration {
	return time.Duration(e.maxTimeTaken.Load())
}

// ResetMaxTimeTaken resets the longest cycle duration.
func (e *Engine) ResetMaxTimeTaken() {
	e.maxTimeTaken.Store(0)
	e.metrics.MaxCycleTime.Set(0)
}

// DSPLoad returns the duration of the last cycle relative to the block
// period.
func (e *Engine) DSPLoad() float64 {
	period := metric.DurationOf(e.config.SampleRate, int64(e.config.BlockLength))
	if period == 0 {
		return 0
	}
	return float64(e.lastTimeTaken.Load()) / float64(period)
}

// Timestamps returns expected wall-clock start and end of the current
// cycle.
func (e *Engine) Timestamps() (start, end time.Time) {
	return time.Unix(0, e.timestampStart.Load()), time.Unix(0, e.timestampEnd.Load())
}
