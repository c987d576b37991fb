package engine

import (
	"context"
	"fmt"
	"time"

	"pipelined.dev/engine/metric"
	"pipelined.dev/engine/transport"
)

// Process runs one cycle of nframes. It is called from the backend
// callback thread and never blocks unless the engine is exporting. Zero
// frames is a no-op.
func (e *Engine) Process(nframes int) error {
	if nframes == 0 {
		return nil
	}
	e.rolled = 0
	// the flag is raised before run is checked, so deactivation either
	// sees the running cycle or the cycle sees the cleared run flag.
	e.cycleRunning.Store(true)
	defer e.cycleRunning.Store(false)

	start := time.Now()
	e.timestampStart.Store(start.UnixNano())
	e.timestampEnd.Store(start.Add(metric.DurationOf(e.config.SampleRate, int64(nframes))).UnixNano())

	if !e.run.Load() {
		if e.monitorOut != nil {
			e.monitorOut.clear(min(nframes, e.arena.BlockLength()))
		}
		return nil
	}
	if nframes > e.arena.BlockLength() {
		return fmt.Errorf("process %d frames with block length %d: %w", nframes, e.arena.BlockLength(), ErrConfiguration)
	}

	e.prepare(nframes)
	if e.skipCycle.Load() {
		e.skipCycle.Store(false)
		e.skipped.Add(1)
		e.metrics.SkippedCycles.Inc()
		return nil
	}

	rolling := e.transport.IsRolling()
	e.rolled = e.router.Run(nframes, e.transport.Playhead(), rolling, e.denormal)
	e.postProcess(nframes, rolling, start)
	return nil
}

// prepare acquires the port-operation lock and resets the cycle state.
// The skip flag is raised if the lock is busy or the graph is stale, in
// which case nothing is touched.
func (e *Engine) prepare(nframes int) {
	e.alternateDenormal()
	if !e.lock.TryAcquire(1) {
		if !e.exporting.Load() {
			e.skipCycle.Store(true)
			e.report(ErrResourceContention)
			return
		}
		// the context never expires.
		_ = e.lock.Acquire(context.Background(), 1)
	}
	if g := e.router.Graph(); g == nil || g.Version != e.arena.Version() {
		e.lock.Release(1)
		e.skipCycle.Store(true)
		e.report(ErrStaleGraph)
		select {
		case e.rebuild <- struct{}{}:
		default:
		}
		return
	}

	e.arena.ClearAll()
	state, changed := e.transport.Prepare()
	if changed {
		switch state {
		case transport.Rolling:
			e.router.StartPreroll()
		case transport.Paused:
			e.router.CancelPreroll()
		}
	}
	if state != transport.Rolling && e.router.RemainingPreroll() > 0 {
		e.router.CancelPreroll()
	}

	if !e.exporting.Load() {
		e.audio.PrepareProcess(nframes)
		e.midi.PrepareProcess(nframes)
		e.midi.DeliverInput(nframes)
		e.audio.DeliverInput(nframes)
	}
	if e.panicking.Load() {
		e.hardwareIn.midiIn.Events().Panic()
	}
}

// alternateDenormal flips the sign of the denormal bias.
func (e *Engine) alternateDenormal() {
	if e.denormalPositive {
		e.denormal = -denormalBias
	} else {
		e.denormal = denormalBias
	}
	e.denormalPositive = !e.denormalPositive
}

// postProcess fills backend output, advances the playhead, updates
// timing statistics and releases the port-operation lock.
func (e *Engine) postProcess(nframes int, rolling bool, start time.Time) {
	if !e.exporting.Load() {
		e.audio.FillOutput(nframes)
	}
	e.panicking.Store(false)
	if rolling {
		e.transport.AddToPlayhead(e.rolled)
	}

	if failures := e.router.Failures(); failures > e.failures {
		e.metrics.NodeFailures.Add(float64(failures - e.failures))
		e.failures = failures
	}
	e.metrics.Preroll.Set(float64(e.router.RemainingPreroll()))

	took := time.Since(start)
	e.lastTimeTaken.Store(int64(took))
	for {
		longest := e.maxTimeTaken.Load()
		if int64(took) <= longest {
			break
		}
		if e.maxTimeTaken.CompareAndSwap(longest, int64(took)) {
			e.metrics.MaxCycleTime.Set(took.Seconds())
			break
		}
	}
	e.metrics.ObserveCycle(took, metric.DurationOf(e.config.SampleRate, int64(nframes)))
	e.measure(int64(nframes))
	e.lock.Release(1)
}

// Denormal returns the bias of the last cycle.
func (e *Engine) Denormal() float32 {
	return e.denormal
}
