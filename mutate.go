package engine

import (
	"context"
	"fmt"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
)

type (
	// latencyReporter is implemented by units caching a reported latency,
	// e.g. plugin units.
	latencyReporter interface {
		RefreshLatency() bool
	}

	// reallocator is implemented by units that must be notified when
	// port buffers are reallocated.
	reallocator interface {
		ReallocatePortBuffers() error
	}

	releaser interface {
		Release()
	}
)

// Mutate runs fn under the port-operation lock and rebuilds the graph if
// the port topology changed. Cycles are skipped while fn runs. If the
// rebuild fails, the previous graph is kept and cycles are skipped until
// the topology is consistent again.
func (e *Engine) Mutate(ctx context.Context, fn func() error) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	return e.rebuildLocked(false)
}

// rebuildLocked rebuilds the graph if it's stale or force is true. Must
// be called under the port-operation lock.
func (e *Engine) rebuildLocked(force bool) error {
	if e.router == nil {
		// not set up yet, graph is built on setup.
		return nil
	}
	if g := e.router.Graph(); !force && g != nil && g.Version == e.arena.Version() {
		return nil
	}
	return e.router.Build(e.allUnits(), e.arena.Version())
}

// restoreLocked rebuilds the graph after a reverted change. The topology
// is the same as before the change, but its version moved on.
func (e *Engine) restoreLocked() {
	if err := e.rebuildLocked(false); err != nil {
		e.log.WithError(err).Error("restore graph")
	}
}

// Rebuild rebuilds the graph unconditionally. It must be called after
// changes the engine cannot detect, e.g. plugin bypass.
func (e *Engine) Rebuild(ctx context.Context) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	return e.rebuildLocked(true)
}

// AddUnit adds the unit to the graph. Its ports must be allocated in the
// engine arena. The unit is not added if the graph becomes inconsistent.
func (e *Engine) AddUnit(ctx context.Context, u graph.Unit) error {
	if err := e.expect("add unit", PreSetup, Setup, Activated, Deactivated); err != nil {
		return err
	}
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	if indexOf(e.allUnits(), u) >= 0 {
		return fmt.Errorf("add unit %s: %w", u.Name(), &graph.InconsistencyError{
			Node:   u.Name(),
			Reason: "unit is added twice",
		})
	}
	e.units = append(e.units, u)
	if err := e.rebuildLocked(true); err != nil {
		e.units = e.units[:len(e.units)-1]
		return fmt.Errorf("add unit %s: %w", u.Name(), err)
	}
	return nil
}

// RemoveUnit disconnects the unit and removes it from the graph. Ports of
// the unit are released if it supports it.
func (e *Engine) RemoveUnit(ctx context.Context, u graph.Unit) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	i := indexOf(e.units, u)
	if i < 0 {
		return fmt.Errorf("remove unit %s: not found", u.Name())
	}
	e.units = append(e.units[:i], e.units[i+1:]...)
	for _, p := range u.Ports() {
		p.DisconnectAll()
	}
	if r, ok := u.(releaser); ok {
		r.Release()
	}
	return e.rebuildLocked(true)
}

// Connect connects output src to input dst. The connection is reverted
// if the graph becomes inconsistent.
func (e *Engine) Connect(ctx context.Context, src, dst *port.Port) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	if err := src.Connect(dst, false); err != nil {
		return err
	}
	if err := e.rebuildLocked(false); err != nil {
		src.Disconnect(dst)
		e.restoreLocked()
		return fmt.Errorf("connect %v to %v: %w", src, dst, err)
	}
	return nil
}

// ConnectStereo connects both channels of src to dst.
func (e *Engine) ConnectStereo(ctx context.Context, src, dst port.Stereo) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	if err := src.Connect(dst); err != nil {
		return err
	}
	if err := e.rebuildLocked(false); err != nil {
		src.L.Disconnect(dst.L)
		src.R.Disconnect(dst.R)
		e.restoreLocked()
		return fmt.Errorf("connect %v to %v: %w", src.L, dst.L, err)
	}
	return nil
}

// Disconnect removes the connection between ports.
func (e *Engine) Disconnect(ctx context.Context, src, dst *port.Port) error {
	return e.Mutate(ctx, func() error {
		src.Disconnect(dst)
		return nil
	})
}

// UpdateLatencies refreshes latencies reported by units and rebuilds the
// graph if any of them changed.
func (e *Engine) UpdateLatencies(ctx context.Context) (bool, error) {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer e.lock.Release(1)
	changed := false
	for _, u := range e.units {
		if r, ok := u.(latencyReporter); ok && r.RefreshLatency() {
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	if err := e.rebuildLocked(true); err != nil {
		return true, err
	}
	e.log.WithField("latency", e.router.MaxRoutePlaybackLatency()).Debug("latencies updated")
	return true, nil
}

// SetBlockLength reallocates all port buffers to the new block length.
func (e *Engine) SetBlockLength(ctx context.Context, blockLength int) error {
	if !contains(BufferSizes, blockLength) {
		return fmt.Errorf("block length %d: %w", blockLength, ErrConfiguration)
	}
	if err := e.expect("set block length", PreSetup, Setup, Activated, Deactivated); err != nil {
		return err
	}
	return e.reallocate(ctx, blockLength)
}

// reallocate resizes the arena under the port-operation lock and asks
// units to reallocate their port buffers.
func (e *Engine) reallocate(ctx context.Context, blockLength int) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	e.arena.Resize(blockLength)
	e.config.BlockLength = blockLength
	var errs execErrors
	for _, u := range e.units {
		if r, ok := u.(reallocator); ok {
			if err := r.ReallocatePortBuffers(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", u.Name(), err))
			}
		}
	}
	return errs.ret()
}

func indexOf(units []graph.Unit, u graph.Unit) int {
	for i := range units {
		if units[i] == u {
			return i
		}
	}
	return -1
}
