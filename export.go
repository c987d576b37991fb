package engine

import (
	"context"
	"fmt"
)

// ExportFunc receives rendered frames of the monitor output.
type ExportFunc func(l, r []float32) error

// Export renders frames of the timeline from position zero without the
// audio backend. The engine must be set up and not activated. Frames
// processed during the latency preroll are not passed to fn. Structural
// mutations must not be done while exporting.
func (e *Engine) Export(ctx context.Context, frames int64, fn ExportFunc) error {
	if err := e.expect("export", Setup, Deactivated); err != nil {
		return err
	}
	e.exporting.Store(true)
	e.run.Store(true)
	defer func() {
		e.transport.Stop()
		e.run.Store(false)
		e.exporting.Store(false)
	}()

	e.transport.Locate(0)
	e.transport.RequestRoll()
	blockLength := e.arena.BlockLength()
	e.log.WithField("frames", frames).Info("export started")
	for e.transport.Playhead() < frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Process(blockLength); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if e.rolled == 0 {
			continue
		}
		start, end := blockLength-e.rolled, blockLength
		if over := e.transport.Playhead() - frames; over > 0 {
			end -= int(over)
		}
		l, r := e.monitorOut.in.L.Buffer(), e.monitorOut.in.R.Buffer()
		if err := fn(l[start:end], r[start:end]); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	e.log.Info("export finished")
	return nil
}
