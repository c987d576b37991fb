package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTempoReadsDoNotBlock(t *testing.T) {
	tr := New(WithTempo(120, 3, 4))
	tr.UpdateFramesPerTick(48000)

	// a tempo change is in progress.
	tr.mu.Lock()
	defer tr.mu.Unlock()

	type beat struct {
		frames      int64
		beatsPerBar int
	}
	done := make(chan beat, 1)
	go func() {
		done <- beat{frames: tr.FramesPerBeat(), beatsPerBar: tr.BeatsPerBar()}
	}()
	select {
	case b := <-done:
		assert.Equal(t, int64(24000), b.frames)
		assert.Equal(t, 3, b.beatsPerBar)
	case <-time.After(time.Second):
		t.Fatal("tempo reads are blocked by the tempo lock")
	}
}
