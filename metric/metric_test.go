package metric_test

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine/metric"
)

func TestMeter(t *testing.T) {
	sampleRate := 44100
	pint := 1
	// test cases
	var tests = []struct {
		component          interface{}
		routines           int
		cycles             int
		frames             int64
		expectedFrames     string
		expectedComponents string
	}{
		{
			component:          int(1),
			routines:           2,
			cycles:             10,
			frames:             100,
			expectedFrames:     "2000",
			expectedComponents: "2",
		},
		{
			component:          &pint,
			routines:           2,
			cycles:             10,
			frames:             100,
			expectedFrames:     "4000",
			expectedComponents: "4",
		},
	}
	// function to test meter.
	testFn := func(fn func(int64), wg *sync.WaitGroup, cycles int, frames int64) {
		for i := 0; i < cycles; i++ {
			fn(frames)
		}
		wg.Done()
	}

	for _, c := range tests {
		wg := &sync.WaitGroup{}
		wg.Add(c.routines)
		for i := 0; i < c.routines; i++ {
			go testFn(metric.Meter(c.component, sampleRate)(), wg, c.cycles, c.frames)
		}
		// check if no data race.
		wg.Wait()
		values := metric.Get(c.component)
		assert.Equal(t, c.expectedFrames, values[metric.FrameCounter])
		assert.Equal(t, c.expectedComponents, values[metric.ComponentCounter])
	}
	assert.Contains(t, metric.GetAll(), "int")
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, time.Second, metric.DurationOf(48000, 48000))
	assert.Equal(t, 5*time.Millisecond, metric.DurationOf(48000, 240))
	assert.Zero(t, metric.DurationOf(0, 240))
}

func TestEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := metric.NewEngine("test")
	require.NoError(t, e.Register(reg))
	// second registration fails.
	assert.Error(t, e.Register(reg))

	e.ObserveCycle(time.Millisecond, 4*time.Millisecond)
	e.ObserveCycle(2*time.Millisecond, 4*time.Millisecond)
	e.SkippedCycles.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		m := f.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			values[f.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[f.GetName()] = m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			values[f.GetName()] = float64(m.GetHistogram().GetSampleCount())
		}
	}
	assert.Equal(t, float64(2), values["engine_cycle_processed_total"])
	assert.Equal(t, float64(1), values["engine_cycle_skipped_total"])
	assert.Equal(t, 0.5, values["engine_cycle_dsp_load_ratio"])
	assert.Equal(t, float64(2), values["engine_cycle_duration_seconds"])

	e.Unregister(reg)
	require.NoError(t, e.Register(reg))
}
