package worker_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/engine/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool(t *testing.T) {
	var (
		sum int64
		wg  sync.WaitGroup
	)
	p := worker.NewPool(4, 16, func(v int) {
		atomic.AddInt64(&sum, int64(v))
		wg.Done()
	})
	assert.ErrorIs(t, p.Submit(1), worker.ErrPoolNotStarted)
	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), worker.ErrPoolAlreadyStarted)

	for i := 1; i <= 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(i))
	}
	wg.Wait()
	p.Stop()
	assert.Equal(t, int64(55), atomic.LoadInt64(&sum))
	assert.Equal(t, int64(10), p.Processed())
	assert.ErrorIs(t, p.Submit(1), worker.ErrPoolNotStarted)
	// stop is idempotent.
	p.Stop()
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	p := worker.NewPool(1, 1, func(int) {
		started <- struct{}{}
		<-block
	})
	require.NoError(t, p.Start())
	require.NoError(t, p.Submit(1))
	<-started
	require.NoError(t, p.Submit(2))
	assert.ErrorIs(t, p.Submit(3), worker.ErrQueueFull)

	close(block)
	<-started
	p.Stop()
	assert.Equal(t, int64(2), p.Processed())
}

func TestDefaults(t *testing.T) {
	p := worker.NewPool(0, 0, func(int) {})
	assert.Equal(t, 1, p.Workers())
	assert.Equal(t, 64, p.QueueSize())
	assert.PanicsWithValue(t, worker.ErrNilProcessor, func() {
		worker.NewPool[int](1, 1, nil)
	})
}
