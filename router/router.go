/*
Package router executes the processing graph once per hardware callback.

A callback is split into sub-cycles. While the latency preroll is not
exhausted, sub-cycles are shortened so that every route starts rolling
exactly at the frame where the preroll left equals its route playback
latency. Once the preroll is over, the rest of the callback is processed
in a single sub-cycle.

Within a sub-cycle every node runs exactly once, after all of its parents.
Nodes can be dispatched to a fixed worker pool; the sub-cycle ends when
all nodes are processed.
*/
package router

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/internal/worker"
	"pipelined.dev/engine/log"
	"pipelined.dev/engine/port"
)

// ErrNodeExecution is matched by errors of units failed during a cycle.
var ErrNodeExecution = errors.New("node execution failure")

// NodeError is reported when a unit fails or panics during a cycle. Its
// outputs are zeroed for the failed sub-cycle.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%v: node %q: %v", ErrNodeExecution, e.Node, e.Err)
}

// Is allows to match the error with ErrNodeExecution.
func (e *NodeError) Is(target error) bool {
	return target == ErrNodeExecution
}

// Unwrap returns the error of the unit.
func (e *NodeError) Unwrap() error {
	return e.Err
}

type (
	// SubCycle describes one execution of the graph.
	SubCycle struct {
		// Offset of the first frame inside the callback buffers.
		Offset int
		// Frames processed in the sub-cycle.
		Frames int
		// Preroll left at the start of the sub-cycle.
		Preroll int
		// Playhead position at the start of the sub-cycle.
		Playhead int64
		Rolling  bool
	}

	// Router owns the graph and runs cycles.
	Router struct {
		log      logrus.FieldLogger
		graph    atomic.Pointer[graph.Graph]
		workers  int
		pool     *worker.Pool[*graph.Node]
		pending  sync.WaitGroup
		reports  chan<- error
		hook     func(SubCycle)
		failures int64

		// remainingPreroll is only accessed from the processing thread
		// or under the port-operation lock.
		remainingPreroll int
		current          cycle
	}

	// Option configures the router.
	Option func(*Router)

	cycle struct {
		offset   int
		frames   int
		preroll  int
		playhead int64
		rolling  bool
		denormal float32
	}
)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Router) {
		r.log = l
	}
}

// WithWorkers sets number of workers used to process independent
// branches. Zero means serial execution on the calling thread.
func WithWorkers(n int) Option {
	return func(r *Router) {
		r.workers = n
	}
}

// WithReports sets a channel to report node failures to. Reports are
// sent without blocking and dropped if the channel is full.
func WithReports(c chan<- error) Option {
	return func(r *Router) {
		r.reports = c
	}
}

// WithSubCycleHook sets a function called before every sub-cycle. The
// hook runs on the processing thread.
func WithSubCycleHook(fn func(SubCycle)) Option {
	return func(r *Router) {
		r.hook = fn
	}
}

// New returns a router without a graph.
func New(options ...Option) *Router {
	r := &Router{
		log: log.GetLogger(),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Build creates a new graph from units and swaps it in. Must be called
// while no cycle is running.
func (r *Router) Build(units []graph.Unit, version uint64) error {
	g, err := graph.Build(units, version)
	if err != nil {
		return err
	}
	r.SetGraph(g)
	r.log.WithFields(logrus.Fields{
		"nodes":    len(g.Nodes),
		"triggers": len(g.Triggers),
		"latency":  g.MaxRoutePlaybackLatency,
	}).Debug("graph rebuilt")
	return nil
}

// SetGraph swaps the graph. The worker pool is resized if the graph has
// more nodes than the pool queue can hold.
func (r *Router) SetGraph(g *graph.Graph) {
	if r.workers > 0 && (r.pool == nil || r.pool.QueueSize() < len(g.Nodes)) {
		if r.pool != nil {
			r.pool.Stop()
		}
		r.pool = worker.NewPool(r.workers, 2*len(g.Nodes)+1, r.work)
		// pool is stopped, start cannot fail.
		_ = r.pool.Start()
	}
	r.graph.Store(g)
}

// Graph returns the current graph.
func (r *Router) Graph() *graph.Graph {
	return r.graph.Load()
}

// Close stops the worker pool.
func (r *Router) Close() {
	if r.pool != nil {
		r.pool.Stop()
		r.pool = nil
	}
}

// MaxRoutePlaybackLatency returns the longest pipeline delay of the graph.
func (r *Router) MaxRoutePlaybackLatency() int {
	if g := r.graph.Load(); g != nil {
		return g.MaxRoutePlaybackLatency
	}
	return 0
}

// StartPreroll sets the remaining preroll to the maximum route playback
// latency. Called when the transport starts rolling.
func (r *Router) StartPreroll() int {
	r.remainingPreroll = r.MaxRoutePlaybackLatency()
	return r.remainingPreroll
}

// CancelPreroll drops the remaining preroll.
func (r *Router) CancelPreroll() {
	r.remainingPreroll = 0
}

// RemainingPreroll returns number of preroll frames left.
func (r *Router) RemainingPreroll() int {
	return r.remainingPreroll
}

// Failures returns number of node failures since the router was created.
func (r *Router) Failures() int64 {
	return atomic.LoadInt64(&r.failures)
}

// Run processes nframes of the callback. Preroll sub-cycles are executed
// first, then the rest of the frames is processed in one sub-cycle. It
// returns number of frames processed after the preroll was exhausted.
func (r *Router) Run(nframes int, playhead int64, rolling bool, denormal float32) int {
	remaining := nframes
	for r.remainingPreroll > 0 && remaining > 0 {
		n := r.prerollFrames(min(remaining, r.remainingPreroll))
		r.StartCycle(nframes-remaining, n, playhead, rolling, denormal)
		r.remainingPreroll -= n
		remaining -= n
	}
	if remaining > 0 {
		r.StartCycle(nframes-remaining, remaining, playhead, rolling, denormal)
	}
	return remaining
}

// prerollFrames shortens the preroll sub-cycle to the closest frame where
// any route must start rolling.
func (r *Router) prerollFrames(n int) int {
	g := r.graph.Load()
	if g == nil {
		return n
	}
	for _, latency := range g.Latencies {
		if r.remainingPreroll > latency+n {
			// no-roll for the whole sub-cycle.
			continue
		}
		if r.remainingPreroll > latency {
			// partial roll: split at the frame the route starts.
			n = min(n, r.remainingPreroll-latency)
		}
	}
	return n
}

// StartCycle executes the whole graph once for frames starting at offset.
func (r *Router) StartCycle(offset, frames int, playhead int64, rolling bool, denormal float32) {
	g := r.graph.Load()
	if g == nil || frames == 0 {
		return
	}
	r.current = cycle{
		offset:   offset,
		frames:   frames,
		preroll:  r.remainingPreroll,
		playhead: playhead,
		rolling:  rolling,
		denormal: denormal,
	}
	if r.hook != nil {
		r.hook(SubCycle{
			Offset:   offset,
			Frames:   frames,
			Preroll:  r.remainingPreroll,
			Playhead: playhead,
			Rolling:  rolling,
		})
	}
	g.Reset()
	if r.pool == nil {
		for _, n := range g.Order {
			r.processNode(n)
		}
		return
	}
	r.pending.Add(len(g.Nodes))
	for _, n := range g.Triggers {
		r.dispatch(n)
	}
	// barrier: all nodes are processed.
	r.pending.Wait()
}

func (r *Router) dispatch(n *graph.Node) {
	if err := r.pool.Submit(n); err != nil {
		r.work(n)
	}
}

// work processes the node and dispatches children that became ready.
func (r *Router) work(n *graph.Node) {
	r.processNode(n)
	for _, c := range n.Children {
		if c.Release() {
			r.dispatch(c)
		}
	}
	r.pending.Done()
}

func (r *Router) processNode(n *graph.Node) {
	if !n.MarkProcessed() {
		return
	}
	c := r.current
	ports := n.Unit.Ports()
	for _, p := range ports {
		if p.Flow != port.Input {
			continue
		}
		switch p.Type {
		case port.Audio, port.CV:
			p.ClearRange(c.offset, c.frames)
		case port.Event:
			if c.offset == 0 {
				p.Events().Reset()
			}
		}
		p.SumSources(c.offset, c.frames)
	}

	t := graph.Time{
		Local:    c.offset,
		Frames:   c.frames,
		Denormal: c.denormal,
	}
	if n.RoutePlaybackLatency < c.preroll && !exempt(n.Unit.Kind()) {
		// no-roll: the route keeps waiting for the preroll.
		clearOutputs(ports, c.offset, c.frames)
		return
	}
	if c.rolling && n.RoutePlaybackLatency >= c.preroll {
		t.Rolling = true
		t.Global = c.playhead + int64(n.RoutePlaybackLatency-c.preroll)
	}
	if err := process(n.Unit, t); err != nil {
		clearOutputs(ports, c.offset, c.frames)
		atomic.AddInt64(&r.failures, 1)
		r.report(&NodeError{Node: n.Unit.Name(), Err: err})
	}
}

func (r *Router) report(err error) {
	if r.reports == nil {
		return
	}
	select {
	case r.reports <- err:
	default:
	}
}

// exempt returns true for kinds that are processed during preroll: they
// carry backend data and never read the timeline.
func exempt(k graph.Kind) bool {
	return k == graph.HardwarePort || k == graph.Terminal
}

// process calls the unit and converts panics into errors.
func process(u graph.Unit, t graph.Time) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return u.Process(t)
}

func clearOutputs(ports []*port.Port, offset, frames int) {
	for _, p := range ports {
		if p.Flow != port.Output {
			continue
		}
		switch p.Type {
		case port.Audio, port.CV:
			p.ClearRange(offset, frames)
		case port.Event:
			p.Events().RemoveRange(offset, frames)
		}
	}
}
