package port

import (
	"sync"
	"sync/atomic"
)

// DefaultEventCapacity is the number of events an event port can hold in
// a single cycle.
const DefaultEventCapacity = 256

// Arena owns fixed-capacity buffers of all ports. Buffers are indexed by
// port slot and resized only through Resize, which must never be called
// while a cycle is running.
type Arena struct {
	mu            sync.Mutex
	blockLength   int
	eventCapacity int
	bufs          [][]float32
	ports         []*Port
	free          []int
	version       uint64
}

// NewArena returns an arena for the provided block length.
func NewArena(blockLength, eventCapacity int) *Arena {
	if eventCapacity <= 0 {
		eventCapacity = DefaultEventCapacity
	}
	return &Arena{
		blockLength:   blockLength,
		eventCapacity: eventCapacity,
	}
}

// New allocates a port with a buffer sized to the current block length.
// UID is generated if not provided.
func (a *Arena) New(id ID) *Port {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id.UID == "" {
		id.UID = newUID()
	}
	p := &Port{
		ID:    id,
		arena: a,
	}
	if id.Type == Event {
		p.events = NewEventBuffer(a.eventCapacity)
	}
	buf := make([]float32, a.blockLength)
	if n := len(a.free); n > 0 {
		p.slot = a.free[n-1]
		a.free = a.free[:n-1]
		a.bufs[p.slot] = buf
		a.ports[p.slot] = p
	} else {
		p.slot = len(a.bufs)
		a.bufs = append(a.bufs, buf)
		a.ports = append(a.ports, p)
	}
	return p
}

// Release disconnects the port and returns its slot to the arena.
func (a *Arena) Release(p *Port) {
	p.DisconnectAll()
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.slot >= len(a.ports) || a.ports[p.slot] != p {
		return
	}
	a.ports[p.slot] = nil
	a.bufs[p.slot] = nil
	a.free = append(a.free, p.slot)
}

// Resize reallocates all buffers to the new block length and zeroes them.
func (a *Arena) Resize(blockLength int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.bufs {
		if a.ports[i] == nil {
			continue
		}
		if cap(a.bufs[i]) >= blockLength {
			a.bufs[i] = a.bufs[i][:blockLength]
			for j := range a.bufs[i] {
				a.bufs[i][j] = 0
			}
			continue
		}
		a.bufs[i] = make([]float32, blockLength)
	}
	a.blockLength = blockLength
}

// BlockLength returns the current length of port buffers.
func (a *Arena) BlockLength() int {
	return a.blockLength
}

// Ports returns all live ports of the arena.
func (a *Arena) Ports() []*Port {
	a.mu.Lock()
	defer a.mu.Unlock()
	ports := make([]*Port, 0, len(a.ports)-len(a.free))
	for _, p := range a.ports {
		if p != nil {
			ports = append(ports, p)
		}
	}
	return ports
}

// ClearAll zeroes buffers and events of all ports. It is called from the
// processing thread under the port-operation lock and never allocates.
func (a *Arena) ClearAll() {
	for _, p := range a.ports {
		if p != nil {
			p.Clear()
		}
	}
}

// Version returns the topology version. It changes every time a
// connection is added or removed.
func (a *Arena) Version() uint64 {
	return atomic.LoadUint64(&a.version)
}

func (a *Arena) invalidate() {
	atomic.AddUint64(&a.version, 1)
}

func (a *Arena) buffer(slot int) []float32 {
	return a.bufs[slot][:a.blockLength]
}
