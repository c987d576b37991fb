package backend

import (
	"gitlab.com/gomidi/midi/v2"

	"pipelined.dev/engine/port"
)

// shortMessage fits a channel message into a fixed array, so queueing it
// never allocates.
type shortMessage struct {
	len  int
	data [3]byte
}

// MIDIQueue passes short MIDI messages from a driver thread to the engine
// cycle. Push never blocks: messages are dropped when the queue is full.
type MIDIQueue struct {
	queue chan shortMessage
	// store keeps bytes of delivered messages until the engine resets
	// its event buffers.
	store [][3]byte
	next  int
}

// NewMIDIQueue returns a queue able to hold size messages. Size must not
// be less than capacity of event buffers the queue delivers to.
func NewMIDIQueue(size int) *MIDIQueue {
	return &MIDIQueue{
		queue: make(chan shortMessage, size),
		store: make([][3]byte, size),
	}
}

// Push queues the message. Messages longer than three bytes are ignored.
// It returns false if the message was not queued.
func (q *MIDIQueue) Push(b []byte) bool {
	if len(b) == 0 || len(b) > 3 {
		return false
	}
	var msg shortMessage
	msg.len = copy(msg.data[:], b)
	select {
	case q.queue <- msg:
		return true
	default:
		return false
	}
}

// Deliver moves queued messages into the event buffer at frame 0. Only
// the engine cycle may call it. Messages that don't fit stay queued.
func (q *MIDIQueue) Deliver(events *port.EventBuffer) {
	for events.Len() < events.Cap() {
		select {
		case msg := <-q.queue:
			b := &q.store[q.next]
			q.next = (q.next + 1) % len(q.store)
			copy(b[:], msg.data[:msg.len])
			events.Add(0, midi.Message(b[:msg.len]))
		default:
			return
		}
	}
}

// Len returns number of queued messages.
func (q *MIDIQueue) Len() int {
	return len(q.queue)
}
