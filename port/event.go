package port

import (
	"gitlab.com/gomidi/midi/v2"
)

// TimedEvent is a MIDI message scheduled at a frame offset of the current
// cycle.
type TimedEvent struct {
	Time    int
	Message midi.Message
}

// EventBuffer is a fixed-capacity list of events. Adding events never
// allocates: once the buffer is full, new events are dropped.
type EventBuffer struct {
	events  []TimedEvent
	dropped int
}

// NewEventBuffer returns a buffer able to hold capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{
		events: make([]TimedEvent, 0, capacity),
	}
}

// Add appends the event. False is returned if the buffer is full.
func (b *EventBuffer) Add(time int, msg midi.Message) bool {
	if len(b.events) == cap(b.events) {
		b.dropped++
		return false
	}
	b.events = append(b.events, TimedEvent{Time: time, Message: msg})
	return true
}

// Events returns events added in this cycle.
func (b *EventBuffer) Events() []TimedEvent {
	return b.events
}

// Len returns number of events in the buffer.
func (b *EventBuffer) Len() int {
	return len(b.events)
}

// Cap returns number of events the buffer can hold.
func (b *EventBuffer) Cap() int {
	return cap(b.events)
}

// Dropped returns number of events dropped since the last reset.
func (b *EventBuffer) Dropped() int {
	return b.dropped
}

// Reset empties the buffer.
func (b *EventBuffer) Reset() {
	b.events = b.events[:0]
	b.dropped = 0
}

// RemoveRange drops events with time in [offset, offset+n).
func (b *EventBuffer) RemoveRange(offset, n int) {
	kept := b.events[:0]
	for _, ev := range b.events {
		if ev.Time < offset || ev.Time >= offset+n {
			kept = append(kept, ev)
		}
	}
	clear(b.events[len(kept):])
	b.events = kept
}

// allNotesOff holds CC 123 for every channel.
var allNotesOff = func() (msgs [16]midi.Message) {
	for ch := range msgs {
		msgs[ch] = midi.ControlChange(uint8(ch), 123, 0)
	}
	return msgs
}()

// Panic adds all-notes-off messages for every channel at frame 0.
func (b *EventBuffer) Panic() {
	for _, msg := range allNotesOff {
		b.Add(0, msg)
	}
}
