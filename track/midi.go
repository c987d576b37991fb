package track

import (
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
)

// Note is a MIDI note on the timeline.
type Note struct {
	At       int64
	Len      int64
	Channel  uint8
	Key      uint8
	Velocity uint8
}

// scheduled is a prepared message of the note.
type scheduled struct {
	at  int64
	msg midi.Message
}

// MIDITrack plays notes from the timeline to its event output. Events
// received on its input are passed through.
type MIDITrack struct {
	name   string
	arena  *port.Arena
	In     *port.Port
	Out    *port.Port
	ports  []*port.Port
	events []scheduled
}

// NewMIDITrack returns a MIDI track with ports allocated in the arena.
func NewMIDITrack(arena *port.Arena, name string) *MIDITrack {
	uid := fmt.Sprintf("midi:%s", name)
	t := &MIDITrack{
		name:  name,
		arena: arena,
		In:    arena.New(port.ID{Label: name + " in", Owner: uid, Flow: port.Input, Type: port.Event}),
		Out:   arena.New(port.ID{Label: name + " out", Owner: uid, Flow: port.Output, Type: port.Event}),
	}
	t.ports = []*port.Port{t.In, t.Out}
	return t
}

// Name returns the track name.
func (t *MIDITrack) Name() string {
	return t.name
}

// Kind always returns graph.Track.
func (*MIDITrack) Kind() graph.Kind {
	return graph.Track
}

// Ports returns event input and output.
func (t *MIDITrack) Ports() []*port.Port {
	return t.ports
}

// Latency of the track is zero.
func (*MIDITrack) Latency() int {
	return 0
}

// AddNote schedules note on and note off messages.
func (t *MIDITrack) AddNote(n Note) {
	t.events = append(t.events,
		scheduled{at: n.At, msg: midi.NoteOn(n.Channel, n.Key, n.Velocity)},
		scheduled{at: n.At + n.Len, msg: midi.NoteOff(n.Channel, n.Key)},
	)
	sort.SliceStable(t.events, func(i, j int) bool {
		return t.events[i].at < t.events[j].at
	})
}

// Process writes input events and events scheduled inside the region.
func (t *MIDITrack) Process(tm graph.Time) error {
	out := t.Out.Events()
	if tm.Local == 0 {
		out.Reset()
	}
	for _, e := range t.In.Events().Events() {
		if e.Time >= tm.Local && e.Time < tm.Local+tm.Frames {
			out.Add(e.Time, e.Message)
		}
	}
	if !tm.Rolling {
		return nil
	}
	end := tm.Global + int64(tm.Frames)
	i := sort.Search(len(t.events), func(i int) bool {
		return t.events[i].at >= tm.Global
	})
	for ; i < len(t.events) && t.events[i].at < end; i++ {
		out.Add(tm.Local+int(t.events[i].at-tm.Global), t.events[i].msg)
	}
	return nil
}

// Release frees ports of the track.
func (t *MIDITrack) Release() {
	t.arena.Release(t.In)
	t.arena.Release(t.Out)
}
