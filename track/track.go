// Package track provides units that read the timeline and units of the
// monitoring path: audio and MIDI tracks, faders, the sample processor and
// the metronome.
//
// Clips and notes must be changed only while no cycle is running, i.e.
// inside an engine mutation.
package track

import (
	"fmt"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
)

// Track is a sequence of clips played to a stereo output.
type Track struct {
	name  string
	uid   string
	arena *port.Arena
	Out   port.Stereo
	ports []*port.Port

	start *clip
	end   *clip
}

// clip is a Clip in the track. It uses double-linked list structure.
type clip struct {
	At int64
	Clip
	Next *clip
	Prev *clip
}

// End returns an end index of the clip.
func (c *clip) End() int64 {
	if c == nil {
		return -1
	}
	return c.At + int64(c.Len)
}

// New creates a new track with ports allocated in the arena.
func New(arena *port.Arena, name string) *Track {
	uid := fmt.Sprintf("track:%s", name)
	t := &Track{
		name:  name,
		uid:   uid,
		arena: arena,
		Out:   arena.NewStereo(name+" out", uid, port.Output, 0),
	}
	t.ports = t.Out.Ports()
	return t
}

// Name returns the track name.
func (t *Track) Name() string {
	return t.name
}

// Kind always returns graph.Track.
func (*Track) Kind() graph.Kind {
	return graph.Track
}

// Ports returns stereo output of the track.
func (t *Track) Ports() []*port.Port {
	return t.ports
}

// Latency of the track is zero.
func (*Track) Latency() int {
	return 0
}

// Process writes clips at the timeline position to the output. Output is
// silent if the track is not rolling.
func (t *Track) Process(tm graph.Time) error {
	l := t.Out.L.Buffer()[tm.Local : tm.Local+tm.Frames]
	r := t.Out.R.Buffer()[tm.Local : tm.Local+tm.Frames]
	for i := range l {
		l[i] = 0
		r[i] = 0
	}
	if !tm.Rolling {
		return nil
	}
	t.readAt(tm.Global, l, r)
	return nil
}

// Release frees ports of the track.
func (t *Track) Release() {
	t.arena.Release(t.Out.L)
	t.arena.Release(t.Out.R)
}

// readAt copies clips overlapping the region starting at pos.
func (t *Track) readAt(pos int64, l, r []float32) {
	end := pos + int64(len(l))
	for c := t.start; c != nil && c.At < end; c = c.Next {
		if c.End() <= pos {
			continue
		}
		from := max(c.At, pos)
		to := min(c.End(), end)
		src := c.Start + (from - c.At)
		n := int(to - from)
		copy(l[from-pos:], c.channel(0)[src:src+int64(n)])
		copy(r[from-pos:], c.channel(1)[src:src+int64(n)])
	}
}

// Reset flushes all clips from the track.
func (t *Track) Reset() {
	t.start = nil
	t.end = nil
}

// Clips returns positions and clips of the track in timeline order.
func (t *Track) Clips() ([]int64, []Clip) {
	var (
		at    []int64
		clips []Clip
	)
	for c := t.start; c != nil; c = c.Next {
		at = append(at, c.At)
		clips = append(clips, c.Clip)
	}
	return at, clips
}

// clipAfter searches for a first clip starting at or after passed index.
func (t *Track) clipAfter(index int64) *clip {
	for c := t.start; c != nil; c = c.Next {
		if c.At >= index {
			return c
		}
	}
	return nil
}

// End returns the timeline position right after the last clip.
func (t *Track) End() int64 {
	if t.end == nil {
		return 0
	}
	return t.end.End()
}

// AddClip places the clip on the timeline. Overlapped regions of other
// clips are cut out.
func (t *Track) AddClip(at int64, f Clip) {
	c := &clip{
		At:   at,
		Clip: f,
	}

	if t.start == nil {
		t.start = c
		t.end = c
		return
	}

	var next, prev *clip
	if next = t.clipAfter(at); next != nil {
		prev = next.Prev
		next.Prev = c
	} else {
		prev = t.end
		t.end = c
	}

	if prev != nil {
		prev.Next = c
	} else {
		t.start = c
	}
	c.Next = next
	c.Prev = prev

	t.resolveOverlaps(c)
}

func (t *Track) resolveOverlaps(c *clip) {
	t.alignNextClip(c)
	t.alignPrevClip(c)
}

func (t *Track) alignNextClip(c *clip) {
	next := c.Next
	if next == nil {
		return
	}
	overlap := int(c.End() - next.At)
	if overlap <= 0 {
		return
	}
	if next.Len > overlap {
		// shorten next
		next.Start += int64(overlap)
		next.Len -= overlap
		next.At += int64(overlap)
		return
	}
	// remove next
	c.Next = next.Next
	if c.Next != nil {
		c.Next.Prev = c
	} else {
		t.end = c
	}
	t.alignNextClip(c)
}

func (t *Track) alignPrevClip(c *clip) {
	prev := c.Prev
	if prev == nil {
		return
	}
	overlap := int(prev.End() - c.At)
	if overlap <= 0 {
		return
	}
	prev.Len -= overlap
	if overlap > c.Len {
		// prev continues after the clip.
		at := c.End()
		t.AddClip(at, prev.Asset.Clip(prev.Start+(at-prev.At), overlap-c.Len))
	}
}
