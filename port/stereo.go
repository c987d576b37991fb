package port

import "fmt"

// Stereo is a pair of audio ports.
type Stereo struct {
	L, R *Port
}

// NewStereo allocates a pair of audio ports with " L" and " R" label
// suffixes.
func (a *Arena) NewStereo(label, owner string, flow Flow, flags Flags) Stereo {
	return Stereo{
		L: a.New(ID{Label: label + " L", Owner: owner, Flow: flow, Type: Audio, Flags: flags}),
		R: a.New(ID{Label: label + " R", Owner: owner, Flow: flow, Type: Audio, Flags: flags}),
	}
}

// Connect connects left to left and right to right.
func (s Stereo) Connect(dst Stereo) error {
	if err := s.L.Connect(dst.L, false); err != nil {
		return fmt.Errorf("left: %w", err)
	}
	if err := s.R.Connect(dst.R, false); err != nil {
		s.L.Disconnect(dst.L)
		return fmt.Errorf("right: %w", err)
	}
	return nil
}

// Disconnect removes all connections of both ports.
func (s Stereo) Disconnect() {
	s.L.DisconnectAll()
	s.R.DisconnectAll()
}

// Clear zeroes both buffers.
func (s Stereo) Clear() {
	s.L.Clear()
	s.R.Clear()
}

// Ports returns both ports as a slice.
func (s Stereo) Ports() []*Port {
	return []*Port{s.L, s.R}
}
