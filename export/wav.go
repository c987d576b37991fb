package export

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// BitDepth of integer samples.
type BitDepth int

// Supported bit depths.
const (
	BitDepth16 BitDepth = 16
	BitDepth24 BitDepth = 24
)

// wavPCM is the audio format code of integer samples.
const wavPCM = 1

// WAVEncoder writes interleaved integer PCM.
type WAVEncoder struct {
	encoder *wav.Encoder
	ib      *audio.IntBuffer
	scale   float32
}

// NewWAV returns a stereo wav encoder. The header is written on Close, so
// the writer must support seeking.
func NewWAV(ws io.WriteSeeker, sampleRate int, bitDepth BitDepth) *WAVEncoder {
	return &WAVEncoder{
		encoder: wav.NewEncoder(ws, sampleRate, int(bitDepth), 2, wavPCM),
		ib: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: 2,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: int(bitDepth),
		},
		scale: float32(int(1)<<(bitDepth-1) - 1),
	}
}

// Encode converts floats to integers and writes them. Samples are
// clipped to [-1, 1].
func (e *WAVEncoder) Encode(l, r []float32) error {
	if cap(e.ib.Data) < 2*len(l) {
		e.ib.Data = make([]int, 2*len(l))
	}
	e.ib.Data = e.ib.Data[:2*len(l)]
	for i := range l {
		e.ib.Data[2*i] = int(clip(l[i]) * e.scale)
		e.ib.Data[2*i+1] = int(clip(r[i]) * e.scale)
	}
	return e.encoder.Write(e.ib)
}

// Close writes the header.
func (e *WAVEncoder) Close() error {
	return e.encoder.Close()
}

func clip(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
