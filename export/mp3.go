package export

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/viert/lame"
)

// Default mp3 settings.
const (
	DefaultBitRate = 192
	DefaultQuality = 2
)

// MP3Encoder encodes 16-bit samples with lame.
type MP3Encoder struct {
	w   *lame.LameWriter
	buf bytes.Buffer
}

// NewMP3 returns a joint stereo encoder.
func NewMP3(w io.Writer, sampleRate, bitRate, quality int) *MP3Encoder {
	e := MP3Encoder{
		w: lame.NewWriter(w),
	}
	e.w.Encoder.SetBitrate(bitRate)
	e.w.Encoder.SetQuality(quality)
	e.w.Encoder.SetNumChannels(2)
	e.w.Encoder.SetInSamplerate(sampleRate)
	e.w.Encoder.SetMode(lame.JOINT_STEREO)
	e.w.Encoder.SetVBR(lame.VBR_RH)
	e.w.Encoder.InitParams()
	return &e
}

// Encode writes interleaved little-endian samples into the encoder.
func (e *MP3Encoder) Encode(l, r []float32) error {
	e.buf.Reset()
	for i := range l {
		if err := binary.Write(&e.buf, binary.LittleEndian, [2]int16{
			int16(clip(l[i]) * 0x7fff),
			int16(clip(r[i]) * 0x7fff),
		}); err != nil {
			return err
		}
	}
	_, err := e.w.Write(e.buf.Bytes())
	return err
}

// Close flushes the encoder.
func (e *MP3Encoder) Close() error {
	return e.w.Close()
}
