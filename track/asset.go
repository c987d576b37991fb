package track

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWav is returned when the file cannot be decoded as wav.
var ErrInvalidWav = errors.New("wav is not valid")

// Asset is a decoded audio file kept in memory. Samples are not
// interleaved: Data[channel][frame].
type Asset struct {
	SampleRate int
	Data       [][]float32
}

// Clip is a region of an asset.
type Clip struct {
	*Asset
	Start int64
	Len   int
}

// NewAsset returns an asset with provided channels.
func NewAsset(sampleRate int, data ...[]float32) *Asset {
	return &Asset{
		SampleRate: sampleRate,
		Data:       data,
	}
}

// LoadWAV decodes the whole wav file.
func LoadWAV(path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV decodes the whole wav stream.
func DecodeWAV(r io.ReadSeeker) (*Asset, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWav
	}
	ib, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	return AsAsset(ib)
}

// AsAsset converts the interleaved integer buffer into an asset.
func AsAsset(ib *audio.IntBuffer) (*Asset, error) {
	if ib.Format == nil {
		return nil, errors.New("format for buffer is not defined")
	}
	numChannels := ib.Format.NumChannels
	bitDepth := ib.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << uint(bitDepth-1))
	numFrames := ib.NumFrames()
	a := Asset{
		SampleRate: ib.Format.SampleRate,
		Data:       make([][]float32, numChannels),
	}
	for c := range a.Data {
		a.Data[c] = make([]float32, numFrames)
		for i := range a.Data[c] {
			a.Data[c][i] = float32(ib.Data[i*numChannels+c]) / scale
		}
	}
	return &a, nil
}

// NumChannels returns number of channels.
func (a *Asset) NumChannels() int {
	return len(a.Data)
}

// Len returns number of frames.
func (a *Asset) Len() int {
	if len(a.Data) == 0 {
		return 0
	}
	return len(a.Data[0])
}

// Clip returns a region of the asset.
func (a *Asset) Clip(start int64, length int) Clip {
	return Clip{
		Asset: a,
		Start: start,
		Len:   length,
	}
}

// channel returns data of provided output channel. Mono assets feed every
// channel.
func (a *Asset) channel(c int) []float32 {
	if c < len(a.Data) {
		return a.Data[c]
	}
	return a.Data[len(a.Data)-1]
}
