// Package export bounces the monitor output of an engine into audio
// files. Rendering runs offline: the engine must be set up but not
// activated.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pipelined.dev/engine"
)

// Encoder consumes rendered stereo frames.
type Encoder interface {
	Encode(l, r []float32) error
	// Close flushes encoded data.
	Close() error
}

// Format of the exported file.
type Format int

// Supported formats.
const (
	WAV Format = iota
	MP3
)

// ErrUnknownFormat is returned when the format cannot be derived from a
// file name.
var ErrUnknownFormat = errors.New("unknown export format")

func (f Format) String() string {
	if f == MP3 {
		return "mp3"
	}
	return "wav"
}

// FormatOf returns the format matching the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return WAV, nil
	case ".mp3":
		return MP3, nil
	}
	return WAV, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// Bounce renders frames of the timeline into the encoder and closes it.
func Bounce(ctx context.Context, e *engine.Engine, enc Encoder, frames int64) error {
	err := e.Export(ctx, frames, enc.Encode)
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	return err
}

// file closes the file after the encoder is flushed.
type file struct {
	Encoder
	f *os.File
}

func (f *file) Close() error {
	err := f.Encoder.Close()
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Create creates the file and returns an encoder for the format matching
// its extension. MP3 files are encoded with the default bit rate and
// quality.
func Create(path string, sampleRate int) (Encoder, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	var enc Encoder
	switch format {
	case MP3:
		enc = NewMP3(f, sampleRate, DefaultBitRate, DefaultQuality)
	default:
		enc = NewWAV(f, sampleRate, BitDepth16)
	}
	return &file{Encoder: enc, f: f}, nil
}
