package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine/backend"
	"pipelined.dev/engine/log"
)

func TestInit(t *testing.T) {
	// check if commands are registered
	assert.Equal(t, 3, len(commands))
	assert.Contains(t, backend.AudioKinds(), backend.Dummy)
	assert.Contains(t, backend.MIDIKinds(), backend.Dummy)
}

func TestRunUnknown(t *testing.T) {
	c := config{args: []string{"engine", "unknown"}}
	assert.Equal(t, errorExitCode, c.run())
	c = config{args: []string{"engine"}}
	assert.Equal(t, errorExitCode, c.run())
}

func TestList(t *testing.T) {
	var out bytes.Buffer
	cmd := listCommand{out: &out}
	require.NoError(t, cmd.Run())
	assert.Contains(t, out.String(), "dummy")
	assert.Contains(t, out.String(), "44100")
}

func TestEngineFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sample_rate: 44100\nblock_length: 512\n"), 0o600))

	var f engineFlags
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f.register(fs)
	require.NoError(t, fs.Parse([]string{"-config", path, "-block", "128", "-in", "a.wav;b.wav"}))
	c, err := f.config()
	require.NoError(t, err)
	assert.Equal(t, 44100, c.SampleRate)
	assert.Equal(t, 128, c.BlockLength)
	assert.Equal(t, backend.Dummy, c.AudioBackend)
	assert.Equal(t, stringList{"a.wav", "b.wav"}, f.inputs)

	f.audioBackend = "coreaudio"
	_, err = f.config()
	assert.Error(t, err)
}

func TestBounce(t *testing.T) {
	logger = log.Discard()
	out := filepath.Join(t.TempDir(), "out.wav")
	c := config{args: []string{"engine", "bounce", "-out", out, "-duration", "100ms", "-block", "64"}}
	require.Equal(t, successExitCode, c.run())
	info, err := os.Stat(out)
	require.NoError(t, err)
	// 4800 stereo 16-bit frames and the header.
	assert.Equal(t, int64(4800*4+44), info.Size())
}
