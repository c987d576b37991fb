package track_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/port"
	"pipelined.dev/engine/track"
)

var (
	asset1 = track.NewAsset(44100, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	asset2 = track.NewAsset(44100, []float32{2, 2, 2, 2, 2, 2, 2, 2, 2, 2})

	overlapTests = []struct {
		clips   []track.Clip
		clipsAt []int64
		result  []float32
		msg     string
	}{
		{
			clips: []track.Clip{
				asset1.Clip(3, 1),
				asset2.Clip(5, 3),
			},
			clipsAt: []int64{3, 4},
			result:  []float32{0, 0, 0, 1, 2, 2, 2, 0},
			msg:     "Sequence",
		},
		{
			clips: []track.Clip{
				asset1.Clip(3, 1),
				asset2.Clip(5, 3),
			},
			clipsAt: []int64{2, 3},
			result:  []float32{0, 0, 1, 2, 2, 2},
			msg:     "Sequence shifted left",
		},
		{
			clips: []track.Clip{
				asset1.Clip(3, 1),
				asset2.Clip(5, 3),
			},
			clipsAt: []int64{2, 4},
			result:  []float32{0, 0, 1, 0, 2, 2, 2, 0},
			msg:     "Sequence with interval",
		},
		{
			clips: []track.Clip{
				asset1.Clip(3, 3),
				asset2.Clip(5, 2),
			},
			clipsAt: []int64{3, 2},
			result:  []float32{0, 0, 2, 2, 1, 1},
			msg:     "Overlap previous",
		},
		{
			clips: []track.Clip{
				asset1.Clip(3, 3),
				asset2.Clip(5, 2),
			},
			clipsAt: []int64{2, 4},
			result:  []float32{0, 0, 1, 1, 2, 2},
			msg:     "Overlap next",
		},
		{
			clips: []track.Clip{
				asset1.Clip(3, 5),
				asset2.Clip(5, 2),
			},
			clipsAt: []int64{2, 4},
			result:  []float32{0, 0, 1, 1, 2, 2, 1, 0},
			msg:     "Overlap single in the middle",
		},
		{
			clips: []track.Clip{
				asset1.Clip(3, 2),
				asset1.Clip(3, 2),
				asset2.Clip(5, 2),
			},
			clipsAt: []int64{2, 5, 4},
			result:  []float32{0, 0, 1, 1, 2, 2, 1, 0},
			msg:     "Overlap two in the middle",
		},
		{
			clips: []track.Clip{
				asset1.Clip(3, 2),
				asset1.Clip(5, 2),
				asset2.Clip(3, 2),
			},
			clipsAt: []int64{2, 5, 3},
			result:  []float32{0, 0, 1, 2, 2, 1, 1, 0},
			msg:     "Overlap two in the middle shifted",
		},
		{
			clips: []track.Clip{
				asset1.Clip(3, 2),
				asset2.Clip(3, 5),
			},
			clipsAt: []int64{2, 2},
			result:  []float32{0, 0, 2, 2, 2, 2, 2, 0},
			msg:     "Overlap single completely",
		},
		{
			clips: []track.Clip{
				asset1.Clip(3, 2),
				asset1.Clip(5, 2),
				asset2.Clip(1, 8),
			},
			clipsAt: []int64{2, 5, 1},
			result:  []float32{0, 2, 2, 2, 2, 2, 2, 2, 2, 0},
			msg:     "Overlap two completely",
		},
	}
)

// render processes the track with blocks of provided size.
func render(tr *track.Track, blockSize, length int) []float32 {
	var result []float32
	for pos := 0; pos < length; pos += blockSize {
		n := min(blockSize, length-pos)
		_ = tr.Process(graph.Time{
			Global:  int64(pos),
			Frames:  n,
			Rolling: true,
		})
		result = append(result, tr.Out.L.Buffer()[:n]...)
	}
	return result
}

func TestClipOverlaps(t *testing.T) {
	for _, blockSize := range []int{2, 3} {
		arena := port.NewArena(blockSize, 0)
		tr := track.New(arena, "test")
		for _, test := range overlapTests {
			tr.Reset()
			for i, clip := range test.clips {
				tr.AddClip(test.clipsAt[i], clip)
			}
			assert.Equal(t, test.result, render(tr, blockSize, len(test.result)), test.msg)
		}
	}
}

func TestTrackNotRolling(t *testing.T) {
	arena := port.NewArena(4, 0)
	tr := track.New(arena, "test")
	tr.AddClip(0, asset1.Clip(0, 4))
	copy(tr.Out.L.Buffer(), []float32{5, 5, 5, 5})

	require.NoError(t, tr.Process(graph.Time{Frames: 4}))
	assert.Equal(t, []float32{0, 0, 0, 0}, tr.Out.L.Buffer())

	require.NoError(t, tr.Process(graph.Time{Local: 2, Frames: 2, Global: 0, Rolling: true}))
	assert.Equal(t, []float32{0, 0, 1, 1}, tr.Out.L.Buffer())
	// mono clips feed both channels.
	assert.Equal(t, []float32{0, 0, 1, 1}, tr.Out.R.Buffer())
	assert.Equal(t, int64(4), tr.End())
	assert.Equal(t, graph.Track, tr.Kind())
}

func TestLoadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	e := wav.NewEncoder(f, 44100, 16, 2, 1)
	require.NoError(t, e.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 44100},
		Data:           []int{0, 16384, -16384, 8192, 0, 0},
		SourceBitDepth: 16,
	}))
	require.NoError(t, e.Close())
	require.NoError(t, f.Close())

	a, err := track.LoadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 44100, a.SampleRate)
	assert.Equal(t, 2, a.NumChannels())
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, []float32{0, -0.5, 0}, a.Data[0])
	assert.Equal(t, []float32{0.5, 0.25, 0}, a.Data[1])

	_, err = track.LoadWAV(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestFader(t *testing.T) {
	arena := port.NewArena(4, 0)
	f := track.NewFader(arena, "master")
	copy(f.In.L.Buffer(), []float32{1, 2, 3, 4})
	copy(f.In.R.Buffer(), []float32{-1, -2, -3, -4})

	f.SetGain(0.5)
	require.NoError(t, f.Process(graph.Time{Frames: 4}))
	assert.Equal(t, []float32{0.5, 1, 1.5, 2}, f.Out.L.Buffer())
	assert.Equal(t, []float32{-0.5, -1, -1.5, -2}, f.Out.R.Buffer())

	f.SetMute(true)
	assert.True(t, f.Muted())
	require.NoError(t, f.Process(graph.Time{Local: 2, Frames: 2, Denormal: 1e-20}))
	assert.Equal(t, []float32{0.5, 1, 1e-20, 1e-20}, f.Out.L.Buffer())
	assert.Equal(t, float32(0.5), f.Gain())
}

func TestSampleProcessor(t *testing.T) {
	arena := port.NewArena(4, 0)
	s := track.NewSampleProcessor(arena, "sampler")
	sample := track.NewAsset(44100, []float32{1, 2, 3}, []float32{4, 5, 6})

	assert.False(t, s.Queue(track.Play{}))
	assert.True(t, s.Queue(track.Play{Asset: sample, Delay: 3}))
	require.NoError(t, s.Process(graph.Time{Frames: 4}))
	assert.Equal(t, []float32{0, 0, 0, 1}, s.Out.L.Buffer())
	assert.Equal(t, []float32{0, 0, 0, 4}, s.Out.R.Buffer())
	assert.Equal(t, 1, s.Playing())

	require.NoError(t, s.Process(graph.Time{Frames: 4}))
	assert.Equal(t, []float32{2, 3, 0, 0}, s.Out.L.Buffer())
	assert.Equal(t, 0, s.Playing())

	for i := 0; i < track.MaxVoices; i++ {
		assert.True(t, s.Queue(track.Play{Asset: sample}))
	}
	assert.False(t, s.Queue(track.Play{Asset: sample}))
	s.Stop()
	require.NoError(t, s.Process(graph.Time{Frames: 4}))
	assert.Equal(t, []float32{0, 0, 0, 0}, s.Out.L.Buffer())
}
