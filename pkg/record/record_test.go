package record

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_conference/pkg/conference"
)

func testRecorder(t *testing.T, queue int) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Config{
		Dir:         dir,
		QueueFrames: queue,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}), dir
}

func readWAV(t *testing.T, path string) (*wav.Decoder, []int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return dec, buf.Data
}

func frame(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestWAVTap_WritesFrames(t *testing.T) {
	rec, dir := testRecorder(t, 10)
	tap, err := rec.Create("room/mix.wav", 8000)
	require.NoError(t, err)

	require.NoError(t, tap.WriteFrame(frame(160, 100)))
	require.NoError(t, tap.WriteFrame(frame(160, -200)))
	require.NoError(t, tap.Close())
	require.NoError(t, tap.Close())
	assert.ErrorIs(t, tap.WriteFrame(frame(160, 1)), ErrClosed)

	w := tap.(*WAVTap)
	assert.Equal(t, uint64(320), w.Samples())
	assert.Equal(t, filepath.Join(dir, "room", "mix.wav"), w.Path())

	dec, data := readWAV(t, w.Path())
	assert.Equal(t, uint32(8000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	require.Len(t, data, 320)
	assert.Equal(t, 100, data[0])
	assert.Equal(t, -200, data[319])
}

func TestWAVTap_CopiesFrame(t *testing.T) {
	rec, _ := testRecorder(t, 10)
	tap, err := rec.Create("copy.wav", 8000)
	require.NoError(t, err)

	f := frame(4, 7)
	require.NoError(t, tap.WriteFrame(f))
	f[0] = 99
	require.NoError(t, tap.Close())

	_, data := readWAV(t, tap.(*WAVTap).Path())
	assert.Equal(t, []int{7, 7, 7, 7}, data)
}

func TestWAVTap_QueueFullDrops(t *testing.T) {
	rec, _ := testRecorder(t, 1)
	tap, err := rec.Create("drop.wav", 8000)
	require.NoError(t, err)
	w := tap.(*WAVTap)

	var full bool
	for i := 0; i < 1000 && !full; i++ {
		if err := w.WriteFrame(frame(160, 1)); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			full = true
		}
	}
	require.NoError(t, w.Close())
	if full {
		assert.NotZero(t, w.Dropped())
	}
}

func TestRecorder_Paths(t *testing.T) {
	rec, _ := testRecorder(t, 10)
	_, err := rec.Create("", 8000)
	assert.ErrorIs(t, err, ErrEmptyPath)
	_, err = rec.Create("../outside.wav", 8000)
	assert.ErrorIs(t, err, ErrPathEscape)

	abs := filepath.Join(t.TempDir(), "abs.wav")
	tap, err := rec.Create(abs, 16000)
	require.NoError(t, err)
	require.NoError(t, tap.Close())
	_, err = os.Stat(abs)
	assert.NoError(t, err)
}

func TestRecorder_ConferenceRecording(t *testing.T) {
	rec, dir := testRecorder(t, 100)
	reg, err := conference.NewRegistry(conference.RegistryConfig{
		Services: conference.Services{Recorders: rec},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	defer func() { _ = reg.Shutdown(context.Background()) }()

	c, err := reg.Create("rec", "")
	require.NoError(t, err)
	require.NoError(t, c.StartRecording("rec.wav"))
	assert.Equal(t, []string{"rec.wav"}, c.Recordings())

	time.Sleep(100 * time.Millisecond)
	n, err := c.StopRecording("rec.wav")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, c.Recordings())

	dec, data := readWAV(t, filepath.Join(dir, "rec.wav"))
	assert.Equal(t, uint32(8000), dec.SampleRate)
	assert.NotEmpty(t, data)
	assert.Zero(t, len(data)%160)

}
