package media

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplesPerFrame(t *testing.T) {
	assert.Equal(t, 160, SamplesPerFrame(8000, 20*time.Millisecond))
	assert.Equal(t, 320, SamplesPerFrame(16000, 20*time.Millisecond))
	assert.Equal(t, 480, SamplesPerFrame(48000, 10*time.Millisecond))
}

func TestClamp16(t *testing.T) {
	assert.Equal(t, int16(math.MaxInt16), Clamp16(40000))
	assert.Equal(t, int16(math.MinInt16), Clamp16(-40000))
	assert.Equal(t, int16(1234), Clamp16(1234))
}

// TestEnergy проверяет среднее абсолютное значение
func TestEnergy(t *testing.T) {
	assert.Equal(t, 0, Energy(nil))
	assert.Equal(t, 100, Energy([]int16{100, -100, 100, -100}))
	assert.Equal(t, int(math.MaxInt16)+1, Energy([]int16{math.MinInt16}))
}

// TestApplyVolumeLevel проверяет грубую шкалу громкости
func TestApplyVolumeLevel(t *testing.T) {
	frame := []int16{1000, -1000}
	ApplyVolumeLevel(frame, 0)
	assert.Equal(t, []int16{1000, -1000}, frame)

	ApplyVolumeLevel(frame, 1)
	assert.Equal(t, []int16{1300, -1300}, frame)

	frame = []int16{1000, -1000}
	ApplyVolumeLevel(frame, -4)
	assert.Equal(t, []int16{200, -200}, frame)

	// Выход за диапазон ограничивается
	frame = []int16{1000}
	ApplyVolumeLevel(frame, 10)
	assert.Equal(t, []int16{4300}, frame)

	// Насыщение
	frame = []int16{30000}
	ApplyVolumeLevel(frame, 4)
	assert.Equal(t, []int16{math.MaxInt16}, frame)
}

// TestApplyGranularLevel проверяет монотонность шкалы 0.5 дБ
func TestApplyGranularLevel(t *testing.T) {
	prev := int16(0)
	for level := -GranularVolumeMax; level <= GranularVolumeMax; level += 10 {
		frame := []int16{1000}
		ApplyGranularLevel(frame, level)
		assert.Greater(t, frame[0], prev, "уровень %d", level)
		prev = frame[0]
	}

	frame := []int16{1000}
	ApplyGranularLevel(frame, 12) // +6 дБ
	assert.InDelta(t, 1995, int(frame[0]), 2)
}

func TestMixInto(t *testing.T) {
	dst := []int16{1, 2, 30000}
	MixInto(dst, []int16{1, 1, 30000, 99})
	assert.Equal(t, []int16{2, 3, math.MaxInt16}, dst)
}

func TestSampleBytes(t *testing.T) {
	samples := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	data := SamplesToBytes(samples)
	require.Len(t, data, 10)
	assert.Equal(t, []byte{0x01, 0x00}, data[2:4])
	assert.Equal(t, samples, BytesToSamples(data))
	assert.Len(t, BytesToSamples([]byte{1, 2, 3}), 1)
}

// TestResampler проверяет длительность кадра и интерполяцию
func TestResampler(t *testing.T) {
	_, err := NewResampler(0, 8000)
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrorCodeAudioRateInvalid))

	up, err := NewResampler(8000, 16000)
	require.NoError(t, err)
	out := up.Resample([]int16{0, 100, 200, 300})
	require.Len(t, out, 8)
	assert.Equal(t, []int16{0, 50, 100, 150, 200, 250, 300, 300}, out)

	down, err := NewResampler(16000, 8000)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 200}, down.Resample([]int16{0, 100, 200, 300}))

	same, err := NewResampler(8000, 8000)
	require.NoError(t, err)
	in := []int16{5, 6}
	res := same.Resample(in)
	res[0] = 0
	assert.Equal(t, int16(5), in[0], "копия не должна разделять память")
}
