package media

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// VolumeLevelMax граница уровней громкости участника (-4..4)
	VolumeLevelMax = 4
	// GranularVolumeMax граница тонкой регулировки усиления (-50..50), шаг 0.5 дБ
	GranularVolumeMax = 50
)

// Множители для грубых уровней громкости 1..4 и -1..-4
var (
	volumeUp   = [VolumeLevelMax]float64{1.3, 2.3, 3.3, 4.3}
	volumeDown = [VolumeLevelMax]float64{0.80, 0.60, 0.40, 0.20}
)

// granularTable[i] = множитель для уровня i-GranularVolumeMax
var granularTable = func() [2*GranularVolumeMax + 1]float64 {
	var t [2*GranularVolumeMax + 1]float64
	for i := range t {
		db := float64(i-GranularVolumeMax) * 0.5
		t[i] = math.Pow(10, db/20)
	}
	return t
}()

// SamplesPerFrame возвращает количество отсчетов в кадре заданной длительности.
func SamplesPerFrame(sampleRate int, interval time.Duration) int {
	return int(int64(sampleRate) * int64(interval) / int64(time.Second))
}

// Clamp16 насыщает значение до диапазона int16.
func Clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Energy возвращает среднее абсолютное значение отсчетов кадра.
func Energy(frame []int16) int {
	if len(frame) == 0 {
		return 0
	}
	var sum int64
	for _, s := range frame {
		if s < 0 {
			sum -= int64(s)
		} else {
			sum += int64(s)
		}
	}
	return int(sum / int64(len(frame)))
}

// ClampVolumeLevel ограничивает уровень громкости диапазоном -4..4.
func ClampVolumeLevel(level int) int {
	return clampInt(level, -VolumeLevelMax, VolumeLevelMax)
}

// ClampGranularLevel ограничивает тонкий уровень усиления диапазоном -50..50.
func ClampGranularLevel(level int) int {
	return clampInt(level, -GranularVolumeMax, GranularVolumeMax)
}

// ApplyVolumeLevel изменяет громкость кадра на месте по грубой шкале -4..4.
// Уровень 0 оставляет кадр без изменений.
func ApplyVolumeLevel(frame []int16, level int) {
	level = ClampVolumeLevel(level)
	if level == 0 {
		return
	}
	var k float64
	if level > 0 {
		k = volumeUp[level-1]
	} else {
		k = volumeDown[-level-1]
	}
	scale(frame, k)
}

// ApplyGranularLevel изменяет громкость кадра на месте с шагом 0.5 дБ.
func ApplyGranularLevel(frame []int16, level int) {
	level = ClampGranularLevel(level)
	if level == 0 {
		return
	}
	scale(frame, granularTable[level+GranularVolumeMax])
}

func scale(frame []int16, k float64) {
	for i, s := range frame {
		frame[i] = Clamp16(int32(math.Round(float64(s) * k)))
	}
}

// MixInto добавляет src к dst с насыщением. Длина определяется меньшим из кадров.
func MixInto(dst, src []int16) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] = Clamp16(int32(dst[i]) + int32(src[i]))
	}
}

// SamplesToBytes сериализует отсчеты в little-endian байты (формат L16 хоста).
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples разбирает little-endian байты в отсчеты. Нечетный хвост отбрасывается.
func BytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
