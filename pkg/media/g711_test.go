package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestG711KnownValues проверяет опорные значения кодирования
func TestG711KnownValues(t *testing.T) {
	// Тишина
	assert.Equal(t, byte(0xFF), LinearToUlaw(0))
	assert.Equal(t, byte(0xD5), LinearToAlaw(0))
	assert.Equal(t, int16(0), UlawToLinear(0xFF))
	assert.Equal(t, int16(8), AlawToLinear(0xD5))

	// Максимальная амплитуда
	assert.Equal(t, byte(0x80), LinearToUlaw(32767))
	assert.Equal(t, byte(0x00), LinearToUlaw(-32768))
	assert.Equal(t, int16(32124), UlawToLinear(0x80))
	assert.Equal(t, int16(-32124), UlawToLinear(0x00))
}

// TestG711Quantization проверяет, что ошибка квантования укладывается в шаг сегмента
func TestG711Quantization(t *testing.T) {
	for _, pt := range []PayloadType{PayloadTypePCMU, PayloadTypePCMA} {
		codec, err := CodecForPayloadType(pt)
		require.NoError(t, err)
		assert.Equal(t, 8000, codec.ClockRate())

		for v := -32000; v <= 32000; v += 250 {
			s := int16(v)
			decoded := codec.Decode(codec.Encode([]int16{s}))[0]
			diff := int(decoded) - int(s)
			if diff < 0 {
				diff = -diff
			}
			// Относительная ошибка G.711 не превышает ~1/16 амплитуды плюс шаг первого сегмента
			limit := int(abs16(s))/16 + 16
			assert.LessOrEqual(t, diff, limit, "%s: %d -> %d", codec.Name(), s, decoded)
		}
	}
}

func TestCodecForPayloadTypeUnsupported(t *testing.T) {
	_, err := CodecForPayloadType(PayloadType(18))
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrorCodeAudioCodecUnsupported))
}

func abs16(s int16) int32 {
	if s < 0 {
		return -int32(s)
	}
	return int32(s)
}
