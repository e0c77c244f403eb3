package media

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseDTMFString проверяет разбор строк цифр
func TestParseDTMFString(t *testing.T) {
	digits, err := ParseDTMFString("0129*#aD")
	require.NoError(t, err)
	assert.Equal(t, []DTMFDigit{DTMF0, DTMF1, DTMF2, DTMF9, DTMFStar, DTMFPound, DTMFA, DTMFD}, digits)

	_, err = ParseDTMFString("12x")
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrorCodeDTMFInvalidDigit))

	assert.Equal(t, "#", DTMFPound.String())
	assert.Equal(t, '?', DTMFDigit(42).Rune())
}

// TestDTMFSenderReceiver проверяет, что одно событие дает ровно один callback
func TestDTMFSenderReceiver(t *testing.T) {
	sender := NewDTMFSender(101, 8000, 0x1234)
	receiver := NewDTMFReceiver(101, 8000)

	var got []DTMFEvent
	receiver.SetCallback(func(e DTMFEvent) {
		got = append(got, e)
	})

	for i, digit := range []DTMFDigit{DTMF5, DTMF5, DTMFStar} {
		packets, err := sender.GeneratePackets(DTMFEvent{
			Digit:     digit,
			Duration:  100 * time.Millisecond,
			Volume:    -10,
			Timestamp: uint32(1000 + i*1600),
		})
		require.NoError(t, err)
		require.Len(t, packets, 6)
		assert.True(t, packets[0].Marker)

		for _, p := range packets {
			isDTMF, err := receiver.ProcessPacket(p)
			require.NoError(t, err)
			assert.True(t, isDTMF)
		}
	}

	require.Len(t, got, 3, "повтор одной цифры подряд должен распознаваться как новое событие")
	assert.Equal(t, DTMF5, got[0].Digit)
	assert.Equal(t, DTMF5, got[1].Digit)
	assert.Equal(t, DTMFStar, got[2].Digit)
	assert.Equal(t, 100*time.Millisecond, got[0].Duration)
	assert.Equal(t, int8(-10), got[0].Volume)
}

// TestDTMFReceiverIgnoresAudio проверяет, что аудио пакеты пропускаются
func TestDTMFReceiverIgnoresAudio(t *testing.T) {
	receiver := NewDTMFReceiver(101, 8000)
	called := false
	receiver.SetCallback(func(DTMFEvent) { called = true })

	isDTMF, err := receiver.ProcessPacket(&rtp.Packet{
		Header:  rtp.Header{PayloadType: 0},
		Payload: make([]byte, 160),
	})
	require.NoError(t, err)
	assert.False(t, isDTMF)
	assert.False(t, called)

	isDTMF, err = receiver.ProcessPacket(&rtp.Packet{
		Header:  rtp.Header{PayloadType: 101},
		Payload: []byte{1, 2},
	})
	assert.True(t, isDTMF)
	assert.True(t, HasErrorCode(err, ErrorCodeDTMFPayloadInvalid))
}

func TestDTMFSenderValidation(t *testing.T) {
	sender := NewDTMFSender(101, 8000, 1)
	_, err := sender.GeneratePackets(DTMFEvent{Digit: DTMF1})
	assert.True(t, HasErrorCode(err, ErrorCodeDTMFDurationInvalid))

	_, err = sender.GeneratePackets(DTMFEvent{Digit: 20, Duration: time.Second})
	assert.True(t, HasErrorCode(err, ErrorCodeDTMFInvalidDigit))
}
