package leg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_conference/pkg/media"
	"github.com/arzzra/soft_conference/pkg/rtp"
)

// TestPipeLeg проверяет базовый обмен кадрами и завершение
func TestPipeLeg(t *testing.T) {
	p := NewPipeLeg("pipe-1", 8000, 2)
	assert.Equal(t, "pipe-1", p.ID())
	assert.Equal(t, 8000, p.SampleRate())
	assert.True(t, p.Ready())

	require.NoError(t, p.Inject([]int16{1, 2, 3}))
	frame, err := p.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3}, frame)

	// Переполнение выхода не блокирует
	for i := 0; i < 3; i++ {
		require.NoError(t, p.WriteFrame([]int16{int16(i)}))
	}
	assert.Equal(t, uint64(2), p.Written())
	assert.Equal(t, uint64(1), p.Dropped())

	p.PressDigits("12")
	assert.Equal(t, '1', <-p.DTMF())
	assert.Equal(t, '2', <-p.DTMF())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, p.Hangup(CauseManagerRequest))
	require.NoError(t, p.Hangup(CauseNormalClearing))
	assert.False(t, p.Ready())
	cause, ok := CauseOf(p)
	assert.True(t, ok)
	assert.Equal(t, CauseManagerRequest, cause)

	_, err = p.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrHungUp)
	assert.ErrorIs(t, p.WriteFrame([]int16{0}), ErrHungUp)
}

func TestPipeLegFailWrites(t *testing.T) {
	p := NewPipeLeg("pipe-2", 8000, 2)
	boom := errors.New("сокет закрыт")
	p.FailWrites(boom)
	assert.ErrorIs(t, p.WriteFrame([]int16{0}), boom)
}

func TestPipeLegTransfer(t *testing.T) {
	p := NewPipeLeg("pipe-3", 8000, 2)
	var tr Transferer = p
	require.Error(t, tr.Transfer(context.Background(), ""))
	require.NoError(t, tr.Transfer(context.Background(), "1000"))
	assert.Equal(t, "1000", p.TransferredTo())
	assert.False(t, p.Ready())
}

// TestRTPLegLoopback соединяет два RTP плеча через localhost
func TestRTPLegLoopback(t *testing.T) {
	newTransport := func() *rtp.UDPTransport {
		cfg := rtp.DefaultTransportConfig()
		cfg.LocalAddr = "127.0.0.1:0"
		cfg.DSCP = 0
		cfg.ReadTimeout = 20 * time.Millisecond
		tr, err := rtp.NewUDPTransport(cfg, nil)
		require.NoError(t, err)
		return tr
	}
	ta, tb := newTransport(), newTransport()
	require.NoError(t, ta.SetRemoteAddr(tb.LocalAddr().String()))
	require.NoError(t, tb.SetRemoteAddr(ta.LocalAddr().String()))

	hungUp := make(chan Cause, 1)
	a, err := NewRTPLeg(RTPLegConfig{ID: "a", Transport: ta, PayloadType: media.PayloadTypePCMU, DTMFPayloadType: 101})
	require.NoError(t, err)
	b, err := NewRTPLeg(RTPLegConfig{
		ID: "b", Transport: tb, PayloadType: media.PayloadTypePCMU, DTMFPayloadType: 101,
		Jitter:   media.JitterBufferConfig{BufferSize: 10, Depth: 1},
		OnHangup: func(c Cause) { hungUp <- c },
	})
	require.NoError(t, err)
	defer a.Hangup(CauseNormalClearing)

	tone := make([]int16, 160)
	for i := range tone {
		tone[i] = 8000
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := false
	for !got {
		require.NoError(t, a.WriteFrame(tone))
		frame, err := b.ReadFrame(ctx)
		require.NoError(t, err)
		require.Len(t, frame, 160)
		got = media.Energy(frame) > 7000
	}

	// DTMF через telephone-event
	sender := media.NewDTMFSender(101, 8000, 99)
	packets, err := sender.GeneratePackets(media.DTMFEvent{Digit: media.DTMFPound, Duration: 50 * time.Millisecond, Timestamp: 1})
	require.NoError(t, err)
	for _, p := range packets {
		require.NoError(t, ta.Send(p))
	}
	select {
	case d := <-b.DTMF():
		assert.Equal(t, '#', d)
	case <-ctx.Done():
		t.Fatal("DTMF не получен")
	}

	require.NoError(t, b.Hangup(CauseManagerRequest))
	assert.Equal(t, CauseManagerRequest, <-hungUp)
	assert.False(t, b.Ready())
	_, err = b.ReadFrame(ctx)
	assert.ErrorIs(t, err, ErrHungUp)
}
