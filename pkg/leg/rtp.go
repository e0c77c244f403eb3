package leg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	pionrtp "github.com/pion/rtp"

	"github.com/arzzra/soft_conference/pkg/media"
	"github.com/arzzra/soft_conference/pkg/rtp"
)

// RTPLegConfig параметры RTP плеча
type RTPLegConfig struct {
	ID              string
	Transport       rtp.Transport
	PayloadType     media.PayloadType
	DTMFPayloadType uint8 // 0 = telephone-event не согласован
	Ptime           time.Duration
	Jitter          media.JitterBufferConfig
	Logger          *slog.Logger

	// OnHangup вызывается один раз при завершении плеча (например, отправка BYE)
	OnHangup func(cause Cause)
}

// RTPLeg плечо поверх RTP/UDP с кодеком G.711.
// Входящие пакеты проходят через jitter buffer; ReadFrame выдает кадры
// с периодом ptime, подставляя тишину при отсутствии пакета.
type RTPLeg struct {
	config    RTPLegConfig
	codec     media.Codec
	jitter    *media.JitterBuffer
	dtmfRx    *media.DTMFReceiver
	dtmf      chan rune
	samples   int
	logger    *slog.Logger
	transport rtp.Transport

	sendMutex sync.Mutex
	seq       uint16
	timestamp uint32
	ssrc      uint32

	ticker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex     sync.Mutex
	cause     Cause
	closeOnce sync.Once
}

// NewRTPLeg создает плечо и запускает прием пакетов.
func NewRTPLeg(config RTPLegConfig) (*RTPLeg, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("транспорт не задан")
	}
	if config.Ptime <= 0 {
		config.Ptime = 20 * time.Millisecond
	}
	codec, err := media.CodecForPayloadType(config.PayloadType)
	if err != nil {
		return nil, err
	}
	if config.Jitter.BufferSize == 0 {
		config.Jitter = media.DefaultJitterBufferConfig()
	}
	jb, err := media.NewJitterBuffer(config.Jitter)
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &RTPLeg{
		config:    config,
		codec:     codec,
		jitter:    jb,
		dtmf:      make(chan rune, 16),
		samples:   media.SamplesPerFrame(codec.ClockRate(), config.Ptime),
		logger:    logger.With(slog.String("component", "rtp_leg"), slog.String("leg_id", config.ID)),
		transport: config.Transport,
		seq:       uint16(rand.Intn(1 << 16)),
		timestamp: rand.Uint32(),
		ssrc:      rand.Uint32(),
		ticker:    time.NewTicker(config.Ptime),
		ctx:       ctx,
		cancel:    cancel,
	}

	if config.DTMFPayloadType != 0 {
		l.dtmfRx = media.NewDTMFReceiver(config.DTMFPayloadType, codec.ClockRate())
		l.dtmfRx.SetCallback(func(e media.DTMFEvent) {
			select {
			case l.dtmf <- e.Digit.Rune():
			default:
				l.logger.Warn("очередь DTMF переполнена", slog.String("digit", e.Digit.String()))
			}
		})
	}

	l.wg.Add(1)
	go l.receiveLoop()
	return l, nil
}

func (l *RTPLeg) ID() string        { return l.config.ID }
func (l *RTPLeg) SampleRate() int   { return l.codec.ClockRate() }
func (l *RTPLeg) DTMF() <-chan rune { return l.dtmf }

// receiveLoop разбирает входящие пакеты на DTMF и аудио
func (l *RTPLeg) receiveLoop() {
	defer l.wg.Done()
	l.logger.Debug("leg.receiveLoop Started")
	defer l.logger.Debug("leg.receiveLoop Stopped")

	for {
		packet, _, err := l.transport.Receive(l.ctx)
		if err != nil {
			if errors.Is(err, rtp.ErrReadTimeout) {
				continue
			}
			if l.ctx.Err() != nil || errors.Is(err, rtp.ErrTransportClosed) {
				return
			}
			l.logger.Debug("ошибка приема RTP", slog.String("error", err.Error()))
			continue
		}

		if l.dtmfRx != nil {
			isDTMF, err := l.dtmfRx.ProcessPacket(packet)
			if err != nil {
				l.logger.Debug("некорректный DTMF пакет", slog.String("error", err.Error()))
			}
			if isDTMF {
				continue
			}
		}
		if media.PayloadType(packet.PayloadType) != l.codec.PayloadType() {
			continue
		}
		if err := l.jitter.Put(packet); err != nil {
			return
		}
	}
}

// ReadFrame выдает следующий кадр с периодом ptime.
func (l *RTPLeg) ReadFrame(ctx context.Context) ([]int16, error) {
	select {
	case <-l.ticker.C:
	case <-l.ctx.Done():
		return nil, ErrHungUp
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	packet, ok := l.jitter.Get()
	if !ok {
		return make([]int16, l.samples), nil
	}
	frame := l.codec.Decode(packet.Payload)
	if len(frame) < l.samples {
		frame = append(frame, make([]int16, l.samples-len(frame))...)
	}
	return frame, nil
}

// WriteFrame кодирует кадр и отправляет один RTP пакет.
func (l *RTPLeg) WriteFrame(frame []int16) error {
	if l.ctx.Err() != nil {
		return ErrHungUp
	}
	payload := l.codec.Encode(frame)

	l.sendMutex.Lock()
	packet := &pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    uint8(l.codec.PayloadType()),
			SequenceNumber: l.seq,
			Timestamp:      l.timestamp,
			SSRC:           l.ssrc,
		},
		Payload: payload,
	}
	l.seq++
	l.timestamp += uint32(len(frame))
	l.sendMutex.Unlock()

	return l.transport.Send(packet)
}

func (l *RTPLeg) Ready() bool {
	return l.ctx.Err() == nil && l.transport.IsActive()
}

// Hangup останавливает прием, закрывает транспорт и вызывает OnHangup.
func (l *RTPLeg) Hangup(cause Cause) error {
	var err error
	l.closeOnce.Do(func() {
		l.mutex.Lock()
		l.cause = cause
		l.mutex.Unlock()

		l.cancel()
		l.ticker.Stop()
		err = l.transport.Close()
		l.wg.Wait()
		l.jitter.Stop()

		if l.config.OnHangup != nil {
			l.config.OnHangup(cause)
		}
		l.logger.Info("плечо завершено", slog.String("cause", string(cause)))
	})
	return err
}

// HangupCause причина завершения
func (l *RTPLeg) HangupCause() Cause {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.cause
}
