package media

import (
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// DTMFDigit представляет DTMF событие 0-15 согласно RFC 4733
type DTMFDigit uint8

const (
	DTMF0 DTMFDigit = iota
	DTMF1
	DTMF2
	DTMF3
	DTMF4
	DTMF5
	DTMF6
	DTMF7
	DTMF8
	DTMF9
	DTMFStar  // *
	DTMFPound // #
	DTMFA
	DTMFB
	DTMFC
	DTMFD
)

const dtmfSymbols = "0123456789*#ABCD"

// Rune возвращает символ цифры, '?' для событий вне диапазона.
func (d DTMFDigit) Rune() rune {
	if int(d) < len(dtmfSymbols) {
		return rune(dtmfSymbols[d])
	}
	return '?'
}

func (d DTMFDigit) String() string {
	return string(d.Rune())
}

// ParseDTMFDigit преобразует символ в DTMF цифру.
func ParseDTMFDigit(r rune) (DTMFDigit, error) {
	switch {
	case r >= '0' && r <= '9':
		return DTMFDigit(r - '0'), nil
	case r == '*':
		return DTMFStar, nil
	case r == '#':
		return DTMFPound, nil
	case r >= 'A' && r <= 'D':
		return DTMFA + DTMFDigit(r-'A'), nil
	case r >= 'a' && r <= 'd':
		return DTMFA + DTMFDigit(r-'a'), nil
	}
	return 0, NewMediaError(ErrorCodeDTMFInvalidDigit, fmt.Sprintf("недопустимый DTMF символ: %c", r))
}

// ParseDTMFString преобразует строку в последовательность DTMF цифр
func ParseDTMFString(s string) ([]DTMFDigit, error) {
	digits := make([]DTMFDigit, 0, len(s))
	for _, r := range s {
		d, err := ParseDTMFDigit(r)
		if err != nil {
			return nil, err
		}
		digits = append(digits, d)
	}
	return digits, nil
}

// DTMFEvent представляет DTMF событие
type DTMFEvent struct {
	Digit     DTMFDigit     // DTMF цифра
	Duration  time.Duration // Длительность нажатия
	Volume    int8          // Уровень (от 0 до -63 dBm)
	Timestamp uint32        // RTP timestamp события
}

// dtmfPayload полезная нагрузка telephone-event
type dtmfPayload struct {
	Event    uint8
	EndFlag  bool
	Volume   uint8
	Duration uint16
}

func (p dtmfPayload) marshal() []byte {
	data := make([]byte, 4)
	data[0] = p.Event
	if p.EndFlag {
		data[1] |= 0x80
	}
	data[1] |= p.Volume & 0x3F
	data[2] = byte(p.Duration >> 8)
	data[3] = byte(p.Duration)
	return data
}

func unmarshalDTMFPayload(data []byte) (dtmfPayload, error) {
	if len(data) < 4 {
		return dtmfPayload{}, NewMediaError(ErrorCodeDTMFPayloadInvalid,
			fmt.Sprintf("некорректный размер DTMF payload: %d", len(data)))
	}
	return dtmfPayload{
		Event:    data[0],
		EndFlag:  data[1]&0x80 != 0,
		Volume:   data[1] & 0x3F,
		Duration: uint16(data[2])<<8 | uint16(data[3]),
	}, nil
}

// DTMFSender генерирует RTP пакеты telephone-event
type DTMFSender struct {
	payloadType uint8
	clockRate   int
	ssrc        uint32
	seqNum      uint16
}

// NewDTMFSender создает генератор для указанного типа нагрузки и частоты RTP.
func NewDTMFSender(payloadType uint8, clockRate int, ssrc uint32) *DTMFSender {
	if clockRate <= 0 {
		clockRate = 8000
	}
	return &DTMFSender{payloadType: payloadType, clockRate: clockRate, ssrc: ssrc}
}

// GeneratePackets генерирует три начальных и три завершающих пакета события.
func (ds *DTMFSender) GeneratePackets(event DTMFEvent) ([]*rtp.Packet, error) {
	if event.Duration <= 0 {
		return nil, NewMediaError(ErrorCodeDTMFDurationInvalid, "длительность DTMF должна быть положительной")
	}
	if event.Digit > DTMFD {
		return nil, NewMediaError(ErrorCodeDTMFInvalidDigit, fmt.Sprintf("недопустимое DTMF событие: %d", event.Digit))
	}

	volume := uint8(0)
	if event.Volume < 0 {
		volume = uint8(-event.Volume)
		if volume > 63 {
			volume = 63
		}
	}
	payload := dtmfPayload{
		Event:    uint8(event.Digit),
		Volume:   volume,
		Duration: uint16(event.Duration.Seconds() * float64(ds.clockRate)),
	}

	packets := make([]*rtp.Packet, 0, 6)
	for i := 0; i < 6; i++ {
		payload.EndFlag = i >= 3
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    ds.payloadType,
				SequenceNumber: ds.seqNum,
				Timestamp:      event.Timestamp,
				SSRC:           ds.ssrc,
			},
			Payload: payload.marshal(),
		})
		ds.seqNum++
	}
	return packets, nil
}

// DTMFReceiver распознает telephone-event пакеты во входящем RTP потоке.
// Callback вызывается один раз на событие, в момент первого пакета.
type DTMFReceiver struct {
	payloadType    uint8
	clockRate      int
	onDTMFReceived func(DTMFEvent)
	active         bool
	lastTimestamp  uint32
}

// NewDTMFReceiver создает приемник для указанного типа нагрузки.
func NewDTMFReceiver(payloadType uint8, clockRate int) *DTMFReceiver {
	if clockRate <= 0 {
		clockRate = 8000
	}
	return &DTMFReceiver{payloadType: payloadType, clockRate: clockRate}
}

// SetCallback устанавливает обработчик DTMF событий
func (dr *DTMFReceiver) SetCallback(callback func(DTMFEvent)) {
	dr.onDTMFReceived = callback
}

// ProcessPacket обрабатывает RTP пакет. Возвращает true, если пакет был DTMF.
func (dr *DTMFReceiver) ProcessPacket(packet *rtp.Packet) (bool, error) {
	if packet.PayloadType != dr.payloadType {
		return false, nil
	}

	payload, err := unmarshalDTMFPayload(packet.Payload)
	if err != nil {
		return true, err
	}
	if payload.Event > uint8(DTMFD) {
		// Прочие события RFC 4733 (flash, тоны) игнорируются
		return true, nil
	}

	// Повторы одного события имеют одинаковый timestamp
	if dr.active && packet.Timestamp == dr.lastTimestamp {
		if payload.EndFlag {
			dr.active = false
		}
		return true, nil
	}
	if !dr.active && packet.Timestamp == dr.lastTimestamp && dr.lastTimestamp != 0 {
		// Завершающие повторы уже обработанного события
		return true, nil
	}

	dr.lastTimestamp = packet.Timestamp
	dr.active = !payload.EndFlag

	if dr.onDTMFReceived != nil {
		dr.onDTMFReceived(DTMFEvent{
			Digit:     DTMFDigit(payload.Event),
			Duration:  time.Duration(payload.Duration) * time.Second / time.Duration(dr.clockRate),
			Volume:    -int8(payload.Volume),
			Timestamp: packet.Timestamp,
		})
	}
	return true, nil
}
