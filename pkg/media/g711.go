package media

import "fmt"

// PayloadType RTP тип нагрузки аудио кодека
type PayloadType uint8

const (
	PayloadTypePCMU PayloadType = 0 // G.711 μ-law
	PayloadTypePCMA PayloadType = 8 // G.711 A-law
)

// Codec кодирует линейный PCM в полезную нагрузку RTP и обратно.
type Codec interface {
	PayloadType() PayloadType
	Name() string
	ClockRate() int
	Encode(samples []int16) []byte
	Decode(payload []byte) []int16
}

// CodecForPayloadType возвращает кодек для статического типа нагрузки.
func CodecForPayloadType(pt PayloadType) (Codec, error) {
	switch pt {
	case PayloadTypePCMU:
		return ulawCodec{}, nil
	case PayloadTypePCMA:
		return alawCodec{}, nil
	default:
		return nil, NewMediaError(ErrorCodeAudioCodecUnsupported,
			fmt.Sprintf("неподдерживаемый тип нагрузки: %d", pt))
	}
}

type ulawCodec struct{}

func (ulawCodec) PayloadType() PayloadType { return PayloadTypePCMU }
func (ulawCodec) Name() string             { return "PCMU" }
func (ulawCodec) ClockRate() int           { return 8000 }

func (ulawCodec) Encode(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = LinearToUlaw(s)
	}
	return out
}

func (ulawCodec) Decode(payload []byte) []int16 {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = UlawToLinear(b)
	}
	return out
}

type alawCodec struct{}

func (alawCodec) PayloadType() PayloadType { return PayloadTypePCMA }
func (alawCodec) Name() string             { return "PCMA" }
func (alawCodec) ClockRate() int           { return 8000 }

func (alawCodec) Encode(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = LinearToAlaw(s)
	}
	return out
}

func (alawCodec) Decode(payload []byte) []int16 {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = AlawToLinear(b)
	}
	return out
}

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// LinearToUlaw кодирует отсчет по G.711 μ-law.
func LinearToUlaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// UlawToLinear декодирует отсчет G.711 μ-law.
func UlawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := int(u>>4) & 0x07
	mantissa := int(u & 0x0F)
	s := ((mantissa << 3) + ulawBias) << exponent
	s -= ulawBias
	if sign != 0 {
		return int16(-s)
	}
	return int16(s)
}

// LinearToAlaw кодирует отсчет по G.711 A-law.
func LinearToAlaw(sample int16) byte {
	s := int(sample) >> 3
	mask := 0xD5
	if s < 0 {
		mask = 0x55
		s = -s - 1
	}

	segment := 0
	for limit := 0x1F; s > limit && segment < 8; limit = limit<<1 | 1 {
		segment++
	}
	if segment >= 8 {
		return byte(0x7F ^ mask)
	}

	var aval int
	if segment < 2 {
		aval = s >> 1
	} else {
		aval = s >> segment
	}
	aval = (segment << 4) | (aval & 0x0F)
	return byte(aval ^ mask)
}

// AlawToLinear декодирует отсчет G.711 A-law.
func AlawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	segment := int(a&0x70) >> 4
	switch segment {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= segment - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}
