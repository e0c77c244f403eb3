package playback

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVDecoder декодер WAV файлов
type WAVDecoder struct{}

type wavStream struct {
	dec      *wav.Decoder
	rate     int
	channels int
	shift    int
	buf      *goaudio.IntBuffer
}

// Decode проверяет заголовок и подготавливает чтение PCM данных
func (WAVDecoder) Decode(r io.ReadSeeker) (Stream, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav: %w", ErrUnknownFormat)
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("wav: формат %d: %w", dec.WavAudioFormat, ErrUnsupportedFormat)
	}
	var shift int
	switch dec.BitDepth {
	case 8:
		shift = -8
	case 16:
	case 24:
		shift = 8
	case 32:
		shift = 16
	default:
		return nil, fmt.Errorf("wav: %d бит: %w", dec.BitDepth, ErrUnsupportedFormat)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("wav: нет каналов: %w", ErrUnsupportedFormat)
	}
	return &wavStream{
		dec:      dec,
		rate:     int(dec.SampleRate),
		channels: channels,
		shift:    shift,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
		},
	}, nil
}

func (s *wavStream) SampleRate() int { return s.rate }
func (s *wavStream) Channels() int   { return s.channels }

func (s *wavStream) ReadInt16(dst []int16) (int, error) {
	if cap(s.buf.Data) < len(dst) {
		s.buf.Data = make([]int, len(dst))
	}
	s.buf.Data = s.buf.Data[:len(dst)]
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return 0, fmt.Errorf("wav: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i, v := range s.buf.Data[:n] {
		switch {
		case s.shift > 0:
			v >>= s.shift
		case s.shift < 0:
			// 8 бит беззнаковые
			v = (v - 128) << -s.shift
		}
		dst[i] = int16(v)
	}
	return n, nil
}

func (s *wavStream) Rewind() error {
	return s.dec.Rewind()
}
