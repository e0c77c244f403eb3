package playback

import (
	"errors"
	"io"

	"github.com/arzzra/soft_conference/pkg/media"
)

// Source приводит Stream к моно на частоте комнаты.
// Реализует conference.AudioSource и conference.Rewinder.
type Source struct {
	stream  Stream
	closer  io.Closer
	rs      *media.Resampler
	raw     []int16
	mono    []int16
	pending []int16
	eof     bool
}

// NewSource оборачивает поток; closer может быть nil
func NewSource(stream Stream, closer io.Closer, rate int) (*Source, error) {
	if stream.Channels() < 1 {
		return nil, ErrUnsupportedFormat
	}
	s := &Source{stream: stream, closer: closer}
	if stream.SampleRate() != rate {
		rs, err := media.NewResampler(stream.SampleRate(), rate)
		if err != nil {
			return nil, err
		}
		s.rs = rs
	}
	// Порция декодирования 10 мс на частоте файла
	frames := max(stream.SampleRate()/100, 1)
	s.raw = make([]int16, frames*stream.Channels())
	s.mono = make([]int16, 0, frames)
	return s, nil
}

// Read заполняет p моно отсчетами на частоте комнаты
func (s *Source) Read(p []int16) (int, error) {
	n := 0
	for n < len(p) {
		if len(s.pending) == 0 {
			if s.eof {
				break
			}
			if err := s.fill(); err != nil {
				if n > 0 {
					return n, nil
				}
				return 0, err
			}
			continue
		}
		c := copy(p[n:], s.pending)
		s.pending = s.pending[c:]
		n += c
	}
	if n == 0 && s.eof {
		return 0, io.EOF
	}
	return n, nil
}

func (s *Source) fill() error {
	channels := s.stream.Channels()
	got, err := s.stream.ReadInt16(s.raw)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if errors.Is(err, io.EOF) || got == 0 {
		s.eof = true
	}
	frames := got / channels
	mono := s.mono[:0]
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(s.raw[i*channels+ch])
		}
		mono = append(mono, int16(sum/int32(channels)))
	}
	s.mono = mono
	if s.rs != nil && len(mono) > 0 {
		s.pending = s.rs.Resample(mono)
	} else {
		s.pending = mono
	}
	return nil
}

// Rewind начинает поток заново
func (s *Source) Rewind() error {
	if err := s.stream.Rewind(); err != nil {
		return err
	}
	s.pending = nil
	s.eof = false
	return nil
}

// Close освобождает файл
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
