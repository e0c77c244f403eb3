package playback

import (
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
)

// AIFFDecoder декодер AIFF файлов с 16 битными отсчетами
type AIFFDecoder struct{}

type aiffStream struct {
	r        io.ReadSeeker
	dec      *aiff.Decoder
	rate     int
	channels int
	buf      *goaudio.IntBuffer
}

func openAIFF(r io.ReadSeeker) (*aiff.Decoder, *goaudio.Format, error) {
	dec := aiff.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, nil, fmt.Errorf("aiff: %w", ErrUnknownFormat)
	}
	dec.ReadInfo()
	if dec.BitDepth != 16 {
		return nil, nil, fmt.Errorf("aiff: %d бит: %w", dec.BitDepth, ErrUnsupportedFormat)
	}
	format := dec.Format()
	if format == nil || format.NumChannels < 1 {
		return nil, nil, fmt.Errorf("aiff: нет каналов: %w", ErrUnsupportedFormat)
	}
	return dec, format, nil
}

// Decode проверяет заголовок COMM и подготавливает чтение
func (AIFFDecoder) Decode(r io.ReadSeeker) (Stream, error) {
	dec, format, err := openAIFF(r)
	if err != nil {
		return nil, err
	}
	return &aiffStream{
		r:        r,
		dec:      dec,
		rate:     format.SampleRate,
		channels: format.NumChannels,
		buf:      &goaudio.IntBuffer{Format: format},
	}, nil
}

func (s *aiffStream) SampleRate() int { return s.rate }
func (s *aiffStream) Channels() int   { return s.channels }

func (s *aiffStream) ReadInt16(dst []int16) (int, error) {
	if cap(s.buf.Data) < len(dst) {
		s.buf.Data = make([]int, len(dst))
	}
	s.buf.Data = s.buf.Data[:len(dst)]
	n, err := s.dec.PCMBuffer(s.buf)
	if n == 0 {
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("aiff: %w", err)
		}
		return 0, io.EOF
	}
	for i, v := range s.buf.Data[:n] {
		dst[i] = int16(v)
	}
	return n, nil
}

// Rewind заново разбирает заголовок с начала файла
func (s *aiffStream) Rewind() error {
	if _, err := s.r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("aiff: %w", err)
	}
	dec, _, err := openAIFF(s.r)
	if err != nil {
		return err
	}
	s.dec = dec
	return nil
}
