package playback

import (
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"
)

// VorbisDecoder декодер Ogg Vorbis
type VorbisDecoder struct{}

type vorbisStream struct {
	dec *oggvorbis.Reader
	buf []float32
}

func (VorbisDecoder) Decode(r io.ReadSeeker) (Stream, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("ogg: %w", err)
	}
	return &vorbisStream{dec: dec}, nil
}

func (s *vorbisStream) SampleRate() int { return s.dec.SampleRate() }
func (s *vorbisStream) Channels() int   { return s.dec.Channels() }

func (s *vorbisStream) ReadInt16(dst []int16) (int, error) {
	// Запрос кратен числу каналов, чтобы не разрывать кадр
	want := len(dst) - len(dst)%s.dec.Channels()
	if cap(s.buf) < want {
		s.buf = make([]float32, want)
	}
	s.buf = s.buf[:want]
	n, err := s.dec.Read(s.buf)
	for i, v := range s.buf[:n] {
		dst[i] = floatToInt16(v)
	}
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

func (s *vorbisStream) Rewind() error {
	return s.dec.SetPosition(0)
}

func floatToInt16(v float32) int16 {
	switch {
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int16(v * 32767)
}
