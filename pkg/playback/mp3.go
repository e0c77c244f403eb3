package playback

import (
	"encoding/binary"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// MP3Decoder декодер MP3. go-mp3 всегда отдает стерео 16 бит.
type MP3Decoder struct{}

type mp3Stream struct {
	dec *gomp3.Decoder
	buf []byte
}

func (MP3Decoder) Decode(r io.ReadSeeker) (Stream, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	return &mp3Stream{dec: dec}, nil
}

func (s *mp3Stream) SampleRate() int { return s.dec.SampleRate() }
func (s *mp3Stream) Channels() int   { return 2 }

func (s *mp3Stream) ReadInt16(dst []int16) (int, error) {
	need := len(dst) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]
	n, err := io.ReadFull(s.dec, s.buf)
	samples := n / 2
	for i := 0; i < samples; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(s.buf[2*i:]))
	}
	switch {
	case samples > 0:
		return samples, nil
	case err == nil, err == io.ErrUnexpectedEOF:
		return 0, io.EOF
	default:
		return 0, err
	}
}

func (s *mp3Stream) Rewind() error {
	_, err := s.dec.Seek(0, io.SeekStart)
	return err
}
