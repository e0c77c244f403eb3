package playback

import (
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Схемы сгенерированных источников
const (
	SchemeSilence = "silence"
	SchemeTone    = "tone"
)

// generatorStream синтезирует моно поток: тишину или тон.
// total == 0 означает бесконечный поток.
type generatorStream struct {
	rate      int
	freq      float64
	amplitude float64
	total     int
	pos       int
}

// ParseGenerator разбирает silence://<мс> и tone://<Гц>[?ms=<мс>&amp=<амплитуда>]
func ParseGenerator(uri string, rate int) (Stream, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", uri, ErrInvalidURI)
	}
	arg := u.Host + strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case SchemeSilence:
		ms, err := strconv.Atoi(arg)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("%q: %w", uri, ErrInvalidURI)
		}
		return &generatorStream{rate: rate, total: rate * ms / 1000}, nil

	case SchemeTone:
		freq, err := strconv.ParseFloat(arg, 64)
		if err != nil || freq <= 0 || freq >= float64(rate)/2 {
			return nil, fmt.Errorf("%q: частота: %w", uri, ErrInvalidURI)
		}
		g := &generatorStream{rate: rate, freq: freq, amplitude: 8000}
		q := u.Query()
		if v := q.Get("ms"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil || ms <= 0 {
				return nil, fmt.Errorf("%q: длительность: %w", uri, ErrInvalidURI)
			}
			g.total = rate * ms / 1000
		}
		if v := q.Get("amp"); v != "" {
			amp, err := strconv.Atoi(v)
			if err != nil || amp <= 0 || amp > math.MaxInt16 {
				return nil, fmt.Errorf("%q: амплитуда: %w", uri, ErrInvalidURI)
			}
			g.amplitude = float64(amp)
		}
		return g, nil
	}
	return nil, fmt.Errorf("%q: %w", uri, ErrInvalidURI)
}

// IsGenerator признак URI сгенерированного источника
func IsGenerator(path string) bool {
	return strings.HasPrefix(path, SchemeSilence+"://") || strings.HasPrefix(path, SchemeTone+"://")
}

func (g *generatorStream) SampleRate() int { return g.rate }
func (g *generatorStream) Channels() int   { return 1 }

func (g *generatorStream) ReadInt16(dst []int16) (int, error) {
	n := len(dst)
	if g.total > 0 {
		n = min(n, g.total-g.pos)
		if n <= 0 {
			return 0, io.EOF
		}
	}
	for i := 0; i < n; i++ {
		if g.freq == 0 {
			dst[i] = 0
			continue
		}
		phase := 2 * math.Pi * g.freq * float64(g.pos+i) / float64(g.rate)
		dst[i] = int16(g.amplitude * math.Sin(phase))
	}
	g.pos += n
	return n, nil
}

func (g *generatorStream) Rewind() error {
	g.pos = 0
	return nil
}
