package playback

import (
	"io"
	"path/filepath"
	"strings"
	"sync"
)

// Stream декодированный PCM поток с чередованием каналов
type Stream interface {
	SampleRate() int
	Channels() int
	// ReadInt16 заполняет dst отсчетами всех каналов по очереди.
	// Возвращает io.EOF, когда данные закончились.
	ReadInt16(dst []int16) (int, error)
	// Rewind возвращает поток к началу данных
	Rewind() error
}

// Decoder создает Stream из файла
type Decoder interface {
	Decode(r io.ReadSeeker) (Stream, error)
}

// Registry декодеры по расширению файла
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Decoder
}

// NewRegistry создает реестр со встроенными декодерами wav, aiff, mp3 и ogg
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Decoder)}
	r.Register("wav", WAVDecoder{})
	r.Register("aif", AIFFDecoder{})
	r.Register("aiff", AIFFDecoder{})
	r.Register("mp3", MP3Decoder{})
	r.Register("ogg", VorbisDecoder{})
	r.Register("oga", VorbisDecoder{})
	return r
}

// Register добавляет или заменяет декодер для расширения (без точки)
func (r *Registry) Register(ext string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(ext)] = d
}

// ForPath декодер по расширению пути
func (r *Registry) ForPath(path string) (Decoder, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.codecs[ext]
	return d, ok
}
