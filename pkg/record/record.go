// Package record пишет микс конференции в WAV файлы.
//
// Recorder реализует conference.RecorderFactory: каждый Create открывает
// файл и запускает горутину записи, поэтому WriteFrame из цикла микширования
// не блокируется на диске.
package record

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/arzzra/soft_conference/pkg/conference"
)

var (
	ErrClosed     = errors.New("запись закрыта")
	ErrQueueFull  = errors.New("очередь записи переполнена")
	ErrEmptyPath  = errors.New("путь записи не задан")
	ErrPathEscape = errors.New("путь записи вне каталога записей")
)

// Config настройки записи
type Config struct {
	// Dir каталог для относительных путей
	Dir string
	// QueueFrames глубина очереди кадров одной записи
	QueueFrames int
	Logger      *slog.Logger
}

// Recorder фабрика WAV записей
type Recorder struct {
	dir    string
	queue  int
	logger *slog.Logger
}

var _ conference.RecorderFactory = (*Recorder)(nil)

// New создает фабрику записей
func New(cfg Config) *Recorder {
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recorder{dir: cfg.Dir, queue: cfg.QueueFrames, logger: cfg.Logger}
}

func (r *Recorder) resolve(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if r.dir == "" || filepath.IsAbs(path) {
		return path, nil
	}
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("%s: %w", path, ErrPathEscape)
	}
	return filepath.Join(r.dir, path), nil
}

// Create открывает файл записи 16 бит моно на частоте rate
func (r *Recorder) Create(path string, rate int) (conference.Tap, error) {
	full, err := r.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, err
	}
	w := &WAVTap{
		path:   full,
		file:   f,
		enc:    wav.NewEncoder(f, rate, 16, 1, 1),
		format: &goaudio.Format{NumChannels: 1, SampleRate: rate},
		frames: make(chan []int16, r.queue),
		done:   make(chan struct{}),
		logger: r.logger.With(slog.String("component", "recorder"), slog.String("path", full)),
	}
	go w.writeLoop()
	w.logger.Info("запись начата", slog.Int("rate", rate))
	return w, nil
}

// WAVTap одна активная запись
type WAVTap struct {
	path   string
	file   *os.File
	enc    *wav.Encoder
	format *goaudio.Format
	frames chan []int16
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
	err     error
}

// WriteFrame ставит копию кадра в очередь записи
func (w *WAVTap) WriteFrame(frame []int16) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.frames <- append([]int16(nil), frame...):
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

func (w *WAVTap) writeLoop() {
	defer close(w.done)
	buf := &goaudio.IntBuffer{Format: w.format, SourceBitDepth: 16}
	for frame := range w.frames {
		if w.err != nil {
			continue
		}
		if cap(buf.Data) < len(frame) {
			buf.Data = make([]int, len(frame))
		}
		buf.Data = buf.Data[:len(frame)]
		for i, s := range frame {
			buf.Data[i] = int(s)
		}
		if err := w.enc.Write(buf); err != nil {
			w.err = err
			w.logger.Error("ошибка записи", slog.String("error", err.Error()))
			continue
		}
		w.written.Add(uint64(len(frame)))
	}
}

// Close дописывает очередь, заголовок WAV и закрывает файл
func (w *WAVTap) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.frames)
	w.mu.Unlock()

	<-w.done
	err := errors.Join(w.err, w.enc.Close(), w.file.Close())
	w.logger.Info("запись завершена",
		slog.Uint64("samples", w.written.Load()),
		slog.Uint64("dropped_frames", w.dropped.Load()))
	return err
}

// Path полный путь файла
func (w *WAVTap) Path() string { return w.path }

// Samples число записанных отсчетов
func (w *WAVTap) Samples() uint64 { return w.written.Load() }

// Dropped число кадров, не поместившихся в очередь
func (w *WAVTap) Dropped() uint64 { return w.dropped.Load() }
