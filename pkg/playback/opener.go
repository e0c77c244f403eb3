package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/arzzra/soft_conference/pkg/conference"
)

// Config настройки открытия звуковых файлов
type Config struct {
	// SoundsDir каталог для относительных путей
	SoundsDir string
	// Registry декодеры; nil означает NewRegistry()
	Registry *Registry
	Logger   *slog.Logger
}

// Opener открывает файлы и сгенерированные источники.
// Реализует conference.SourceOpener.
type Opener struct {
	soundsDir string
	registry  *Registry
	logger    *slog.Logger
}

var _ conference.SourceOpener = (*Opener)(nil)

// NewOpener создает Opener
func NewOpener(cfg Config) *Opener {
	o := &Opener{soundsDir: cfg.SoundsDir, registry: cfg.Registry, logger: cfg.Logger}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Resolve полный путь файла с учетом SoundsDir
func (o *Opener) Resolve(path string) string {
	if filepath.IsAbs(path) || o.soundsDir == "" {
		return path
	}
	return filepath.Join(o.soundsDir, path)
}

// Open открывает path как моно источник на частоте rate
func (o *Opener) Open(ctx context.Context, path string, rate int) (conference.AudioSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if IsGenerator(path) {
		stream, err := ParseGenerator(path, rate)
		if err != nil {
			return nil, err
		}
		return NewSource(stream, nil, rate)
	}

	full := o.Resolve(path)
	dec, ok := o.registry.ForPath(full)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	stream, err := dec.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src, err := NewSource(stream, f, rate)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	o.logger.Debug("открыт звуковой файл",
		slog.String("path", full),
		slog.Int("file_rate", stream.SampleRate()),
		slog.Int("channels", stream.Channels()),
		slog.Int("rate", rate))
	return src, nil
}
