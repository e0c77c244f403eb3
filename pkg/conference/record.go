package conference

import (
	"log/slog"
	"sort"
)

// Tap потребитель полного микса комнаты (например, запись в файл).
// WriteFrame вызывается из MixerLoop и не должен блокироваться.
type Tap interface {
	WriteFrame(frame []int16) error
	Close() error
}

// RecorderFactory создает Tap для пути записи
type RecorderFactory interface {
	Create(path string, rate int) (Tap, error)
}

// StartRecording начинает запись микса комнаты
func (c *Conference) StartRecording(path string) error {
	if path == "" {
		return newError(ErrorCodeInvalidArgument, c.name, 0, "пустой путь записи", nil)
	}
	if c.services.Recorders == nil {
		return newError(ErrorCodeUnsupported, c.name, 0, "запись не настроена", nil)
	}
	if c.hasFlag(flagDestruct) {
		return newError(ErrorCodeDestructing, c.name, 0, "комната завершается", nil)
	}

	c.tapMu.Lock()
	_, exists := c.taps[path]
	c.tapMu.Unlock()
	if exists {
		return newError(ErrorCodeAlreadyExists, c.name, 0, "запись уже идет: "+path, nil)
	}

	tap, err := c.services.Recorders.Create(path, c.profile.Rate)
	if err != nil {
		return newError(ErrorCodeSetupFailed, c.name, 0, "не удалось начать запись", err)
	}

	c.tapMu.Lock()
	if _, exists := c.taps[path]; exists {
		c.tapMu.Unlock()
		_ = tap.Close()
		return newError(ErrorCodeAlreadyExists, c.name, 0, "запись уже идет: "+path, nil)
	}
	c.taps[path] = tap
	c.tapMu.Unlock()

	c.fire(ActionStartRecording, nil, map[string]string{"path": path})
	return nil
}

// StopRecording останавливает запись по пути; пустой путь останавливает все.
// Возвращает количество остановленных записей.
func (c *Conference) StopRecording(path string) (int, error) {
	c.tapMu.Lock()
	stopped := make(map[string]Tap)
	if path == "" {
		for p, tap := range c.taps {
			stopped[p] = tap
			delete(c.taps, p)
		}
	} else if tap, ok := c.taps[path]; ok {
		stopped[path] = tap
		delete(c.taps, path)
	}
	c.tapMu.Unlock()

	if path != "" && len(stopped) == 0 {
		return 0, newError(ErrorCodeNotFound, c.name, 0, "запись не найдена: "+path, nil)
	}
	for p, tap := range stopped {
		if err := tap.Close(); err != nil {
			c.logger.Warn("ошибка закрытия записи", slog.String("path", p), slog.String("error", err.Error()))
		}
		c.fire(ActionStopRecording, nil, map[string]string{"path": p})
	}
	return len(stopped), nil
}

// Recordings активные пути записи
func (c *Conference) Recordings() []string {
	c.tapMu.Lock()
	defer c.tapMu.Unlock()
	out := make([]string, 0, len(c.taps))
	for p := range c.taps {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
