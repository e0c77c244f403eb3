package conference

import (
	"context"
	"log/slog"
	"strconv"
)

// openFile открывает файл как узел воспроизведения на частоте комнаты
func (c *Conference) openFile(ctx context.Context, path string, opts PlayOptions) (*FileNode, error) {
	if path == "" {
		return nil, newError(ErrorCodeInvalidArgument, c.name, 0, "пустой путь файла", nil)
	}
	if c.services.Sources == nil {
		return nil, newError(ErrorCodeUnsupported, c.name, 0, "источники файлов не настроены", nil)
	}
	rate := c.profile.Rate
	src, err := c.services.Sources.Open(ctx, path, rate)
	if err != nil {
		return nil, newError(ErrorCodeNotFound, c.name, 0, "не удалось открыть "+path, err)
	}
	leadIn := opts.LeadIn
	if leadIn < 0 {
		leadIn = c.profile.LeadIn
	}
	node := newFileNode(NodeFile, path, src, leadIn, opts.Async)
	node.Loop = opts.Loop
	if opts.Loop {
		node.reopen = func() (AudioSource, error) {
			return c.services.Sources.Open(c.bgCtx, path, rate)
		}
	}
	return node, nil
}

// openSpeech синтезирует текст как узел воспроизведения
func (c *Conference) openSpeech(ctx context.Context, text string, opts PlayOptions) (*FileNode, error) {
	if text == "" {
		return nil, newError(ErrorCodeInvalidArgument, c.name, 0, "пустой текст", nil)
	}
	if c.services.Speech == nil {
		return nil, newError(ErrorCodeNoSpeechEngine, c.name, 0, "синтез речи не настроен", nil)
	}
	voice := opts.Voice
	if voice == "" {
		voice = c.profile.TTSVoice
	}
	src, err := c.services.Speech.Synthesize(ctx, text, voice, c.profile.Rate)
	if err != nil {
		return nil, newError(ErrorCodePlaybackFailed, c.name, 0, "ошибка синтеза речи", err)
	}
	leadIn := opts.LeadIn
	if leadIn < 0 {
		leadIn = c.profile.LeadIn
	}
	return newFileNode(NodeSpeech, text, src, leadIn, opts.Async), nil
}

// enqueue ставит узел в очередь комнаты. Асинхронный узел заменяет текущий.
func (c *Conference) enqueue(node *FileNode) {
	c.fnodeMu.Lock()
	defer c.fnodeMu.Unlock()
	if !node.Async {
		c.fnodes.push(node)
		return
	}
	if c.asyncNode != nil {
		c.asyncNode.Close()
	}
	c.asyncNode = node
}

// PlayFile воспроизводит файл всем участникам комнаты
func (c *Conference) PlayFile(ctx context.Context, path string, opts PlayOptions) error {
	if c.hasFlag(flagDestruct) {
		return newError(ErrorCodeDestructing, c.name, 0, "комната завершается", nil)
	}
	node, err := c.openFile(ctx, path, opts)
	if err != nil {
		return err
	}
	c.enqueue(node)
	c.fire(ActionPlayFile, nil, map[string]string{"file": path, "async": boolString(opts.Async)})
	return nil
}

// Say синтезирует текст и воспроизводит его всем участникам
func (c *Conference) Say(ctx context.Context, text string, opts PlayOptions) error {
	if c.hasFlag(flagDestruct) {
		return newError(ErrorCodeDestructing, c.name, 0, "комната завершается", nil)
	}
	node, err := c.openSpeech(ctx, text, opts)
	if err != nil {
		return err
	}
	c.enqueue(node)
	c.fire(ActionSpeakText, nil, map[string]string{"text": text, "async": boolString(opts.Async)})
	return nil
}

// StopPlayback останавливает воспроизведение комнаты, возвращает число снятых узлов
func (c *Conference) StopPlayback(scope StopScope) int {
	c.fnodeMu.Lock()
	defer c.fnodeMu.Unlock()

	stopAsync := func() int {
		if c.asyncNode == nil {
			return 0
		}
		c.asyncNode.Close()
		c.asyncNode = nil
		return 1
	}
	switch scope {
	case StopCurrent:
		if c.fnodes.head() == nil {
			return 0
		}
		c.fnodes.advance()
		return 1
	case StopAsync:
		return stopAsync()
	default:
		return c.fnodes.clear() + stopAsync()
	}
}

// PlayFileMember воспроизводит файл одному участнику
func (c *Conference) PlayFileMember(ctx context.Context, id uint32, path string, opts PlayOptions) error {
	m := c.findMember(id)
	if m == nil {
		return newError(ErrorCodeNotFound, c.name, id, "участник не найден", nil)
	}
	opts.Async = false
	node, err := c.openFile(ctx, path, opts)
	if err != nil {
		return err
	}
	m.fnodeMu.Lock()
	m.fnodes.push(node)
	m.fnodeMu.Unlock()
	c.fire(ActionPlayFileMember, m, map[string]string{"file": path})
	return nil
}

// SayMember синтезирует текст для одного участника
func (c *Conference) SayMember(ctx context.Context, id uint32, text string, opts PlayOptions) error {
	m := c.findMember(id)
	if m == nil {
		return newError(ErrorCodeNotFound, c.name, id, "участник не найден", nil)
	}
	opts.Async = false
	node, err := c.openSpeech(ctx, text, opts)
	if err != nil {
		return err
	}
	m.fnodeMu.Lock()
	m.fnodes.push(node)
	m.fnodeMu.Unlock()
	c.fire(ActionSpeakTextMember, m, map[string]string{"text": text})
	return nil
}

// StopPlaybackMember останавливает воспроизведение участника
func (c *Conference) StopPlaybackMember(id uint32, scope StopScope) (int, error) {
	m := c.findMember(id)
	if m == nil {
		return 0, newError(ErrorCodeNotFound, c.name, id, "участник не найден", nil)
	}
	return m.clearPlayback(scope), nil
}

// playAnnouncement ставит звук комнаты в очередь в фоне, не блокируя вызывающего
func (c *Conference) playAnnouncement(path string, opts PlayOptions) {
	c.goBackground(func(ctx context.Context) {
		node, err := c.openFile(ctx, path, opts)
		if err != nil {
			c.logger.Debug("звук комнаты недоступен", slog.String("file", path), slog.String("error", err.Error()))
			return
		}
		if ctx.Err() != nil {
			node.Close()
			return
		}
		c.enqueue(node)
	})
}

// playMemberNotice ставит звук участнику в фоне
func (c *Conference) playMemberNotice(m *Member, path string) {
	if path == "" || c.services.Sources == nil {
		return
	}
	c.goBackground(func(ctx context.Context) {
		node, err := c.openFile(ctx, path, PlayOptions{LeadIn: -1})
		if err != nil {
			m.logger.Debug("звук участника недоступен", slog.String("file", path), slog.String("error", err.Error()))
			return
		}
		m.fnodeMu.Lock()
		m.fnodes.push(node)
		m.fnodeMu.Unlock()
	})
}

// startBackground запускает музыку ожидания или постоянный звук в асинхронном слоте
func (c *Conference) startBackground(path string) {
	if path == "" || c.services.Sources == nil {
		return
	}
	c.bgPending.Store(true)
	started := c.goBackground(func(ctx context.Context) {
		node, err := c.openFile(ctx, path, PlayOptions{Async: true, Loop: true})
		if err != nil {
			c.bgPending.Store(false)
			c.logger.Debug("фоновый звук недоступен", slog.String("file", path), slog.String("error", err.Error()))
			return
		}
		node.background = true
		// Второй участник мог войти, пока файл открывался
		if !c.bgPending.Load() || ctx.Err() != nil {
			node.Close()
			return
		}
		c.enqueue(node)
	})
	if !started {
		c.bgPending.Store(false)
	}
}

// stopBackground снимает музыку ожидания
func (c *Conference) stopBackground() {
	c.bgPending.Store(false)
	c.fnodeMu.Lock()
	defer c.fnodeMu.Unlock()
	if c.asyncNode != nil && c.asyncNode.background {
		c.asyncNode.Close()
		c.asyncNode = nil
	}
}

// enterAnnouncements звуки входа по текущему количеству участников.
// Вызывается под блокировкой конференции, все открытия файлов фоновые.
func (c *Conference) enterAnnouncements(m *Member, count int) {
	p := c.profile
	waiting := c.hasFlag(flagWaitMod)

	if count > 1 && !waiting {
		c.stopBackground()
	}
	if m.opts.Ghost {
		return
	}
	if p.EnterSound != "" {
		c.playAnnouncement(p.EnterSound, PlayOptions{LeadIn: -1})
	}

	switch {
	case waiting && !m.opts.Moderator:
		if !m.opts.NoMOH {
			c.startBackground(p.MOHSound)
		}
	case count == 1:
		c.playMemberNotice(m, p.AloneSound)
		if p.PerpetualSound != "" {
			c.startBackground(p.PerpetualSound)
		} else if !m.opts.NoMOH {
			c.startBackground(p.MOHSound)
		}
	}

	if p.AnnounceCount > 0 && count >= p.AnnounceCount && c.services.Speech != nil {
		text := "There are " + strconv.Itoa(count) + " callers in the conference"
		c.goBackground(func(ctx context.Context) {
			node, err := c.openSpeech(ctx, text, PlayOptions{LeadIn: -1})
			if err != nil {
				return
			}
			m.fnodeMu.Lock()
			m.fnodes.push(node)
			m.fnodeMu.Unlock()
		})
	}
}
