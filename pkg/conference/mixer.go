package conference

import (
	"context"
	"log/slog"
	"time"

	"github.com/arzzra/soft_conference/pkg/leg"
	"github.com/arzzra/soft_conference/pkg/media"
)

// maxCatchUpTicks сколько пропущенных тиков микшер догоняет за одно пробуждение
const maxCatchUpTicks = 5

// run цикл микширования комнаты. Завершается на тике, следующем за
// установкой флага уничтожения.
func (c *Conference) run() {
	c.logger.Debug("conference.mixerLoop Started")
	defer c.logger.Debug("conference.mixerLoop Stopped")
	defer c.shutdown()

	c.setFlag(flagRunning)
	c.metrics.conferenceStarted()
	c.fire(ActionConferenceCreate, nil, nil)

	ticker := time.NewTicker(c.profile.Interval)
	defer ticker.Stop()

	c.lastMixAt = time.Now()
	for !c.hasFlag(flagDestruct) {
		now := <-ticker.C
		c.mixUpdate(now)
	}
}

// mixUpdate выполняет столько тиков, сколько интервалов прошло с прошлого
// микширования. Отставание больше maxCatchUpTicks отбрасывается.
func (c *Conference) mixUpdate(now time.Time) {
	interval := c.profile.Interval
	n := int(now.Sub(c.lastMixAt) / interval)
	if n <= 0 {
		return
	}
	if n > maxCatchUpTicks {
		c.logger.Warn("микшер отстал, пропуск тиков",
			slog.Int("missed", n), slog.Int("executed", maxCatchUpTicks))
		c.lastMixAt = now.Add(-time.Duration(maxCatchUpTicks) * interval)
		n = maxCatchUpTicks
	}
	for i := 0; i < n && !c.hasFlag(flagDestruct); i++ {
		c.tickOnce()
	}
	c.metrics.catchUp(n - 1)
	c.lastMixAt = c.lastMixAt.Add(time.Duration(n) * interval)
}

// tickOnce один тик микширования под блокировкой конференции
func (c *Conference) tickOnce() {
	start := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	members := c.memberSnapshot()
	relations := c.relCount.Load() > 0

	clear(c.mixBuf)
	ready := 0
	for _, m := range members {
		m.flagMu.Lock()
		m.tickHear = m.flags.CanHear
		if relations {
			m.tickRels = append(m.tickRels[:0], m.relationships...)
		} else {
			m.tickRels = m.tickRels[:0]
		}
		m.flagMu.Unlock()

		// Неполный кадр дополняется нулями
		m.audioIn.Lock()
		m.mixReady = false
		if m.inQueue.Len() > 0 {
			n := m.inQueue.Read(m.mixFrame)
			clear(m.mixFrame[n:])
			m.mixReady = true
		}
		m.audioIn.Unlock()

		if !m.mixReady {
			continue
		}
		ready++
		for i, s := range m.mixFrame {
			c.mixBuf[i] += int32(s)
		}
	}

	filesActive := c.advanceFiles()
	if filesActive {
		for i, s := range c.fileBuf {
			c.mixBuf[i] += s
		}
	}

	if c.agcLevel.Load() > 0 && (ready > 0 || filesActive) {
		var sum int64
		for _, s := range c.mixBuf {
			if s < 0 {
				s = -s
			}
			sum += int64(s)
		}
		c.avgTally += sum / int64(len(c.mixBuf))
		c.avgItt++
		c.avgScore.Store(int32(c.avgTally / c.avgItt))
		if c.avgItt >= int64(c.profile.agcPeriodFrames()) {
			c.avgTally, c.avgItt = 0, 0
		}
	}

	for _, m := range members {
		if !m.tickHear {
			// Глухой участник с ожидающим воспроизведением получает тишину,
			// чтобы OutputPump продолжал тактироваться кадрами
			if m.hasPlayback() {
				clear(c.outBuf)
				c.deliver(m, c.outBuf)
			}
			continue
		}
		for i, s := range c.mixBuf {
			if m.mixReady {
				s -= int32(m.mixFrame[i])
			}
			c.outBuf[i] = media.Clamp16(s)
		}
		if relations {
			c.applyExclusions(m, members)
		}
		c.deliver(m, c.outBuf)
	}

	c.writeTaps()
	c.tickCount.Add(1)
	c.metrics.tick(time.Since(start))
}

// applyExclusions пересчитывает кадр слушателя без вкладов, запрещенных
// отношениями с любой из сторон
func (c *Conference) applyExclusions(listener *Member, members []*Member) {
	var dirty bool
	for _, speaker := range members {
		if speaker == listener || !speaker.mixReady {
			continue
		}
		if !excluded(listener.tickRels, listener.id, speaker.tickRels, speaker.id) {
			continue
		}
		if !dirty {
			dirty = true
			for i, s := range c.mixBuf {
				if listener.mixReady {
					s -= int32(listener.mixFrame[i])
				}
				c.exclBuf[i] = s
			}
		}
		for i, s := range speaker.mixFrame {
			c.exclBuf[i] -= int32(s)
		}
	}
	if !dirty {
		return
	}
	for i, s := range c.exclBuf {
		c.outBuf[i] = media.Clamp16(s)
	}
}

// deliver помещает персональный кадр в выходную очередь участника.
// Переполнение останавливает насосы только этого участника.
func (c *Conference) deliver(m *Member, frame []int16) {
	if m.writeOutput(frame) {
		return
	}
	c.metrics.overrun("output")
	m.logger.Warn("переполнение выходной очереди")
	m.stop(leg.CauseTemporaryFailure,
		newError(ErrorCodeQueueOverrun, c.name, m.id, "переполнение выходной очереди", nil))
}

// advanceFiles продвигает очереди воспроизведения комнаты и заполняет fileBuf
func (c *Conference) advanceFiles() bool {
	clear(c.fileBuf)
	active := false
	var finished []*FileNode

	c.fnodeMu.Lock()
	if node := c.fnodes.head(); node != nil {
		if node.readFrame(c.nodeBuf) {
			active = true
			for i, s := range c.nodeBuf {
				c.fileBuf[i] += int32(s)
			}
		} else {
			if node.complete() {
				finished = append(finished, node)
			}
			c.fnodes.advance()
		}
	}
	if node := c.asyncNode; node != nil {
		if node.readFrame(c.nodeBuf) {
			active = true
			for i, s := range c.nodeBuf {
				c.fileBuf[i] += int32(s)
			}
		} else {
			if node.complete() {
				finished = append(finished, node)
			}
			node.Close()
			c.asyncNode = nil
		}
	}
	c.fnodeMu.Unlock()

	for _, node := range finished {
		c.metrics.playbackCompleted(node.Kind)
		c.fire(ActionPlayFileDone, nil, map[string]string{
			"file":  node.Identity,
			"kind":  node.Kind.String(),
			"async": boolString(node.Async),
		})
	}
	return active
}

// writeTaps передает полный микс записывающим потребителям
func (c *Conference) writeTaps() {
	c.tapMu.Lock()
	if len(c.taps) == 0 {
		c.tapMu.Unlock()
		return
	}
	for i, s := range c.mixBuf {
		c.outBuf[i] = media.Clamp16(s)
	}
	var failed []string
	for path, tap := range c.taps {
		if err := tap.WriteFrame(c.outBuf); err != nil {
			c.logger.Warn("ошибка записи в запись", slog.String("path", path), slog.String("error", err.Error()))
			_ = tap.Close()
			delete(c.taps, path)
			failed = append(failed, path)
		}
	}
	c.tapMu.Unlock()

	for _, path := range failed {
		c.fire(ActionStopRecording, nil, map[string]string{"path": path, "reason": "write-failure"})
	}
}

// shutdown завершает комнату: участники, исходящие вызовы, воспроизведение, записи
func (c *Conference) shutdown() {
	ctx := context.Background()
	_ = c.state.Event(ctx, "destruct")
	c.setFlag(flagDestruct)

	cause := leg.CauseNormalClearing
	if v, ok := c.destroyCause.Load().(leg.Cause); ok && v != "" {
		cause = v
	}

	for _, m := range c.memberSnapshot() {
		m.flagMu.Lock()
		started := m.started
		m.flagMu.Unlock()

		m.stop(cause, nil)
		if started {
			<-m.done
			continue
		}
		_ = c.DelMember(m)
		_ = m.leg.Hangup(cause)
	}

	c.closeTasks()
	c.bgCancel()
	c.dialWG.Wait()
	c.bgWG.Wait()

	c.fnodeMu.Lock()
	c.fnodes.clear()
	if c.asyncNode != nil {
		c.asyncNode.Close()
		c.asyncNode = nil
	}
	c.fnodeMu.Unlock()

	c.tapMu.Lock()
	for path, tap := range c.taps {
		_ = tap.Close()
		delete(c.taps, path)
	}
	c.tapMu.Unlock()

	c.registry.remove(c)
	c.clearFlag(flagRunning)
	c.metrics.conferenceStopped()
	c.fire(ActionConferenceDestroy, nil, map[string]string{"cause": string(cause)})
	_ = c.state.Event(ctx, "stop")
	c.logger.Info("конференция остановлена", slog.String("cause", string(cause)))
	close(c.done)
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
