package conference

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/arzzra/soft_conference/pkg/leg"
	"github.com/arzzra/soft_conference/pkg/media"
)

// outputPump раз в интервал отправляет в плечо персональный микс,
// смешанный с воспроизведением участника, и обрабатывает DTMF управление
func (c *Conference) outputPump(ctx context.Context, m *Member) error {
	m.logger.Debug("conference.outputPump Started")
	defer m.logger.Debug("conference.outputPump Stopped")

	ticker := time.NewTicker(c.profile.Interval)
	defer ticker.Stop()

	frame := make([]int16, c.samples)
	fileFrame := make([]int16, c.samples)
	digits := m.leg.DTMF()

	for {
		select {
		case <-ctx.Done():
			return nil

		case d, ok := <-digits:
			if !ok {
				digits = nil
				continue
			}
			c.handleDigit(ctx, m, d, time.Now())

		case now := <-ticker.C:
			if m.matcher != nil {
				if b := m.matcher.Poll(now); b != nil {
					c.executeControl(ctx, m, *b)
				}
			}

			out := c.nextOutputFrame(m, frame, fileFrame)
			if m.outResampler != nil {
				out = m.outResampler.Resample(out)
			}
			if err := m.leg.WriteFrame(out); err != nil {
				if errors.Is(err, leg.ErrHungUp) {
					m.stop(leg.CauseNormalClearing, nil)
					return nil
				}
				werr := newError(ErrorCodeWriteFailure, c.name, m.id, "ошибка отправки кадра", err)
				m.stop(leg.CauseDestinationOutOrder, werr)
				return werr
			}
		}
	}
}

// nextOutputFrame собирает кадр для отправки: выходная очередь по
// политике сброса, громкость прослушивания, файл участника или тишина
func (c *Conference) nextOutputFrame(m *Member, frame, fileFrame []int16) []int16 {
	m.flagMu.Lock()
	listenVol := m.listenVolume
	flush := m.flushBuffer
	m.flushBuffer = false
	m.flagMu.Unlock()

	samples := len(frame)
	have := false

	m.audioOut.Lock()
	q := m.outQueue
	if flush {
		q.Reset()
	}
	switch {
	case q.Len() >= samples:
		q.Read(frame)
		q.stale = 0
		have = true
		if q.Len() > c.profile.FlushBacklog*samples {
			m.logger.Debug("сброс отставания выходной очереди", slog.Int("samples", q.Len()))
			q.Reset()
		}
	case q.Len() > 0:
		q.stale++
		if q.stale > c.profile.FlushStaleTicks {
			q.Reset()
		}
	}
	m.audioOut.Unlock()

	if have {
		media.ApplyVolumeLevel(frame, listenVol)
	}

	active, finished := m.readFileFrame(fileFrame)
	if finished != nil {
		c.metrics.playbackCompleted(finished.Kind)
		c.fire(ActionPlayFileMemberDone, m, map[string]string{
			"file":  finished.Identity,
			"kind":  finished.Kind.String(),
			"async": boolString(finished.Async),
		})
	}

	switch {
	case have && active:
		media.MixInto(frame, fileFrame)
	case active:
		copy(frame, fileFrame)
	case !have:
		clear(frame)
	}
	return frame
}

// handleDigit публикует цифру и подает ее в автомат привязок
func (c *Conference) handleDigit(ctx context.Context, m *Member, d rune, now time.Time) {
	c.fire(ActionDTMFMember, m, map[string]string{"digit": string(d)})
	if m.matcher == nil {
		return
	}
	fired, _ := m.matcher.Feed(d, now)
	for _, b := range fired {
		c.executeControl(ctx, m, b)
	}
}

// executeControl выполняет действие DTMF привязки для участника
func (c *Conference) executeControl(ctx context.Context, m *Member, b ControlBinding) {
	m.logger.Debug("DTMF действие", slog.String("digits", b.Digits), slog.String("action", string(b.Action)))

	var err error
	switch b.Action {
	case ControlMute:
		if m.CanSpeak() {
			err = c.MuteMember(m.id)
		} else {
			err = c.UnmuteMember(m.id)
		}
	case ControlMuteOn:
		err = c.MuteMember(m.id)
	case ControlMuteOff:
		err = c.UnmuteMember(m.id)
	case ControlDeafMute:
		f := m.Flags()
		if f.CanSpeak || f.CanHear {
			if err = c.MuteMember(m.id); err == nil {
				err = c.DeafMember(m.id)
			}
		} else if err = c.UnmuteMember(m.id); err == nil {
			err = c.UndeafMember(m.id)
		}
	case ControlEnergyUp, ControlEnergyEqu, ControlEnergyDn:
		energy, _, _, _ := m.levels()
		switch b.Action {
		case ControlEnergyUp:
			energy += controlEnergyStep
		case ControlEnergyDn:
			energy -= controlEnergyStep
		default:
			energy = c.profile.EnergyLevel
		}
		err = c.SetEnergyLevel(m.id, max(energy, 0))
	case ControlVolTalkUp, ControlVolTalkZero, ControlVolTalkDn:
		_, talk, _, _ := m.levels()
		err = c.SetTalkVolume(m.id, stepLevel(talk, b.Action == ControlVolTalkUp, b.Action == ControlVolTalkZero))
	case ControlVolListenUp, ControlVolListenZero, ControlVolListenDn:
		_, _, listen, _ := m.levels()
		err = c.SetListenVolume(m.id, stepLevel(listen, b.Action == ControlVolListenUp, b.Action == ControlVolListenZero))
	case ControlHangup:
		err = c.HangupMember(m.id)
	case ControlLock:
		if c.IsLocked() {
			c.Unlock()
		} else {
			c.Lock()
		}
	case ControlTransfer:
		// Перевод завершает насосы участника, поэтому выполняется вне OutputPump
		id, dest := m.id, b.Data
		c.goBackground(func(ctx context.Context) {
			if terr := c.Transfer(ctx, id, dest); terr != nil {
				m.logger.Warn("ошибка перевода", slog.String("destination", dest), slog.String("error", terr.Error()))
			}
		})
	case ControlExecuteApp:
		app, args, _ := strings.Cut(b.Data, " ")
		err = c.ExecuteApp(ctx, m.id, app, args)
	case ControlEvent:
		c.fire(ActionCustom, m, map[string]string{"digits": b.Digits, "data": b.Data})
	}
	if err != nil {
		m.logger.Warn("ошибка DTMF действия", slog.String("action", string(b.Action)), slog.String("error", err.Error()))
	}
}

func stepLevel(level int, up, zero bool) int {
	switch {
	case zero:
		return 0
	case up:
		return media.ClampVolumeLevel(level + 1)
	default:
		return media.ClampVolumeLevel(level - 1)
	}
}
