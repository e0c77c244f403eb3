package conference

import (
	"context"
	"errors"
	"strconv"

	"github.com/arzzra/soft_conference/pkg/leg"
	"github.com/arzzra/soft_conference/pkg/media"
)

// inputPump читает кадры из плеча, оценивает речь и пишет принятое
// аудио во входную очередь участника
func (c *Conference) inputPump(ctx context.Context, m *Member) error {
	m.logger.Debug("conference.inputPump Started")
	defer m.logger.Debug("conference.inputPump Stopped")

	for {
		frame, err := m.leg.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, leg.ErrHungUp) {
				cause, ok := leg.CauseOf(m.leg)
				if !ok || cause == "" {
					cause = leg.CauseNormalClearing
				}
				m.stop(cause, nil)
				return nil
			}
			rerr := newError(ErrorCodeReadFailure, c.name, m.id, "ошибка чтения кадра", err)
			m.stop(leg.CauseDestinationOutOrder, rerr)
			return rerr
		}
		if err := c.processInputFrame(m, frame); err != nil {
			m.stop(leg.CauseTemporaryFailure, err)
			return err
		}
	}
}

// processInputFrame обрабатывает один входной кадр участника: громкость,
// оценка энергии, детектор речи, AGC, слово и постановка в очередь
func (c *Conference) processInputFrame(m *Member, raw []int16) error {
	t := &m.talk
	if t.resampler != nil {
		raw = t.resampler.Resample(raw)
	}
	frame := append(m.inFrame[:0], raw...)
	m.inFrame = frame

	m.flagMu.Lock()
	energy := m.energyLevel
	talkVol := m.talkVolume
	agcVol := m.agcVolumeIn
	canSpeak := m.flags.CanSpeak
	muteDetect := m.flags.MuteDetect
	moderator := m.flags.Moderator
	m.flagMu.Unlock()

	media.ApplyVolumeLevel(frame, talkVol)
	agcLevel := int(c.agcLevel.Load())
	if agcLevel > 0 {
		media.ApplyGranularLevel(frame, agcVol)
	}

	score := media.Energy(frame)
	m.score.Store(int32(score))
	iir := (2*score + 8*int(m.scoreIIR.Load())) / 10
	if iir > ScoreMaxIIR {
		iir = ScoreMaxIIR
	}
	m.scoreIIR.Store(int32(iir))

	gate := energy
	if agcLevel > 0 && agcVol != 0 {
		gate = energy + AGCGateStep*agcVol
	}
	above := score > gate

	if agcLevel > 0 && canSpeak && above && score > 0 {
		c.trackAGC(m, score, agcLevel)
	}
	t.lastScore = score

	talking := m.talking.Load()
	if above {
		t.hangoverHits = 0
		if !talking {
			t.hangunderHits++
			if score-energy >= TalkDiffLevel || t.hangunderHits >= c.profile.TalkHangunder {
				t.hangunderHits = 0
				talking = true
				m.talking.Store(true)
				c.fire(ActionStartTalking, m, nil)
				if !canSpeak && muteDetect && !t.muteDetected {
					t.muteDetected = true
					c.fire(ActionMuteDetect, m, nil)
				}
			}
		}
	} else {
		t.hangunderHits = 0
		if talking {
			t.hangoverHits++
			if t.hangoverHits >= c.profile.TalkHangover {
				t.hangoverHits = 0
				talking = false
				m.talking.Store(false)
				t.muteDetected = false
				c.fire(ActionStopTalking, m, nil)
			}
		}
	}

	if talking && canSpeak {
		c.checkFloor(m)
	}

	waiting := c.hasFlag(flagWaitMod) && !moderator
	if !canSpeak || waiting || (!talking && energy != 0) {
		return nil
	}

	m.audioIn.Lock()
	ok := m.inQueue.Write(frame)
	m.audioIn.Unlock()
	if !ok {
		c.metrics.overrun("input")
		m.logger.Warn("переполнение входной очереди")
		return newError(ErrorCodeQueueOverrun, c.name, m.id, "переполнение входной очереди", nil)
	}
	return nil
}

// trackAGC накапливает среднюю оценку и раз в период подстраивает
// входную громкость на один шаг к цели
func (c *Conference) trackAGC(m *Member, score, target int) {
	t := &m.talk
	shift := score - t.lastScore
	if shift < 0 {
		shift = -shift
	}
	if t.lastScore > 0 && shift > AGCSpikeLevel {
		// Выброс не учитывается и начинает период заново
		t.agcConcur = 0
		return
	}
	t.avgTally += int64(score)
	t.avgItt++
	t.agcConcur++
	if t.agcConcur < c.profile.agcPeriodFrames() {
		return
	}

	avg := int(t.avgTally / t.avgItt)
	t.avgTally, t.avgItt, t.agcConcur = 0, 0, 0

	step := 0
	switch {
	case avg < target-AGCDeadband:
		step = 1
	case avg > target+AGCDeadband:
		step = -1
	default:
		return
	}

	m.flagMu.Lock()
	next := media.ClampGranularLevel(m.agcVolumeIn + step)
	changed := next != m.agcVolumeIn
	m.agcVolumeIn = next
	m.flagMu.Unlock()

	if changed {
		c.fire(ActionGainLevel, m, map[string]string{
			"agc_volume_in": strconv.Itoa(next),
			"average":       strconv.Itoa(avg),
		})
	}
}

// checkFloor передает слово говорящему участнику, если держателя нет,
// держатель молчит или претендент заметно громче затихающего держателя
func (c *Conference) checkFloor(m *Member) {
	if c.hasFlag(flagVideoFloorOnly) && !m.HasVideo() {
		return
	}
	for {
		holderID := c.floorHolder.Load()
		if holderID == m.id {
			return
		}
		if holderID != 0 {
			holder := c.findMember(holderID)
			if holder != nil && holder.IsTalking() &&
				!(holder.ScoreIIR() < ScoreIIRSpeakingMin && m.ScoreIIR() > ScoreIIRSpeakingMax) {
				return
			}
		}
		if c.floorHolder.CompareAndSwap(holderID, m.id) {
			c.fire(ActionFloorChange, m, map[string]string{
				"old_id": strconv.FormatUint(uint64(holderID), 10),
				"new_id": strconv.FormatUint(uint64(m.id), 10),
			})
			return
		}
	}
}
