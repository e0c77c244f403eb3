package conference

import (
	"context"
	"fmt"
	"strconv"

	"github.com/arzzra/soft_conference/pkg/leg"
	"github.com/arzzra/soft_conference/pkg/media"
)

// updateMember изменяет состояние участника под флаговой блокировкой
func (c *Conference) updateMember(id uint32, fn func(m *Member) bool) (*Member, bool, error) {
	m := c.findMember(id)
	if m == nil {
		return nil, false, newError(ErrorCodeNotFound, c.name, id, "участник не найден", nil)
	}
	m.flagMu.Lock()
	changed := fn(m)
	m.flagMu.Unlock()
	return m, changed, nil
}

// MuteMember запрещает участнику говорить
func (c *Conference) MuteMember(id uint32) error {
	m, changed, err := c.updateMember(id, func(m *Member) bool {
		was := m.flags.CanSpeak
		m.flags.CanSpeak = false
		return was
	})
	if err != nil || !changed {
		return err
	}
	// Остаток речи в очереди не должен попасть в микс
	m.audioIn.Lock()
	m.inQueue.Reset()
	m.audioIn.Unlock()
	c.fire(ActionMuteMember, m, nil)
	c.playMemberNotice(m, c.profile.MutedSound)
	return nil
}

// UnmuteMember разрешает участнику говорить
func (c *Conference) UnmuteMember(id uint32) error {
	m, changed, err := c.updateMember(id, func(m *Member) bool {
		was := m.flags.CanSpeak
		m.flags.CanSpeak = true
		return !was
	})
	if err != nil || !changed {
		return err
	}
	c.fire(ActionUnmuteMember, m, nil)
	c.playMemberNotice(m, c.profile.UnmutedSound)
	return nil
}

// DeafMember отключает участнику микс конференции
func (c *Conference) DeafMember(id uint32) error {
	m, changed, err := c.updateMember(id, func(m *Member) bool {
		was := m.flags.CanHear
		m.flags.CanHear = false
		m.flushBuffer = true
		return was
	})
	if err != nil || !changed {
		return err
	}
	c.fire(ActionDeafMember, m, nil)
	return nil
}

// UndeafMember возвращает участнику микс конференции
func (c *Conference) UndeafMember(id uint32) error {
	m, changed, err := c.updateMember(id, func(m *Member) bool {
		was := m.flags.CanHear
		m.flags.CanHear = true
		m.flushBuffer = true
		return !was
	})
	if err != nil || !changed {
		return err
	}
	c.fire(ActionUndeafMember, m, nil)
	return nil
}

// KickMember удаляет участника с причиной MANAGER_REQUEST. Если настроен
// звук исключения, участник сначала его слышит.
func (c *Conference) KickMember(id uint32) error {
	m, _, err := c.updateMember(id, func(m *Member) bool {
		m.flags.Kicked = true
		m.flags.CanSpeak = false
		return true
	})
	if err != nil {
		return err
	}
	c.fire(ActionKickMember, m, nil)

	if c.profile.KickedSound == "" || c.services.Sources == nil {
		m.stop(leg.CauseManagerRequest, nil)
		return nil
	}
	m.clearPlayback(StopAll)
	started := c.goBackground(func(ctx context.Context) {
		node, err := c.openFile(ctx, c.profile.KickedSound, PlayOptions{LeadIn: 0})
		if err != nil {
			m.stop(leg.CauseManagerRequest, nil)
			return
		}
		node.OnDestroy(func() { m.stop(leg.CauseManagerRequest, nil) })
		m.fnodeMu.Lock()
		m.fnodes.push(node)
		m.fnodeMu.Unlock()
	})
	if !started {
		m.stop(leg.CauseManagerRequest, nil)
	}
	return nil
}

// HangupMember завершает участие с нормальной причиной
func (c *Conference) HangupMember(id uint32) error {
	m := c.findMember(id)
	if m == nil {
		return newError(ErrorCodeNotFound, c.name, id, "участник не найден", nil)
	}
	c.fire(ActionHupMember, m, nil)
	m.stop(leg.CauseNormalClearing, nil)
	return nil
}

// SetEnergyLevel порог шумового шлюза участника
func (c *Conference) SetEnergyLevel(id uint32, level int) error {
	if level < 0 {
		return newError(ErrorCodeInvalidArgument, c.name, id, "отрицательный уровень энергии", nil)
	}
	m, _, err := c.updateMember(id, func(m *Member) bool {
		m.energyLevel = level
		return true
	})
	if err != nil {
		return err
	}
	c.fire(ActionEnergyLevelMember, m, map[string]string{"energy_level": strconv.Itoa(level)})
	return nil
}

// SetTalkVolume громкость речи участника в микс (-4..4)
func (c *Conference) SetTalkVolume(id uint32, level int) error {
	level = media.ClampVolumeLevel(level)
	m, _, err := c.updateMember(id, func(m *Member) bool {
		m.talkVolume = level
		return true
	})
	if err != nil {
		return err
	}
	c.fire(ActionVolumeInMember, m, map[string]string{"volume_in": strconv.Itoa(level)})
	return nil
}

// SetListenVolume громкость микса для участника (-4..4)
func (c *Conference) SetListenVolume(id uint32, level int) error {
	level = media.ClampVolumeLevel(level)
	m, _, err := c.updateMember(id, func(m *Member) bool {
		m.listenVolume = level
		return true
	})
	if err != nil {
		return err
	}
	c.fire(ActionVolumeOutMember, m, map[string]string{"volume_out": strconv.Itoa(level)})
	return nil
}

// SetAGCLevel цель AGC комнаты; 0 выключает AGC и сбрасывает смещения участников
func (c *Conference) SetAGCLevel(level int) error {
	if level < 0 {
		return newError(ErrorCodeInvalidArgument, c.name, 0, "отрицательный уровень AGC", nil)
	}
	c.agcLevel.Store(int32(level))
	if level == 0 {
		for _, m := range c.memberSnapshot() {
			m.flagMu.Lock()
			m.agcVolumeIn = 0
			m.flagMu.Unlock()
		}
	}
	c.fire(ActionGainLevel, nil, map[string]string{"agc_level": strconv.Itoa(level)})
	return nil
}

// SetRelationship задает видимость участника id по отношению к other
// (WildcardID означает всех). Счетчик отношений комнаты меняется вместе со списком.
func (c *Conference) SetRelationship(id, other uint32, canHear, canSpeak bool) error {
	if id == other {
		return newError(ErrorCodeInvalidArgument, c.name, id, "отношение к самому себе", nil)
	}
	c.mutex.Lock()
	m, _, err := c.updateMember(id, func(m *Member) bool {
		if m.relationships.set(Relationship{ID: other, CanHear: canHear, CanSpeak: canSpeak}) {
			c.relCount.Add(1)
		}
		return true
	})
	c.mutex.Unlock()
	if err != nil {
		return err
	}
	c.fire(ActionRelationship, m, map[string]string{
		"other_id":  strconv.FormatUint(uint64(other), 10),
		"can_hear":  boolString(canHear),
		"can_speak": boolString(canSpeak),
	})
	return nil
}

// ClearRelationship удаляет отношение участника id к other
func (c *Conference) ClearRelationship(id, other uint32) error {
	c.mutex.Lock()
	m, removed, err := c.updateMember(id, func(m *Member) bool {
		if m.relationships.remove(other) {
			c.relCount.Add(-1)
			return true
		}
		return false
	})
	c.mutex.Unlock()
	if err != nil {
		return err
	}
	if !removed {
		return newError(ErrorCodeNotFound, c.name, id, fmt.Sprintf("нет отношения к %d", other), nil)
	}
	c.fire(ActionRelationship, m, map[string]string{
		"other_id": strconv.FormatUint(uint64(other), 10),
		"cleared":  "true",
	})
	return nil
}

// Relationships отношения участника
func (c *Conference) Relationships(id uint32) ([]Relationship, error) {
	m := c.findMember(id)
	if m == nil {
		return nil, newError(ErrorCodeNotFound, c.name, id, "участник не найден", nil)
	}
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	return append([]Relationship(nil), m.relationships...), nil
}

// ExecuteApp запускает внешнее приложение для участника
func (c *Conference) ExecuteApp(ctx context.Context, id uint32, app, args string) error {
	m := c.findMember(id)
	if m == nil {
		return newError(ErrorCodeNotFound, c.name, id, "участник не найден", nil)
	}
	if c.services.Apps == nil {
		return newError(ErrorCodeUnsupported, c.name, id, "приложения не настроены", nil)
	}
	c.fire(ActionExecuteApp, m, map[string]string{"application": app, "args": args})
	if err := c.services.Apps.Execute(ctx, c, m, app, args); err != nil {
		return newError(ErrorCodeInvalidArgument, c.name, id, "ошибка приложения "+app, err)
	}
	return nil
}
