package conference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/soft_conference/pkg/leg"
	"github.com/arzzra/soft_conference/pkg/media"
)

// Флаги конференции
const (
	flagRunning uint32 = 1 << iota
	flagDestruct
	flagLocked
	flagEnforceMin
	flagWaitMod
	flagDynamic
	flagVideoFloorOnly
)

// Состояния цикла микширования
const (
	StateRunning     = "running"
	StateDestructing = "destructing"
	StateStopped     = "stopped"
)

// Conference комната микширования.
//
// Порядок блокировок: mutex -> member.audioIn -> member.audioOut ->
// member.flagMu -> memberMu. fnodeMu и блокировки источников берутся
// последними и не удерживаются при захвате других.
type Conference struct {
	name     string
	uuid     string
	profile  *Profile
	samples  int
	registry *Registry
	services Services
	events   *EventBus
	metrics  *Metrics
	logger   *slog.Logger

	// mutex сериализует изменения состава и тики микшера
	mutex sync.Mutex

	memberMu     sync.RWMutex
	members      []*Member
	count        int
	ghostCount   int
	endConfCount int

	flags       atomic.Uint32
	floorHolder atomic.Uint32
	relCount    atomic.Int32
	agcLevel    atomic.Int32
	avgScore    atomic.Int32
	eventMask   atomic.Uint32

	// Состояние микшера
	mixBuf    []int32
	fileBuf   []int32
	exclBuf   []int32
	nodeBuf   []int16
	outBuf    []int16
	avgTally  int64
	avgItt    int64
	lastMixAt time.Time
	tickCount atomic.Uint64

	fnodeMu   sync.Mutex
	fnodes    playbackQueue
	asyncNode *FileNode
	bgPending atomic.Bool

	tapMu sync.Mutex
	taps  map[string]Tap

	state *fsm.FSM

	// Исходящие вызовы и фоновые задачи отменяются вместе с комнатой
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	dialWG   sync.WaitGroup
	// taskMu защищает tasksClosed и Add на bgWG/dialWG
	taskMu      sync.Mutex
	tasksClosed bool

	destroyCause atomic.Value // leg.Cause
	startTime    time.Time
	done         chan struct{}
}

func newConference(reg *Registry, name string, profile *Profile) (*Conference, error) {
	if err := profile.Validate(); err != nil {
		return nil, newError(ErrorCodeSetupFailed, name, 0, "некорректный профиль", err)
	}
	samples := profile.samplesPerFrame()
	bgCtx, bgCancel := context.WithCancel(context.Background())

	c := &Conference{
		name:      name,
		uuid:      uuid.NewString(),
		profile:   profile,
		samples:   samples,
		registry:  reg,
		services:  reg.services,
		events:    reg.events,
		metrics:   reg.metrics,
		logger:    reg.logger.With(slog.String("conference", name)),
		mixBuf:    make([]int32, samples),
		fileBuf:   make([]int32, samples),
		exclBuf:   make([]int32, samples),
		nodeBuf:   make([]int16, samples),
		outBuf:    make([]int16, samples),
		taps:      make(map[string]Tap),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
	c.agcLevel.Store(int32(profile.AGCLevel))
	c.eventMask.Store(uint32(profile.EventMask))

	var flags uint32
	if profile.Dynamic {
		flags |= flagDynamic
	}
	if profile.WaitForModerator {
		flags |= flagWaitMod
	}
	if profile.VideoFloorOnly {
		flags |= flagVideoFloorOnly
	}
	c.flags.Store(flags)

	c.state = fsm.NewFSM(
		StateRunning,
		fsm.Events{
			{Name: "destruct", Src: []string{StateRunning}, Dst: StateDestructing},
			{Name: "stop", Src: []string{StateDestructing}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debug("смена состояния конференции",
					slog.String("from", e.Src), slog.String("to", e.Dst))
			},
		},
	)
	return c, nil
}

func (c *Conference) hasFlag(f uint32) bool { return c.flags.Load()&f != 0 }

func (c *Conference) setFlag(f uint32) {
	for {
		old := c.flags.Load()
		if c.flags.CompareAndSwap(old, old|f) {
			return
		}
	}
}

func (c *Conference) clearFlag(f uint32) {
	for {
		old := c.flags.Load()
		if c.flags.CompareAndSwap(old, old&^f) {
			return
		}
	}
}

// Name имя комнаты
func (c *Conference) Name() string { return c.name }

// UUID уникальный идентификатор экземпляра комнаты
func (c *Conference) UUID() string { return c.uuid }

// Profile копия профиля комнаты
func (c *Conference) Profile() *Profile { return c.profile.Copy() }

// Rate частота микширования
func (c *Conference) Rate() int { return c.profile.Rate }

// State состояние цикла микширования
func (c *Conference) State() string { return c.state.Current() }

// Done закрывается после полной остановки комнаты
func (c *Conference) Done() <-chan struct{} { return c.done }

// IsLocked признак блокировки входа
func (c *Conference) IsLocked() bool { return c.hasFlag(flagLocked) }

// IsDestructing признак запланированного уничтожения
func (c *Conference) IsDestructing() bool { return c.hasFlag(flagDestruct) }

// WaitingForModerator комната ждет модератора
func (c *Conference) WaitingForModerator() bool { return c.hasFlag(flagWaitMod) }

// Count количество участников без учета ghost
func (c *Conference) Count() int {
	c.memberMu.RLock()
	defer c.memberMu.RUnlock()
	return c.count
}

// FloorHolder идентификатор держателя слова, 0 если нет
func (c *Conference) FloorHolder() uint32 { return c.floorHolder.Load() }

// AverageScore бегущая средняя энергия микса (при включенном AGC)
func (c *Conference) AverageScore() int { return int(c.avgScore.Load()) }

// AGCLevel цель AGC, 0 = выключено
func (c *Conference) AGCLevel() int { return int(c.agcLevel.Load()) }

// SetEventMask включает группы событий комнаты
func (c *Conference) SetEventMask(mask EventCategory) {
	c.eventMask.Store(uint32(mask))
}

// Member возвращает участника по идентификатору
func (c *Conference) Member(id uint32) (*Member, error) {
	if m := c.findMember(id); m != nil {
		return m, nil
	}
	return nil, newError(ErrorCodeNotFound, c.name, id, "участник не найден", nil)
}

func (c *Conference) findMember(id uint32) *Member {
	if id == 0 {
		return nil
	}
	c.memberMu.RLock()
	defer c.memberMu.RUnlock()
	for _, m := range c.members {
		if m.id == id {
			return m
		}
	}
	return nil
}

// Members снимок участников в порядке входа
func (c *Conference) Members() []MemberInfo {
	c.memberMu.RLock()
	list := append([]*Member(nil), c.members...)
	c.memberMu.RUnlock()

	out := make([]MemberInfo, 0, len(list))
	for _, m := range list {
		out = append(out, m.Info())
	}
	return out
}

func (c *Conference) memberSnapshot() []*Member {
	c.memberMu.RLock()
	defer c.memberMu.RUnlock()
	return append([]*Member(nil), c.members...)
}

// fire публикует событие, если его группа включена маской комнаты
func (c *Conference) fire(action EventAction, m *Member, data map[string]string) {
	if EventCategory(c.eventMask.Load())&action.Category() == 0 {
		return
	}
	e := Event{
		Action:         action,
		Conference:     c.name,
		ConferenceUUID: c.uuid,
		Size:           c.Count(),
		Data:           data,
		Time:           time.Now(),
	}
	if m != nil {
		e.MemberID = m.id
		f := m.Flags()
		e.MemberFlags = &f
	}
	c.metrics.event(action)
	if c.events != nil {
		c.events.Publish(e)
	}
}

// Join создает участника для плеча, добавляет его в комнату и запускает насосы
func (c *Conference) Join(ctx context.Context, l leg.Leg, opts JoinOptions) (*Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.Ready() {
		return nil, newError(ErrorCodeInvalidArgument, c.name, 0, "плечо не готово", nil)
	}
	m := newMember(c.registry.NextMemberID(), l, opts, c.profile, c.logger)
	if l.SampleRate() != c.profile.Rate {
		rs, err := media.NewResampler(l.SampleRate(), c.profile.Rate)
		if err != nil {
			return nil, newError(ErrorCodeSetupFailed, c.name, m.id, "ресемплер входа", err)
		}
		m.talk.resampler = rs
		out, err := media.NewResampler(c.profile.Rate, l.SampleRate())
		if err != nil {
			return nil, newError(ErrorCodeSetupFailed, c.name, m.id, "ресемплер выхода", err)
		}
		m.outResampler = out
	}
	if err := c.admit(m); err != nil {
		return nil, err
	}
	c.startMember(m)
	return m, nil
}

// admit добавляет нового участника; при отказе его контекст отменяется
func (c *Conference) admit(m *Member) error {
	if err := c.AddMember(m); err != nil {
		m.cancel()
		return err
	}
	return nil
}

// startMember запускает InputPump и OutputPump. Завершение любого из них
// останавливает второй, после чего участник удаляется из комнаты.
func (c *Conference) startMember(m *Member) {
	m.flagMu.Lock()
	m.running = true
	m.started = true
	m.flagMu.Unlock()

	go func() {
		defer close(m.done)

		g, gctx := errgroup.WithContext(m.ctx)
		g.Go(func() error { return c.inputPump(gctx, m) })
		g.Go(func() error { return c.outputPump(gctx, m) })
		err := g.Wait()
		if err != nil {
			code := ErrorCodeReadFailure
			var e *Error
			if errors.As(err, &e) {
				code = e.Code
			}
			c.metrics.memberFailed(code)
			m.logger.Warn("насосы участника остановлены с ошибкой", slog.String("error", err.Error()))
		}

		_ = c.DelMember(m)

		m.flagMu.Lock()
		cause, moveTo := m.cause, m.moveTo
		m.flagMu.Unlock()

		if moveTo != "" {
			c.completeMove(m, moveTo)
			return
		}
		if cause == "" {
			cause = leg.CauseNormalClearing
		}
		if err := m.leg.Hangup(cause); err != nil {
			m.logger.Debug("ошибка завершения плеча", slog.String("error", err.Error()))
		}
	}()
}

// AddMember связывает участника с комнатой
func (c *Conference) AddMember(m *Member) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.hasFlag(flagDestruct) {
		return newError(ErrorCodeDestructing, c.name, m.id, "вход в завершающуюся комнату", nil)
	}
	if c.hasFlag(flagLocked) && !m.opts.Moderator {
		c.playToLeg(m)
		return newError(ErrorCodeLocked, c.name, m.id, "комната заблокирована", nil)
	}
	if limit := c.profile.MaxMembers; limit > 0 && !m.opts.Ghost && c.Count() >= limit {
		return newError(ErrorCodeAllocation, c.name, m.id, "достигнут предел участников", nil)
	}

	m.audioIn.Lock()
	m.audioOut.Lock()
	m.flagMu.Lock()
	c.memberMu.Lock()

	m.conference = c
	m.inTree = true
	m.joinTime = time.Now()
	m.inQueue.Reset()
	m.outQueue.Reset()
	c.members = append(c.members, m)
	if m.flags.Ghost {
		c.ghostCount++
	} else {
		c.count++
	}
	if m.flags.EndConference {
		c.endConfCount++
	}
	count := c.count
	moderator := m.flags.Moderator
	if !m.opts.NoControls {
		controls := c.profile.CallerControls
		if moderator {
			controls = c.profile.ModeratorControls
		}
		m.matcher = NewDigitMatcher(controls, c.profile.InterDigitTimeout)
	}

	c.memberMu.Unlock()
	m.flagMu.Unlock()
	m.audioOut.Unlock()
	m.audioIn.Unlock()

	if moderator && c.hasFlag(flagWaitMod) {
		c.clearFlag(flagWaitMod)
		c.stopBackground()
	}
	if c.profile.MinMembers > 0 && count+c.ghosts() >= c.profile.MinMembers {
		c.setFlag(flagEnforceMin)
	}

	c.metrics.memberJoined()
	m.logger.Info("участник вошел", slog.Int("count", count), slog.Bool("moderator", moderator))
	c.fire(ActionAddMember, m, map[string]string{"name": m.name})

	c.enterAnnouncements(m, count)
	return nil
}

// DelMember отвязывает участника и проверяет условия уничтожения комнаты
func (c *Conference) DelMember(m *Member) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	m.audioIn.Lock()
	m.audioOut.Lock()
	m.flagMu.Lock()
	c.memberMu.Lock()

	if !m.inTree || m.conference != c {
		c.memberMu.Unlock()
		m.flagMu.Unlock()
		m.audioOut.Unlock()
		m.audioIn.Unlock()
		return newError(ErrorCodeNotFound, c.name, m.id, "участник не в комнате", nil)
	}

	for i, other := range c.members {
		if other == m {
			c.members = append(c.members[:i], c.members[i+1:]...)
			break
		}
	}
	m.inTree = false
	m.conference = nil
	m.running = false
	if m.flags.Ghost {
		c.ghostCount--
	} else {
		c.count--
	}
	endConfLeft := false
	if m.flags.EndConference {
		c.endConfCount--
		endConfLeft = c.endConfCount == 0
	}
	if n := len(m.relationships); n > 0 {
		c.relCount.Add(-int32(n))
		m.relationships = nil
	}
	m.inQueue.Reset()
	m.outQueue.Reset()
	m.mixReady = false
	count, ghosts := c.count, c.ghostCount
	ghost := m.flags.Ghost

	c.memberMu.Unlock()
	m.flagMu.Unlock()
	m.audioOut.Unlock()
	m.audioIn.Unlock()

	m.talking.Store(false)
	if c.floorHolder.Load() == m.id {
		c.reassignFloor(m)
	}
	m.clearPlayback(StopAll)

	c.metrics.memberLeft()
	m.logger.Info("участник покинул комнату", slog.Int("count", count))
	c.fire(ActionDelMember, m, map[string]string{"name": m.name})

	if !ghost && count > 0 && c.profile.ExitSound != "" && !c.hasFlag(flagDestruct) {
		c.playAnnouncement(c.profile.ExitSound, PlayOptions{LeadIn: -1})
	}

	switch {
	case c.hasFlag(flagEnforceMin) && count+ghosts < c.profile.MinMembers:
		c.scheduleDestruct("количество участников ниже минимума")
	case c.hasFlag(flagDynamic) && count+ghosts == 0:
		c.scheduleDestruct("последний участник покинул динамическую комнату")
	case endConfLeft:
		c.scheduleDestruct("покинул последний участник с end-conference")
	}
	return nil
}

func (c *Conference) ghosts() int {
	c.memberMu.RLock()
	defer c.memberMu.RUnlock()
	return c.ghostCount
}

// reassignFloor передает слово следующему говорящему участнику
func (c *Conference) reassignFloor(departing *Member) {
	var next *Member
	for _, other := range c.memberSnapshot() {
		if other != departing && other.IsTalking() {
			if c.hasFlag(flagVideoFloorOnly) && !other.HasVideo() {
				continue
			}
			next = other
			break
		}
	}
	var nextID uint32
	if next != nil {
		nextID = next.id
	}
	if c.floorHolder.CompareAndSwap(departing.id, nextID) {
		c.fire(ActionFloorChange, next, map[string]string{
			"old_id": strconv.FormatUint(uint64(departing.id), 10),
			"new_id": strconv.FormatUint(uint64(nextID), 10),
		})
	}
}

// scheduleDestruct помечает комнату к уничтожению; цикл микширования
// завершится на следующем тике.
func (c *Conference) scheduleDestruct(reason string) {
	if c.hasFlag(flagDestruct) {
		return
	}
	c.setFlag(flagDestruct)
	c.logger.Info("комната помечена к уничтожению", slog.String("reason", reason))
}

// Destroy помечает комнату к уничтожению с причиной завершения участников
func (c *Conference) Destroy(cause leg.Cause) {
	if cause != "" {
		c.destroyCause.CompareAndSwap(nil, cause)
	}
	c.scheduleDestruct(fmt.Sprintf("запрос уничтожения (%s)", cause))
}

// Lock запрещает вход участникам без флага модератора
func (c *Conference) Lock() {
	if c.hasFlag(flagLocked) {
		return
	}
	c.setFlag(flagLocked)
	c.fire(ActionLock, nil, nil)
}

// Unlock снимает блокировку входа
func (c *Conference) Unlock() {
	if !c.hasFlag(flagLocked) {
		return
	}
	c.clearFlag(flagLocked)
	c.fire(ActionUnlock, nil, nil)
}

// playToLeg проигрывает звук блокировки отклоненному участнику напрямую в плечо
func (c *Conference) playToLeg(m *Member) {
	if c.profile.LockedSound == "" || c.services.Sources == nil {
		return
	}
	c.goBackground(func(ctx context.Context) {
		src, err := c.services.Sources.Open(ctx, c.profile.LockedSound, m.leg.SampleRate())
		if err != nil {
			return
		}
		defer src.Close()
		frame := make([]int16, media.SamplesPerFrame(m.leg.SampleRate(), c.profile.Interval))
		ticker := time.NewTicker(c.profile.Interval)
		defer ticker.Stop()
		for {
			n, err := src.Read(frame)
			if n > 0 {
				if m.leg.WriteFrame(frame[:n]) != nil {
					return
				}
			}
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

// addTask регистрирует задачу в wg, пока комната не начала ожидание задач
func (c *Conference) addTask(wg *sync.WaitGroup) bool {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	if c.tasksClosed {
		return false
	}
	wg.Add(1)
	return true
}

// closeTasks запрещает новые задачи перед ожиданием bgWG и dialWG
func (c *Conference) closeTasks() {
	c.taskMu.Lock()
	c.tasksClosed = true
	c.taskMu.Unlock()
}

// goBackground запускает задачу, отменяемую вместе с комнатой.
// Возвращает false, если комната уже завершает задачи.
func (c *Conference) goBackground(fn func(ctx context.Context)) bool {
	if !c.addTask(&c.bgWG) {
		return false
	}
	go func() {
		defer c.bgWG.Done()
		fn(c.bgCtx)
	}()
	return true
}
