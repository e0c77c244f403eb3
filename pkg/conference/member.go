package conference

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/soft_conference/pkg/leg"
	"github.com/arzzra/soft_conference/pkg/media"
)

// MemberFlags снимок флагов участника
type MemberFlags struct {
	CanSpeak      bool `json:"can_speak"`
	CanHear       bool `json:"can_hear"`
	Talking       bool `json:"talking"`
	Moderator     bool `json:"moderator"`
	HasAudio      bool `json:"has_audio"`
	HasVideo      bool `json:"has_video"`
	Ghost         bool `json:"ghost"`
	EndConference bool `json:"end_conference"`
	NoMOH         bool `json:"nomoh"`
	MuteDetect    bool `json:"mute_detect"`
	Kicked        bool `json:"kicked"`
}

// JoinOptions параметры входа участника
type JoinOptions struct {
	Name          string
	Moderator     bool
	Ghost         bool // не учитывается в count
	EndConference bool // уход последнего такого участника завершает комнату
	NoMOH         bool
	HasVideo      bool
	MuteDetect    bool
	Muted         bool
	Deaf          bool
	EnergyLevel   *int
	NoControls    bool
}

// MemberInfo снимок состояния участника для списков и API
type MemberInfo struct {
	ID           uint32         `json:"id"`
	Name         string         `json:"name"`
	LegID        string         `json:"leg_id"`
	Flags        MemberFlags    `json:"flags"`
	EnergyLevel  int            `json:"energy_level"`
	TalkVolume   int            `json:"volume_in"`
	ListenVolume int            `json:"volume_out"`
	AGCVolume    int            `json:"agc_volume_in"`
	Score        int            `json:"score"`
	ScoreIIR     int            `json:"score_iir"`
	JoinTime     time.Time      `json:"join_time"`
	Relations    []Relationship `json:"relationships,omitempty"`
}

// Member участие одного плеча в конференции.
//
// Блокировки участника берутся только в порядке audioIn -> audioOut -> flagMu,
// после блокировки конференции и до блокировки списка участников.
type Member struct {
	id     uint32
	name   string
	leg    leg.Leg
	opts   JoinOptions
	logger *slog.Logger

	// Входная очередь: пишет InputPump, читает MixerLoop
	audioIn sync.Mutex
	inQueue *sampleQueue

	// Выходная очередь: пишет MixerLoop, читает OutputPump
	audioOut sync.Mutex
	outQueue *sampleQueue

	flagMu        sync.Mutex
	flags         MemberFlags
	inTree        bool
	running       bool
	started       bool
	flushBuffer   bool
	conference    *Conference
	relationships relationshipList
	energyLevel   int
	talkVolume    int
	listenVolume  int
	agcVolumeIn   int
	joinTime      time.Time
	cause         leg.Cause
	failure       error
	moveTo        string

	score    atomic.Int32
	scoreIIR atomic.Int32
	talking  atomic.Bool

	fnodeMu sync.Mutex
	fnodes  playbackQueue

	matcher *DigitMatcher

	// Рабочие буферы MixerLoop
	mixFrame []int16
	mixReady bool
	tickRels relationshipList
	tickHear bool

	// Рабочие буферы насосов
	inFrame      []int16
	outResampler *media.Resampler

	// Состояние InputPump
	talk talkState

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// talkState состояние детектора речи и AGC, принадлежит InputPump
type talkState struct {
	hangoverHits  int
	hangunderHits int
	lastScore     int
	agcConcur     int
	avgTally      int64
	avgItt        int64
	muteDetected  bool
	resampler     *media.Resampler
}

func newMember(id uint32, l leg.Leg, opts JoinOptions, p *Profile, logger *slog.Logger) *Member {
	samples := p.samplesPerFrame()
	energy := p.EnergyLevel
	if opts.EnergyLevel != nil {
		energy = *opts.EnergyLevel
	}
	name := opts.Name
	if name == "" {
		name = l.ID()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Member{
		id:          id,
		name:        name,
		leg:         l,
		opts:        opts,
		logger:      logger.With(slog.Uint64("member_id", uint64(id)), slog.String("leg_id", l.ID())),
		inQueue:     newSampleQueue(samples * p.InputQueueFrames),
		outQueue:    newSampleQueue(samples * p.OutputQueueFrames),
		energyLevel: energy,
		mixFrame:    make([]int16, samples),
		inFrame:     make([]int16, 0, samples),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		flags: MemberFlags{
			CanSpeak:      !opts.Muted,
			CanHear:       !opts.Deaf,
			Moderator:     opts.Moderator,
			HasVideo:      opts.HasVideo,
			Ghost:         opts.Ghost,
			EndConference: opts.EndConference,
			NoMOH:         opts.NoMOH,
			MuteDetect:    opts.MuteDetect,
		},
	}
	return m
}

// ID идентификатор участника
func (m *Member) ID() uint32 { return m.id }

// Name отображаемое имя
func (m *Member) Name() string { return m.name }

// Leg плечо участника
func (m *Member) Leg() leg.Leg { return m.leg }

// Done закрывается, когда участник окончательно покинул конференцию
func (m *Member) Done() <-chan struct{} { return m.done }

// Flags снимок флагов
func (m *Member) Flags() MemberFlags {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	f := m.flags
	f.Talking = m.talking.Load()
	return f
}

func (m *Member) CanSpeak() bool {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	return m.flags.CanSpeak
}

func (m *Member) CanHear() bool {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	return m.flags.CanHear
}

func (m *Member) IsModerator() bool {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	return m.flags.Moderator
}

func (m *Member) HasVideo() bool {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	return m.flags.HasVideo
}

// IsTalking признак речи по детектору
func (m *Member) IsTalking() bool { return m.talking.Load() }

// ScoreIIR сглаженная оценка энергии
func (m *Member) ScoreIIR() int { return int(m.scoreIIR.Load()) }

// InTree признак участия в конференции
func (m *Member) InTree() bool {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	return m.inTree
}

// Conference конференция участника или nil, если участник уже удален
func (m *Member) Conference() *Conference {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	if !m.inTree {
		return nil
	}
	if m.conference == nil {
		panic("conference: участник в дереве без конференции")
	}
	return m.conference
}

// HangupCause причина, с которой участник покинул (или покинет) конференцию
func (m *Member) HangupCause() leg.Cause {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	return m.cause
}

// Err локальная ошибка, завершившая насосы участника
func (m *Member) Err() error {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	return m.failure
}

// Info снимок состояния
func (m *Member) Info() MemberInfo {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	f := m.flags
	f.Talking = m.talking.Load()
	return MemberInfo{
		ID:           m.id,
		Name:         m.name,
		LegID:        m.leg.ID(),
		Flags:        f,
		EnergyLevel:  m.energyLevel,
		TalkVolume:   m.talkVolume,
		ListenVolume: m.listenVolume,
		AGCVolume:    m.agcVolumeIn,
		Score:        int(m.score.Load()),
		ScoreIIR:     int(m.scoreIIR.Load()),
		JoinTime:     m.joinTime,
		Relations:    append([]Relationship(nil), m.relationships...),
	}
}

// levels текущие уровни под флаговой блокировкой
func (m *Member) levels() (energy, talkVol, listenVol, agcVol int) {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	return m.energyLevel, m.talkVolume, m.listenVolume, m.agcVolumeIn
}

// stop завершает насосы участника с причиной. Первая причина сохраняется.
func (m *Member) stop(cause leg.Cause, failure error) {
	m.flagMu.Lock()
	if m.cause == "" {
		m.cause = cause
	}
	if m.failure == nil {
		m.failure = failure
	}
	m.running = false
	m.flagMu.Unlock()
	m.cancel()
}

// writeOutput помещает персональный кадр в выходную очередь.
// Вызывается только MixerLoop.
func (m *Member) writeOutput(frame []int16) bool {
	m.audioOut.Lock()
	defer m.audioOut.Unlock()
	return m.outQueue.Write(frame)
}

// readFileFrame читает кадр персонального воспроизведения участника.
// Возвращает узел, если он завершился на этом кадре.
func (m *Member) readFileFrame(dst []int16) (active bool, finished *FileNode) {
	m.fnodeMu.Lock()
	defer m.fnodeMu.Unlock()
	node := m.fnodes.head()
	if node == nil {
		return false, nil
	}
	if node.readFrame(dst) {
		return true, nil
	}
	if node.complete() {
		finished = node
	}
	m.fnodes.advance()
	return false, finished
}

// hasPlayback есть ли у участника активное воспроизведение
func (m *Member) hasPlayback() bool {
	m.fnodeMu.Lock()
	defer m.fnodeMu.Unlock()
	return m.fnodes.len() > 0
}

// clearPlayback останавливает персональное воспроизведение
func (m *Member) clearPlayback(scope StopScope) int {
	m.fnodeMu.Lock()
	defer m.fnodeMu.Unlock()
	if scope == StopCurrent {
		if m.fnodes.head() == nil {
			return 0
		}
		m.fnodes.advance()
		return 1
	}
	return m.fnodes.clear()
}
