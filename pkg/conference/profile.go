package conference

import (
	"fmt"
	"time"
)

// Пороговые значения детектора речи и AGC
const (
	ScoreMaxIIR          = 25000 // Потолок сглаженной оценки
	ScoreDecay           = 0.8   // Коэффициент затухания IIR
	ScoreIIRSpeakingMax  = 300   // Порог громкости претендента на слово
	ScoreIIRSpeakingMin  = 100   // Порог тишины держателя слова
	TalkDiffLevel        = 400   // Скачок оценки для мгновенного начала речи
	AGCDeadband          = 100   // Мертвая зона вокруг цели AGC
	AGCSpikeLevel        = 900   // Скачок оценки, считающийся выбросом
	AGCGateStep          = 25    // Сдвиг шумового порога на шаг AGC
	DefaultAGCLevel      = 1100  // Цель AGC при включении без явного уровня
	DefaultEnergyLevel   = 100
	DefaultTalkHangover  = 40 // Кадров тишины до окончания речи
	DefaultTalkHangunder = 5  // Кадров речи до начала речи
)

// Profile параметры комнаты. Копируется в конференцию при создании.
type Profile struct {
	Name     string
	Rate     int           // Частота микширования
	Interval time.Duration // Длительность кадра

	EnergyLevel   int           // Порог шумового шлюза новых участников
	AGCLevel      int           // Цель AGC, 0 = выключено
	AGCPeriod     time.Duration // Период подстройки AGC
	TalkHangover  int
	TalkHangunder int

	MinMembers       int  // Комната уничтожается при падении ниже минимума после его достижения
	Dynamic          bool // Уничтожать комнату, когда уходит последний участник
	WaitForModerator bool // Участники не слышны до входа модератора
	VideoFloorOnly   bool // Слово получают только участники с видео
	MaxMembers       int  // 0 = без ограничения
	AnnounceCount    int  // Озвучивать количество участников от этого числа, 0 = нет

	EnterSound     string
	ExitSound      string
	AloneSound     string
	MOHSound       string
	PerpetualSound string
	LockedSound    string
	KickedSound    string
	MutedSound     string
	UnmutedSound   string
	LeadIn         int // Тиков тишины перед воспроизведением по умолчанию

	TTSVoice string

	InputQueueFrames  int // Емкость входной очереди участника в кадрах
	OutputQueueFrames int // Емкость выходной очереди участника в кадрах
	FlushStaleTicks   int // Тиков неполного кадра до сброса выхода
	FlushBacklog      int // Кадров в выходной очереди до сброса

	InterDigitTimeout time.Duration
	CallerControls    []ControlBinding
	ModeratorControls []ControlBinding

	EventMask EventCategory
}

// DefaultProfile возвращает профиль узкополосной конференции 8 кГц / 20 мс
func DefaultProfile() *Profile {
	return &Profile{
		Name:              "default",
		Rate:              8000,
		Interval:          20 * time.Millisecond,
		EnergyLevel:       DefaultEnergyLevel,
		AGCPeriod:         500 * time.Millisecond,
		TalkHangover:      DefaultTalkHangover,
		TalkHangunder:     DefaultTalkHangunder,
		Dynamic:           true,
		InputQueueFrames:  20,
		OutputQueueFrames: 20,
		FlushStaleTicks:   5,
		FlushBacklog:      10,
		InterDigitTimeout: 500 * time.Millisecond,
		CallerControls:    DefaultCallerControls(),
		ModeratorControls: DefaultModeratorControls(),
		EventMask:         EventCategoryAll,
	}
}

// Validate проверяет корректность профиля
func (p *Profile) Validate() error {
	switch p.Rate {
	case 8000, 12000, 16000, 24000, 32000, 44100, 48000:
	default:
		return fmt.Errorf("неподдерживаемая частота %d", p.Rate)
	}
	if p.Interval < 10*time.Millisecond || p.Interval > 120*time.Millisecond || p.Interval%(10*time.Millisecond) != 0 {
		return fmt.Errorf("интервал %v должен быть кратен 10ms в диапазоне 10-120ms", p.Interval)
	}
	if p.EnergyLevel < 0 {
		return fmt.Errorf("EnergyLevel не может быть отрицательным")
	}
	if p.AGCLevel < 0 {
		return fmt.Errorf("AGCLevel не может быть отрицательным")
	}
	if p.AGCLevel > 0 && p.AGCPeriod < p.Interval {
		return fmt.Errorf("AGCPeriod должен быть не меньше интервала кадра")
	}
	if p.TalkHangover <= 0 || p.TalkHangunder <= 0 {
		return fmt.Errorf("TalkHangover и TalkHangunder должны быть больше 0")
	}
	if p.MinMembers < 0 || p.MaxMembers < 0 || p.AnnounceCount < 0 || p.LeadIn < 0 {
		return fmt.Errorf("счетчики профиля не могут быть отрицательными")
	}
	if p.InputQueueFrames < 2 || p.OutputQueueFrames < 2 {
		return fmt.Errorf("очереди участника должны вмещать минимум 2 кадра")
	}
	if p.FlushBacklog <= 0 || p.FlushBacklog > p.OutputQueueFrames {
		return fmt.Errorf("FlushBacklog должен быть в диапазоне 1-%d", p.OutputQueueFrames)
	}
	if p.FlushStaleTicks <= 0 {
		return fmt.Errorf("FlushStaleTicks должен быть больше 0")
	}
	for _, group := range [][]ControlBinding{p.CallerControls, p.ModeratorControls} {
		for _, b := range group {
			if err := b.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Copy создает глубокую копию профиля
func (p *Profile) Copy() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.CallerControls = append([]ControlBinding(nil), p.CallerControls...)
	cp.ModeratorControls = append([]ControlBinding(nil), p.ModeratorControls...)
	return &cp
}

// samplesPerFrame количество отсчетов в кадре профиля
func (p *Profile) samplesPerFrame() int {
	return int(int64(p.Rate) * int64(p.Interval) / int64(time.Second))
}

// agcPeriodFrames количество кадров в периоде AGC
func (p *Profile) agcPeriodFrames() int {
	n := int(p.AGCPeriod / p.Interval)
	if n < 1 {
		n = 1
	}
	return n
}
