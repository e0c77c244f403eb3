package conference

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EventCategory группа событий; маска конференции включает и выключает группы
type EventCategory uint32

const (
	EventCategoryMembership EventCategory = 1 << iota
	EventCategoryTalk
	EventCategoryFloor
	EventCategoryControl
	EventCategoryLevel
	EventCategoryPlayback
	EventCategoryDTMF
	EventCategoryRecording
	EventCategoryDial
	EventCategoryLifecycle

	EventCategoryAll EventCategory = 1<<iota - 1
)

var categoryNames = map[string]EventCategory{
	"membership": EventCategoryMembership,
	"talk":       EventCategoryTalk,
	"floor":      EventCategoryFloor,
	"control":    EventCategoryControl,
	"level":      EventCategoryLevel,
	"playback":   EventCategoryPlayback,
	"dtmf":       EventCategoryDTMF,
	"recording":  EventCategoryRecording,
	"dial":       EventCategoryDial,
	"lifecycle":  EventCategoryLifecycle,
	"all":        EventCategoryAll,
}

// ParseEventMask собирает маску из имен групп ("talk", "dtmf", "all", ...).
// Пустой список означает все группы.
func ParseEventMask(names []string) (EventCategory, error) {
	if len(names) == 0 {
		return EventCategoryAll, nil
	}
	var mask EventCategory
	for _, name := range names {
		c, ok := categoryNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("неизвестная группа событий %q", name)
		}
		mask |= c
	}
	return mask, nil
}

// EventAction имя события
type EventAction string

const (
	ActionAddMember          EventAction = "add-member"
	ActionDelMember          EventAction = "del-member"
	ActionStartTalking       EventAction = "start-talking"
	ActionStopTalking        EventAction = "stop-talking"
	ActionMuteDetect         EventAction = "mute-detect"
	ActionMuteMember         EventAction = "mute-member"
	ActionUnmuteMember       EventAction = "unmute-member"
	ActionDeafMember         EventAction = "deaf-member"
	ActionUndeafMember       EventAction = "undeaf-member"
	ActionKickMember         EventAction = "kick-member"
	ActionHupMember          EventAction = "hup-member"
	ActionEnergyLevel        EventAction = "energy-level"
	ActionEnergyLevelMember  EventAction = "energy-level-member"
	ActionVolumeLevel        EventAction = "volume-level"
	ActionVolumeInMember     EventAction = "volume-in-member"
	ActionVolumeOutMember    EventAction = "volume-out-member"
	ActionGainLevel          EventAction = "gain-level"
	ActionFloorChange        EventAction = "floor-change"
	ActionPlayFile           EventAction = "play-file"
	ActionPlayFileDone       EventAction = "play-file-done"
	ActionPlayFileMember     EventAction = "play-file-member"
	ActionPlayFileMemberDone EventAction = "play-file-member-done"
	ActionSpeakText          EventAction = "speak-text"
	ActionSpeakTextMember    EventAction = "speak-text-member"
	ActionLock               EventAction = "lock"
	ActionUnlock             EventAction = "unlock"
	ActionDTMF               EventAction = "dtmf"
	ActionDTMFMember         EventAction = "dtmf-member"
	ActionTransfer           EventAction = "transfer"
	ActionStartRecording     EventAction = "start-recording"
	ActionStopRecording      EventAction = "stop-recording"
	ActionBgDialResult       EventAction = "bgdial-result"
	ActionRelationship       EventAction = "relationship"
	ActionExecuteApp         EventAction = "execute-app"
	ActionCustom             EventAction = "custom"
	ActionConferenceCreate   EventAction = "conference-create"
	ActionConferenceDestroy  EventAction = "conference-destroy"
)

var actionCategory = map[EventAction]EventCategory{
	ActionAddMember:          EventCategoryMembership,
	ActionDelMember:          EventCategoryMembership,
	ActionStartTalking:       EventCategoryTalk,
	ActionStopTalking:        EventCategoryTalk,
	ActionMuteDetect:         EventCategoryTalk,
	ActionMuteMember:         EventCategoryControl,
	ActionUnmuteMember:       EventCategoryControl,
	ActionDeafMember:         EventCategoryControl,
	ActionUndeafMember:       EventCategoryControl,
	ActionKickMember:         EventCategoryControl,
	ActionHupMember:          EventCategoryControl,
	ActionLock:               EventCategoryControl,
	ActionUnlock:             EventCategoryControl,
	ActionTransfer:           EventCategoryControl,
	ActionRelationship:       EventCategoryControl,
	ActionExecuteApp:         EventCategoryControl,
	ActionCustom:             EventCategoryControl,
	ActionEnergyLevel:        EventCategoryLevel,
	ActionEnergyLevelMember:  EventCategoryLevel,
	ActionVolumeLevel:        EventCategoryLevel,
	ActionVolumeInMember:     EventCategoryLevel,
	ActionVolumeOutMember:    EventCategoryLevel,
	ActionGainLevel:          EventCategoryLevel,
	ActionFloorChange:        EventCategoryFloor,
	ActionPlayFile:           EventCategoryPlayback,
	ActionPlayFileDone:       EventCategoryPlayback,
	ActionPlayFileMember:     EventCategoryPlayback,
	ActionPlayFileMemberDone: EventCategoryPlayback,
	ActionSpeakText:          EventCategoryPlayback,
	ActionSpeakTextMember:    EventCategoryPlayback,
	ActionDTMF:               EventCategoryDTMF,
	ActionDTMFMember:         EventCategoryDTMF,
	ActionStartRecording:     EventCategoryRecording,
	ActionStopRecording:      EventCategoryRecording,
	ActionBgDialResult:       EventCategoryDial,
	ActionConferenceCreate:   EventCategoryLifecycle,
	ActionConferenceDestroy:  EventCategoryLifecycle,
}

// Category группа, к которой относится событие
func (a EventAction) Category() EventCategory {
	if c, ok := actionCategory[a]; ok {
		return c
	}
	return EventCategoryControl
}

// Event структурированное событие конференции
type Event struct {
	Action         EventAction       `json:"action"`
	Conference     string            `json:"conference"`
	ConferenceUUID string            `json:"conference_uuid"`
	Size           int               `json:"size"`
	MemberID       uint32            `json:"member_id,omitempty"`
	MemberFlags    *MemberFlags      `json:"member_flags,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
	Time           time.Time         `json:"time"`
}

// Subscription подписка на шину событий
type Subscription struct {
	C <-chan Event

	ch     chan Event
	bus    *EventBus
	id     uint64
	filter func(Event) bool
	once   sync.Once
}

// Close отписывается от шины и закрывает канал
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mutex.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mutex.Unlock()
		close(s.ch)
	})
}

// EventBus рассылает события подписчикам без блокировки издателя.
// Если буфер подписчика заполнен, событие для него теряется.
type EventBus struct {
	mutex   sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewEventBus создает шину событий
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		subs:   make(map[uint64]*Subscription),
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Subscribe создает подписку с буфером заданного размера.
// filter может быть nil.
func (b *EventBus) Subscribe(buffer int, filter func(Event) bool) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.nextID++
	sub := &Subscription{C: ch, ch: ch, bus: b, id: b.nextID, filter: filter}
	b.subs[sub.id] = sub
	return sub
}

// Publish отправляет событие всем подписчикам
func (b *EventBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			if b.dropped.Add(1)%100 == 1 {
				b.logger.Warn("подписчик не успевает, событие потеряно",
					slog.String("action", string(e.Action)),
					slog.Uint64("dropped_total", b.dropped.Load()))
			}
		}
	}
}

// Dropped количество потерянных доставок
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// ConferenceFilter фильтр подписки по имени конференции
func ConferenceFilter(name string) func(Event) bool {
	return func(e Event) bool { return e.Conference == name }
}
