package conference

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/arzzra/soft_conference/pkg/leg"
)

// Services внешние возможности, которыми пользуются комнаты.
// Любое поле может быть nil: соответствующие операции вернут ErrUnsupported.
type Services struct {
	Sources   SourceOpener
	Speech    SpeechEngine
	Recorders RecorderFactory
	Dialer    Dialer
	Apps      AppRunner
}

// RegistryConfig конфигурация реестра конференций
type RegistryConfig struct {
	MaxConferences int                 // 0 = без ограничения
	Profiles       map[string]*Profile // "default" добавляется, если не задан
	Services       Services
	Events         *EventBus
	Metrics        *Metrics
	Logger         *slog.Logger
}

// Registry реестр активных комнат по имени и счетчик идентификаторов участников
type Registry struct {
	mu          sync.Mutex
	conferences map[string]*Conference
	profiles    map[string]*Profile
	closed      bool

	maxConferences int
	services       Services
	events         *EventBus
	metrics        *Metrics
	logger         *slog.Logger

	nextMemberID atomic.Uint32
	loops        sync.WaitGroup
}

// NewRegistry создает реестр и проверяет профили
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "conference"))
	}
	profiles := make(map[string]*Profile, len(cfg.Profiles)+1)
	for name, p := range cfg.Profiles {
		if p == nil {
			return nil, fmt.Errorf("профиль %q не задан", name)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("профиль %q: %w", name, err)
		}
		cp := p.Copy()
		cp.Name = name
		profiles[name] = cp
	}
	if _, ok := profiles["default"]; !ok {
		profiles["default"] = DefaultProfile()
	}
	events := cfg.Events
	if events == nil {
		events = NewEventBus(logger)
	}
	if cfg.Services.Apps == nil {
		cfg.Services.Apps = DefaultApps()
	}
	return &Registry{
		conferences:    make(map[string]*Conference),
		profiles:       profiles,
		maxConferences: cfg.MaxConferences,
		services:       cfg.Services,
		events:         events,
		metrics:        cfg.Metrics,
		logger:         logger,
	}, nil
}

// Events шина событий всех комнат реестра
func (r *Registry) Events() *EventBus { return r.events }

// NextMemberID выделяет следующий идентификатор участника (начиная с 1)
func (r *Registry) NextMemberID() uint32 {
	return r.nextMemberID.Add(1)
}

// Profile копия профиля по имени; пустое имя означает "default"
func (r *Registry) Profile(name string) (*Profile, error) {
	if name == "" {
		name = "default"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[name]
	if !ok {
		return nil, newError(ErrorCodeNotFound, "", 0, "профиль не найден: "+name, nil)
	}
	return p.Copy(), nil
}

// ProfileNames имена доступных профилей
func (r *Registry) ProfileNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find возвращает живую комнату. Комнаты, помеченные к уничтожению,
// вытесняются из реестра и не возвращаются.
func (r *Registry) Find(name string) (*Conference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(name)
}

func (r *Registry) findLocked(name string) (*Conference, error) {
	c, ok := r.conferences[name]
	if !ok {
		return nil, newError(ErrorCodeNotFound, name, 0, "конференция не найдена", nil)
	}
	if c.IsDestructing() {
		delete(r.conferences, name)
		return nil, newError(ErrorCodeNotFound, name, 0, "конференция завершается", nil)
	}
	return c, nil
}

// Create создает комнату с профилем по имени и запускает ее микшер
func (r *Registry) Create(name, profileName string) (*Conference, error) {
	p, err := r.Profile(profileName)
	if err != nil {
		return nil, err
	}
	return r.CreateWithProfile(name, p)
}

// CreateWithProfile создает комнату с явным профилем
func (r *Registry) CreateWithProfile(name string, p *Profile) (*Conference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(name, p)
}

func (r *Registry) createLocked(name string, p *Profile) (*Conference, error) {
	if name == "" {
		return nil, newError(ErrorCodeInvalidArgument, name, 0, "пустое имя конференции", nil)
	}
	if r.closed {
		return nil, newError(ErrorCodeDestructing, name, 0, "реестр остановлен", nil)
	}
	if _, err := r.findLocked(name); err == nil {
		return nil, newError(ErrorCodeAlreadyExists, name, 0, "конференция уже существует", nil)
	}
	if r.maxConferences > 0 && len(r.conferences) >= r.maxConferences {
		return nil, newError(ErrorCodeAllocation, name, 0, "достигнут предел конференций", nil)
	}

	c, err := newConference(r, name, p.Copy())
	if err != nil {
		return nil, err
	}
	r.conferences[name] = c
	r.loops.Add(1)
	go func() {
		defer r.loops.Done()
		c.run()
	}()
	r.logger.Info("конференция создана", slog.String("conference", name), slog.String("uuid", c.uuid),
		slog.String("profile", p.Name))
	return c, nil
}

// FindOrCreate возвращает живую комнату или создает новую
func (r *Registry) FindOrCreate(name, profileName string) (*Conference, error) {
	p, err := r.Profile(profileName)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, err := r.findLocked(name); err == nil {
		return c, nil
	}
	return r.createLocked(name, p)
}

// remove вызывается MixerLoop при остановке комнаты
func (r *Registry) remove(c *Conference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conferences[c.name]; ok && cur == c {
		delete(r.conferences, c.name)
	}
}

// List живые комнаты в порядке имен
func (r *Registry) List() []*Conference {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conference, 0, len(r.conferences))
	for _, c := range r.conferences {
		if !c.IsDestructing() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Shutdown помечает все комнаты к уничтожению с причиной SYSTEM_SHUTDOWN
// и ждет остановки их микшеров
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	rooms := make([]*Conference, 0, len(r.conferences))
	for _, c := range r.conferences {
		rooms = append(rooms, c)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range rooms {
		c := c
		c.Destroy(leg.CauseSystemShutdown)
		g.Go(func() error {
			select {
			case <-c.Done():
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return newError(ErrorCodeTimeout, "", 0, "конференции не остановились", err)
	}

	done := make(chan struct{})
	go func() {
		r.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("все конференции остановлены")
		return nil
	case <-ctx.Done():
		return newError(ErrorCodeTimeout, "", 0, "конференции не остановились", ctx.Err())
	}
}
