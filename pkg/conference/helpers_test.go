package conference

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_conference/pkg/leg"
)

const (
	eventWait = 2 * time.Second
	eventTick = 10 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, services Services) *Registry {
	t.Helper()
	reg, err := NewRegistry(RegistryConfig{Services: services, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return reg
}

// newIdleConference создает комнату без запущенного цикла микширования;
// тики выполняются вручную через tickOnce
func newIdleConference(t *testing.T, reg *Registry, name string, p *Profile) *Conference {
	t.Helper()
	if p == nil {
		p = DefaultProfile()
	}
	c, err := newConference(reg, name, p)
	require.NoError(t, err)
	return c
}

func intPtr(v int) *int { return &v }

func newTestMember(c *Conference, id uint32, opts JoinOptions) (*Member, *leg.PipeLeg) {
	pipe := leg.NewPipeLeg("leg-"+formatID(id), c.profile.Rate, 16)
	return newMember(id, pipe, opts, c.profile, c.logger), pipe
}

// addIdleMember добавляет участника без запуска насосов
func addIdleMember(t *testing.T, c *Conference, id uint32, opts JoinOptions) (*Member, *leg.PipeLeg) {
	t.Helper()
	m, pipe := newTestMember(c, id, opts)
	require.NoError(t, c.AddMember(m))
	return m, pipe
}

// popOutput извлекает кадр из выходной очереди участника
func popOutput(t *testing.T, c *Conference, m *Member) []int16 {
	t.Helper()
	frame := make([]int16, c.samples)
	m.audioOut.Lock()
	defer m.audioOut.Unlock()
	require.GreaterOrEqual(t, m.outQueue.Len(), c.samples, "в выходной очереди нет полного кадра")
	m.outQueue.Read(frame)
	return frame
}

func pushInput(t *testing.T, m *Member, frame []int16) {
	t.Helper()
	m.audioIn.Lock()
	defer m.audioIn.Unlock()
	require.True(t, m.inQueue.Write(frame))
}

func resetInput(m *Member) {
	m.audioIn.Lock()
	m.inQueue.Reset()
	m.audioIn.Unlock()
}

func toneFrame(samples, rate int, freq float64, amplitude float64) []int16 {
	frame := make([]int16, samples)
	for i := range frame {
		frame[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return frame
}

func constFrame(samples int, v int16) []int16 {
	frame := make([]int16, samples)
	for i := range frame {
		frame[i] = v
	}
	return frame
}

func squareFrame(samples int, amplitude int16) []int16 {
	frame := make([]int16, samples)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amplitude
		} else {
			frame[i] = -amplitude
		}
	}
	return frame
}

func isSilent(frame []int16) bool {
	for _, s := range frame {
		if s != 0 {
			return false
		}
	}
	return true
}

// memorySource источник из памяти
type memorySource struct {
	data   []int16
	pos    int
	closed bool
}

func (s *memorySource) Read(p []int16) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *memorySource) Close() error {
	s.closed = true
	return nil
}

// memoryOpener открывает заранее заданные отсчеты по пути
type memoryOpener struct {
	mu     sync.Mutex
	files  map[string][]int16
	opened []*memorySource
}

func (o *memoryOpener) Open(_ context.Context, path string, _ int) (AudioSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.files[path]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	src := &memorySource{data: data}
	o.opened = append(o.opened, src)
	return src, nil
}

// memorySpeech синтезатор, возвращающий постоянный сигнал длины текста
type memorySpeech struct{}

func (memorySpeech) Synthesize(_ context.Context, text, _ string, _ int) (AudioSource, error) {
	return &memorySource{data: constFrame(len(text)*10, 700)}, nil
}

// eventCollector собирает события шины
type eventCollector struct {
	sub *Subscription

	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func collectEvents(t *testing.T, bus *EventBus, filter func(Event) bool) *eventCollector {
	t.Helper()
	ec := &eventCollector{sub: bus.Subscribe(1024, filter), done: make(chan struct{})}
	go func() {
		defer close(ec.done)
		for e := range ec.sub.C {
			ec.mu.Lock()
			ec.events = append(ec.events, e)
			ec.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ec.sub.Close()
		<-ec.done
	})
	return ec
}

func (ec *eventCollector) count(action EventAction) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	n := 0
	for _, e := range ec.events {
		if e.Action == action {
			n++
		}
	}
	return n
}

func (ec *eventCollector) last(action EventAction) (Event, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for i := len(ec.events) - 1; i >= 0; i-- {
		if ec.events[i].Action == action {
			return ec.events[i], true
		}
	}
	return Event{}, false
}

func actionFilter(actions ...EventAction) func(Event) bool {
	return func(e Event) bool {
		for _, a := range actions {
			if e.Action == a {
				return true
			}
		}
		return false
	}
}

// memoryTap запись микса в память
type memoryTap struct {
	mu     sync.Mutex
	frames [][]int16
	closed bool
}

func (m *memoryTap) WriteFrame(frame []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, append([]int16(nil), frame...))
	return nil
}

func (m *memoryTap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryRecorders struct {
	mu   sync.Mutex
	taps map[string]*memoryTap
}

func (r *memoryRecorders) Create(path string, _ int) (Tap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taps == nil {
		r.taps = make(map[string]*memoryTap)
	}
	tap := &memoryTap{}
	r.taps[path] = tap
	return tap, nil
}

func (r *memoryRecorders) tap(path string) *memoryTap {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taps[path]
}
