package leg

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PipeLeg плечо в памяти: кадры подаются через Inject и забираются из Output.
// Используется для локальных участников (запись, анонсы) и в тестах.
type PipeLeg struct {
	id   string
	rate int

	in   chan []int16
	out  chan []int16
	dtmf chan rune

	closed    chan struct{}
	closeOnce sync.Once

	mutex       sync.Mutex
	cause       Cause
	transferred string

	dropped atomic.Uint64
	written atomic.Uint64
	failErr atomic.Pointer[error]
}

// NewPipeLeg создает плечо с очередями заданной емкости в кадрах.
func NewPipeLeg(id string, sampleRate, capacity int) *PipeLeg {
	if capacity <= 0 {
		capacity = 50
	}
	return &PipeLeg{
		id:     id,
		rate:   sampleRate,
		in:     make(chan []int16, capacity),
		out:    make(chan []int16, capacity),
		dtmf:   make(chan rune, 16),
		closed: make(chan struct{}),
	}
}

func (p *PipeLeg) ID() string      { return p.id }
func (p *PipeLeg) SampleRate() int { return p.rate }
func (p *PipeLeg) DTMF() <-chan rune {
	return p.dtmf
}

// Inject подает кадр, который будет прочитан как входящий от абонента.
func (p *PipeLeg) Inject(frame []int16) error {
	select {
	case <-p.closed:
		return ErrHungUp
	default:
	}
	cp := make([]int16, len(frame))
	copy(cp, frame)
	select {
	case p.in <- cp:
		return nil
	case <-p.closed:
		return ErrHungUp
	}
}

// PressDigits помещает цифры в очередь DTMF.
func (p *PipeLeg) PressDigits(digits string) {
	for _, r := range digits {
		select {
		case p.dtmf <- r:
		case <-p.closed:
			return
		}
	}
}

// Output кадры, отправленные абоненту конференцией
func (p *PipeLeg) Output() <-chan []int16 {
	return p.out
}

// FailWrites заставляет последующие WriteFrame возвращать err.
func (p *PipeLeg) FailWrites(err error) {
	p.failErr.Store(&err)
}

func (p *PipeLeg) ReadFrame(ctx context.Context) ([]int16, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.closed:
		return nil, ErrHungUp
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PipeLeg) WriteFrame(frame []int16) error {
	if e := p.failErr.Load(); e != nil {
		return *e
	}
	select {
	case <-p.closed:
		return ErrHungUp
	default:
	}
	cp := make([]int16, len(frame))
	copy(cp, frame)
	select {
	case p.out <- cp:
		p.written.Add(1)
	default:
		// Потребитель не успевает, старый кадр теряется
		p.dropped.Add(1)
	}
	return nil
}

// Written количество кадров, принятых WriteFrame
func (p *PipeLeg) Written() uint64 { return p.written.Load() }

// Dropped количество кадров, не поместившихся в Output
func (p *PipeLeg) Dropped() uint64 { return p.dropped.Load() }

func (p *PipeLeg) Ready() bool {
	select {
	case <-p.closed:
		return false
	default:
		return true
	}
}

func (p *PipeLeg) Hangup(cause Cause) error {
	p.closeOnce.Do(func() {
		p.mutex.Lock()
		p.cause = cause
		p.mutex.Unlock()
		close(p.closed)
	})
	return nil
}

// HangupCause причина, с которой плечо было завершено
func (p *PipeLeg) HangupCause() Cause {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.cause
}

// Done закрывается при завершении плеча
func (p *PipeLeg) Done() <-chan struct{} {
	return p.closed
}

// Transfer запоминает назначение и завершает плечо.
func (p *PipeLeg) Transfer(ctx context.Context, destination string) error {
	if destination == "" {
		return errors.New("пустое назначение перевода")
	}
	p.mutex.Lock()
	p.transferred = destination
	p.mutex.Unlock()
	return p.Hangup(CauseNormalClearing)
}

// TransferredTo назначение последнего перевода
func (p *PipeLeg) TransferredTo() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.transferred
}
