package conference

import (
	"fmt"
	"strings"
	"time"
)

// ControlAction действие, привязанное к последовательности DTMF цифр
type ControlAction string

const (
	ControlMute           ControlAction = "mute"
	ControlMuteOn         ControlAction = "mute on"
	ControlMuteOff        ControlAction = "mute off"
	ControlDeafMute       ControlAction = "deaf mute"
	ControlEnergyUp       ControlAction = "energy up"
	ControlEnergyEqu      ControlAction = "energy equ"
	ControlEnergyDn       ControlAction = "energy dn"
	ControlVolTalkUp      ControlAction = "vol talk up"
	ControlVolTalkZero    ControlAction = "vol talk zero"
	ControlVolTalkDn      ControlAction = "vol talk dn"
	ControlVolListenUp    ControlAction = "vol listen up"
	ControlVolListenZero  ControlAction = "vol listen zero"
	ControlVolListenDn    ControlAction = "vol listen dn"
	ControlHangup         ControlAction = "hangup"
	ControlLock           ControlAction = "lock"
	ControlTransfer       ControlAction = "transfer"
	ControlExecuteApp     ControlAction = "execute_application"
	ControlEvent          ControlAction = "event"
	controlEnergyStep                   = 200
	controlMaxDigitLength               = 8
)

var knownControls = map[ControlAction]bool{
	ControlMute: true, ControlMuteOn: true, ControlMuteOff: true, ControlDeafMute: true,
	ControlEnergyUp: true, ControlEnergyEqu: true, ControlEnergyDn: true,
	ControlVolTalkUp: true, ControlVolTalkZero: true, ControlVolTalkDn: true,
	ControlVolListenUp: true, ControlVolListenZero: true, ControlVolListenDn: true,
	ControlHangup: true, ControlLock: true, ControlTransfer: true,
	ControlExecuteApp: true, ControlEvent: true,
}

// ControlBinding привязка цифр к действию. Data используется действиями
// transfer (назначение), execute_application ("app args") и event.
type ControlBinding struct {
	Digits string        `mapstructure:"digits" json:"digits"`
	Action ControlAction `mapstructure:"action" json:"action"`
	Data   string        `mapstructure:"data" json:"data,omitempty"`
}

// Validate проверяет привязку
func (b ControlBinding) Validate() error {
	if b.Digits == "" || len(b.Digits) > controlMaxDigitLength {
		return fmt.Errorf("некорректная последовательность цифр %q", b.Digits)
	}
	if strings.Trim(b.Digits, "0123456789*#ABCDabcd") != "" {
		return fmt.Errorf("недопустимые символы в последовательности %q", b.Digits)
	}
	if !knownControls[b.Action] {
		return fmt.Errorf("неизвестное действие %q для %q", b.Action, b.Digits)
	}
	if (b.Action == ControlTransfer || b.Action == ControlExecuteApp) && b.Data == "" {
		return fmt.Errorf("действие %q требует параметр", b.Action)
	}
	return nil
}

// DefaultCallerControls стандартная раскладка клавиш участника
func DefaultCallerControls() []ControlBinding {
	return []ControlBinding{
		{Digits: "0", Action: ControlMute},
		{Digits: "*", Action: ControlDeafMute},
		{Digits: "9", Action: ControlEnergyUp},
		{Digits: "8", Action: ControlEnergyEqu},
		{Digits: "7", Action: ControlEnergyDn},
		{Digits: "3", Action: ControlVolTalkUp},
		{Digits: "2", Action: ControlVolTalkZero},
		{Digits: "1", Action: ControlVolTalkDn},
		{Digits: "6", Action: ControlVolListenUp},
		{Digits: "5", Action: ControlVolListenZero},
		{Digits: "4", Action: ControlVolListenDn},
		{Digits: "#", Action: ControlHangup},
	}
}

// DefaultModeratorControls раскладка модератора: как у участника плюс блокировка комнаты
func DefaultModeratorControls() []ControlBinding {
	controls := DefaultCallerControls()
	return append(controls, ControlBinding{Digits: "*0", Action: ControlLock})
}

// MatchResult результат подачи цифры в автомат
type MatchResult int

const (
	MatchNone MatchResult = iota
	MatchPartial
	MatchExact
)

// DigitMatcher автомат сопоставления цифр с привязками.
// Точное совпадение срабатывает сразу, если нет более длинных кандидатов;
// иначе ожидается следующая цифра до истечения межцифрового таймаута.
type DigitMatcher struct {
	bindings []ControlBinding
	timeout  time.Duration
	buf      []rune
	last     time.Time
}

// NewDigitMatcher создает автомат для набора привязок
func NewDigitMatcher(bindings []ControlBinding, timeout time.Duration) *DigitMatcher {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &DigitMatcher{
		bindings: append([]ControlBinding(nil), bindings...),
		timeout:  timeout,
	}
}

// Feed подает цифру и возвращает сработавшие привязки по порядку.
// Если ожидающий буфер устарел, он сначала разрешается по таймауту,
// а цифра начинает новую последовательность. MatchResult описывает новую цифру.
func (dm *DigitMatcher) Feed(digit rune, now time.Time) ([]ControlBinding, MatchResult) {
	var fired []ControlBinding
	if expired := dm.Poll(now); expired != nil {
		fired = append(fired, *expired)
	}

	dm.buf = append(dm.buf, digit)
	dm.last = now
	b, res := dm.evaluate()
	if res != MatchPartial {
		dm.reset()
	}
	if b != nil {
		fired = append(fired, *b)
	}
	return fired, res
}

// Poll разрешает буфер по таймауту: возвращает точное совпадение,
// если оно есть, и очищает буфер.
func (dm *DigitMatcher) Poll(now time.Time) *ControlBinding {
	if len(dm.buf) == 0 || now.Sub(dm.last) < dm.timeout {
		return nil
	}
	seq := string(dm.buf)
	dm.reset()
	for i := range dm.bindings {
		if strings.EqualFold(dm.bindings[i].Digits, seq) {
			b := dm.bindings[i]
			return &b
		}
	}
	return nil
}

// Pending текущий незавершенный буфер цифр
func (dm *DigitMatcher) Pending() string {
	return string(dm.buf)
}

func (dm *DigitMatcher) evaluate() (*ControlBinding, MatchResult) {
	seq := string(dm.buf)
	var exact *ControlBinding
	longer := 0
	for i := range dm.bindings {
		d := dm.bindings[i].Digits
		switch {
		case strings.EqualFold(d, seq):
			b := dm.bindings[i]
			exact = &b
		case len(d) > len(seq) && strings.EqualFold(d[:len(seq)], seq):
			longer++
		}
	}
	switch {
	case exact != nil && longer == 0:
		return exact, MatchExact
	case exact != nil || longer > 0:
		return nil, MatchPartial
	default:
		return nil, MatchNone
	}
}

func (dm *DigitMatcher) reset() {
	dm.buf = dm.buf[:0]
}
