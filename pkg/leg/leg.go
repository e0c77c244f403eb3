// Package leg описывает плечо вызова, подключаемое к конференции.
//
// Конференция работает с плечом как с каналом декодированного моно PCM:
// кадры фиксированной длительности на частоте плеча, очередь DTMF цифр,
// признак живости и команда завершения с причиной.
package leg

import (
	"context"
	"errors"
)

// Cause причина завершения плеча
type Cause string

const (
	CauseNormalClearing      Cause = "NORMAL_CLEARING"
	CauseDestinationOutOrder Cause = "DESTINATION_OUT_OF_ORDER"
	CauseRecoveryOnTimer     Cause = "RECOVERY_ON_TIMER_EXPIRE"
	CauseSystemShutdown      Cause = "SYSTEM_SHUTDOWN"
	CauseManagerRequest      Cause = "MANAGER_REQUEST"
	CauseCallRejected        Cause = "CALL_REJECTED"
	CauseOriginatorCancel    Cause = "ORIGINATOR_CANCEL"
	CauseNoAnswer            Cause = "NO_ANSWER"
	CauseTemporaryFailure    Cause = "NORMAL_TEMPORARY_FAILURE"
)

// ErrHungUp возвращается операциями над завершенным плечом
var ErrHungUp = errors.New("плечо завершено")

// Leg двунаправленный канал аудио и событий одного участника.
type Leg interface {
	// ID уникальный идентификатор плеча (Call-ID, uuid канала)
	ID() string

	// SampleRate частота кадров, которые отдает и принимает плечо
	SampleRate() int

	// ReadFrame блокируется до следующего входящего кадра или отмены ctx
	ReadFrame(ctx context.Context) ([]int16, error)

	// WriteFrame отправляет кадр абоненту
	WriteFrame(frame []int16) error

	// DTMF очередь принятых цифр
	DTMF() <-chan rune

	// Ready сообщает, что плечо живо и передает медиа
	Ready() bool

	// Hangup завершает плечо с указанной причиной. Повторный вызов не имеет эффекта.
	Hangup(cause Cause) error
}

// Transferer реализуется плечами, поддерживающими перевод вызова.
type Transferer interface {
	Transfer(ctx context.Context, destination string) error
}

// CauseOf возвращает причину завершения плеча, если плечо ее сообщает.
func CauseOf(l Leg) (Cause, bool) {
	if c, ok := l.(interface{ HangupCause() Cause }); ok {
		cause := c.HangupCause()
		return cause, cause != ""
	}
	return "", false
}
