package conference

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode типизированные коды ошибок движка конференций
type ErrorCode int

const (
	ErrorCodeNotFound ErrorCode = iota + 2000
	ErrorCodeAlreadyExists
	ErrorCodeAllocation
	ErrorCodeSetupFailed
	ErrorCodeQueueOverrun
	ErrorCodeWriteFailure
	ErrorCodeReadFailure
	ErrorCodeLocked
	ErrorCodePlaybackFailed
	ErrorCodeNoSpeechEngine
	ErrorCodeInvalidArgument
	ErrorCodeTimeout
	ErrorCodeDestructing
	ErrorCodeUnsupported
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeNotFound:
		return "NotFound"
	case ErrorCodeAlreadyExists:
		return "AlreadyExists"
	case ErrorCodeAllocation:
		return "AllocationFailure"
	case ErrorCodeSetupFailed:
		return "SetupFailed"
	case ErrorCodeQueueOverrun:
		return "QueueOverrun"
	case ErrorCodeWriteFailure:
		return "WriteFailure"
	case ErrorCodeReadFailure:
		return "ReadFailure"
	case ErrorCodeLocked:
		return "Locked"
	case ErrorCodePlaybackFailed:
		return "PlaybackFailed"
	case ErrorCodeNoSpeechEngine:
		return "NoSpeechEngine"
	case ErrorCodeInvalidArgument:
		return "InvalidArgument"
	case ErrorCodeTimeout:
		return "Timeout"
	case ErrorCodeDestructing:
		return "Destructing"
	case ErrorCodeUnsupported:
		return "Unsupported"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// Error ошибка движка с привязкой к конференции и участнику
type Error struct {
	Code       ErrorCode
	Message    string
	Conference string
	MemberID   uint32
	Wrapped    error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	msg := fmt.Sprintf("[конференция:%d] %s", e.Code, e.Message)
	if e.Conference != "" {
		msg = fmt.Sprintf("[конференция:%d] %s: %s", e.Code, e.Conference, e.Message)
	}
	if e.MemberID != 0 {
		msg += fmt.Sprintf(" (участник %d)", e.MemberID)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap возвращает обернутую ошибку
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Базовые значения для errors.Is
var (
	ErrNotFound        = &Error{Code: ErrorCodeNotFound, Message: "не найдено"}
	ErrAlreadyExists   = &Error{Code: ErrorCodeAlreadyExists, Message: "уже существует"}
	ErrAllocation      = &Error{Code: ErrorCodeAllocation, Message: "недостаточно ресурсов"}
	ErrSetupFailed     = &Error{Code: ErrorCodeSetupFailed, Message: "ошибка запуска конференции"}
	ErrQueueOverrun    = &Error{Code: ErrorCodeQueueOverrun, Message: "переполнение аудио очереди"}
	ErrWriteFailure    = &Error{Code: ErrorCodeWriteFailure, Message: "ошибка записи в плечо"}
	ErrReadFailure     = &Error{Code: ErrorCodeReadFailure, Message: "ошибка чтения из плеча"}
	ErrLocked          = &Error{Code: ErrorCodeLocked, Message: "конференция заблокирована"}
	ErrPlaybackFailed  = &Error{Code: ErrorCodePlaybackFailed, Message: "ошибка воспроизведения"}
	ErrNoSpeechEngine  = &Error{Code: ErrorCodeNoSpeechEngine, Message: "синтез речи не настроен"}
	ErrInvalidArgument = &Error{Code: ErrorCodeInvalidArgument, Message: "некорректный аргумент"}
	ErrTimeout         = &Error{Code: ErrorCodeTimeout, Message: "таймаут"}
	ErrDestructing     = &Error{Code: ErrorCodeDestructing, Message: "конференция завершается"}
	ErrUnsupported     = &Error{Code: ErrorCodeUnsupported, Message: "операция не поддерживается"}
)

func newError(code ErrorCode, conference string, memberID uint32, message string, wrapped error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Conference: conference,
		MemberID:   memberID,
		Wrapped:    wrapped,
	}
}

// HasErrorCode проверяет, содержит ли цепочка ошибку с указанным кодом
func HasErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Status результат операции из фиксированного перечисления
type Status int

const (
	StatusSuccess Status = iota
	StatusNotFound
	StatusGeneralError
	StatusMemoryError
	StatusTimeout
	StatusRestart
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not-found"
	case StatusGeneralError:
		return "general-error"
	case StatusMemoryError:
		return "memory-error"
	case StatusTimeout:
		return "timeout"
	case StatusRestart:
		return "restart"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusOf сводит ошибку к статусу операции
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case ErrorCodeNotFound:
			return StatusNotFound
		case ErrorCodeAllocation:
			return StatusMemoryError
		case ErrorCodeTimeout:
			return StatusTimeout
		case ErrorCodeDestructing:
			return StatusRestart
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	return StatusGeneralError
}
