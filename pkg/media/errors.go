package media

import (
	"errors"
	"fmt"
)

// MediaErrorCode код ошибки медиа слоя
type MediaErrorCode int

const (
	ErrorCodeAudioSizeInvalid MediaErrorCode = iota + 1000
	ErrorCodeAudioCodecUnsupported
	ErrorCodeAudioRateInvalid

	ErrorCodeDTMFInvalidDigit
	ErrorCodeDTMFPayloadInvalid
	ErrorCodeDTMFDurationInvalid

	ErrorCodeJitterBufferStopped
)

var codeNames = map[MediaErrorCode]string{
	ErrorCodeAudioSizeInvalid:      "AudioSizeInvalid",
	ErrorCodeAudioCodecUnsupported: "AudioCodecUnsupported",
	ErrorCodeAudioRateInvalid:      "AudioRateInvalid",
	ErrorCodeDTMFInvalidDigit:      "DTMFInvalidDigit",
	ErrorCodeDTMFPayloadInvalid:    "DTMFPayloadInvalid",
	ErrorCodeDTMFDurationInvalid:   "DTMFDurationInvalid",
	ErrorCodeJitterBufferStopped:   "JitterBufferStopped",
}

func (code MediaErrorCode) String() string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(code))
}

// MediaError ошибка кодеков, DTMF и jitter буфера
type MediaError struct {
	Code    MediaErrorCode
	Message string
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("[медиа:%s] %s", e.Code, e.Message)
}

// Is сравнивает ошибки по коду
func (e *MediaError) Is(target error) bool {
	t, ok := target.(*MediaError)
	return ok && e.Code == t.Code
}

// NewMediaError создает ошибку с кодом
func NewMediaError(code MediaErrorCode, message string) *MediaError {
	return &MediaError{Code: code, Message: message}
}

// HasErrorCode true, если в цепочке есть MediaError с кодом code
func HasErrorCode(err error, code MediaErrorCode) bool {
	var mediaErr *MediaError
	return errors.As(err, &mediaErr) && mediaErr.Code == code
}
