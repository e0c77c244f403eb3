package playback

import "errors"

var (
	ErrUnknownFormat     = errors.New("неизвестный формат файла")
	ErrUnsupportedFormat = errors.New("неподдерживаемый формат данных")
	ErrInvalidURI        = errors.New("некорректный URI источника")
	ErrSpeechFailed      = errors.New("ошибка синтеза речи")
)
