package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/arzzra/soft_conference/pkg/conference"
)

// SpeechConfig настройки HTTP синтезатора речи
type SpeechConfig struct {
	// URL принимает POST с JSON запросом и отвечает WAV
	URL          string
	DefaultVoice string
	Timeout      time.Duration
	// MaxBytes ограничение размера ответа
	MaxBytes int64
	Client   *http.Client
	Logger   *slog.Logger
}

// HTTPSpeech синтезатор речи поверх внешнего HTTP сервиса.
// Реализует conference.SpeechEngine.
type HTTPSpeech struct {
	cfg    SpeechConfig
	client *http.Client
	logger *slog.Logger
}

var _ conference.SpeechEngine = (*HTTPSpeech)(nil)

type speechRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

// NewHTTPSpeech создает синтезатор
func NewHTTPSpeech(cfg SpeechConfig) (*HTTPSpeech, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("адрес синтезатора не задан: %w", ErrSpeechFailed)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 << 20
	}
	s := &HTTPSpeech{cfg: cfg, client: cfg.Client, logger: cfg.Logger}
	if s.client == nil {
		s.client = &http.Client{Timeout: cfg.Timeout}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Synthesize запрашивает озвучку text и возвращает источник на частоте rate
func (s *HTTPSpeech) Synthesize(ctx context.Context, text, voice string, rate int) (conference.AudioSource, error) {
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}
	body, err := json.Marshal(speechRequest{Text: text, Voice: voice, SampleRate: rate})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpeechFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: статус %d", ErrSpeechFailed, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpeechFailed, err)
	}

	stream, err := WAVDecoder{}.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpeechFailed, err)
	}
	s.logger.Debug("синтезирован текст",
		slog.Int("chars", len(text)),
		slog.String("voice", voice),
		slog.Duration("took", time.Since(start)))
	return NewSource(stream, nil, rate)
}
