// Package config загружает настройки демона конференций из YAML файла и
// переменных окружения с префиксом CONFERENCED_.
//
// Пример:
//
//	cfg, err := config.Load("/etc/conferenced/config.yaml")
//	if err != nil {
//		return err
//	}
//	profiles, err := cfg.ConferenceProfiles()
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arzzra/soft_conference/pkg/conference"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "CONFERENCED"

// Config настройки демона
type Config struct {
	Log        LogConfig                `mapstructure:"log"`
	HTTP       HTTPConfig               `mapstructure:"http"`
	SIP        SIPConfig                `mapstructure:"sip"`
	RTP        RTPConfig                `mapstructure:"rtp"`
	Sounds     SoundsConfig             `mapstructure:"sounds"`
	Recordings RecordingsConfig         `mapstructure:"recordings"`
	TTS        TTSConfig                `mapstructure:"tts"`
	Events     EventsConfig             `mapstructure:"events"`
	Conference ConferenceConfig         `mapstructure:"conference"`
	Profiles   map[string]ProfileConfig `mapstructure:"profiles"`
}

// LogConfig уровень и формат журнала
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// HTTPConfig управляющий HTTP интерфейс
type HTTPConfig struct {
	Listen          string        `mapstructure:"listen"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SIPConfig исходящие вызовы
type SIPConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ListenHost  string        `mapstructure:"listen_host"`
	ListenPort  int           `mapstructure:"listen_port"`
	Transport   string        `mapstructure:"transport"`
	UserAgent   string        `mapstructure:"user_agent"`
	FromUser    string        `mapstructure:"from_user"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// RTPConfig медиа параметры исходящих плеч
type RTPConfig struct {
	Host         string        `mapstructure:"host"`
	PortMin      int           `mapstructure:"port_min"`
	PortMax      int           `mapstructure:"port_max"`
	Ptime        time.Duration `mapstructure:"ptime"`
	PayloadTypes []uint8       `mapstructure:"payload_types"`
	DTMFPayload  uint8         `mapstructure:"dtmf_payload"`
	DSCP         int           `mapstructure:"dscp"`
}

// SoundsConfig каталог звуковых файлов
type SoundsConfig struct {
	Dir string `mapstructure:"dir"`
}

// RecordingsConfig запись микса
type RecordingsConfig struct {
	Dir         string `mapstructure:"dir"`
	QueueFrames int    `mapstructure:"queue_frames"`
}

// TTSConfig внешний синтезатор речи; пустой URL отключает синтез
type TTSConfig struct {
	URL     string        `mapstructure:"url"`
	Voice   string        `mapstructure:"voice"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EventsConfig поток событий
type EventsConfig struct {
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
}

// ConferenceConfig ограничения реестра
type ConferenceConfig struct {
	MaxConferences int    `mapstructure:"max_conferences"`
	DefaultProfile string `mapstructure:"default_profile"`
}

// ProfileConfig профиль комнаты в файле. Незаданные поля берутся
// из conference.DefaultProfile.
type ProfileConfig struct {
	Rate     int           `mapstructure:"rate"`
	Interval time.Duration `mapstructure:"interval"`

	EnergyLevel   *int          `mapstructure:"energy_level"`
	AGCLevel      int           `mapstructure:"agc_level"`
	AGCPeriod     time.Duration `mapstructure:"agc_period"`
	TalkHangover  int           `mapstructure:"talk_hangover"`
	TalkHangunder int           `mapstructure:"talk_hangunder"`

	MinMembers       int   `mapstructure:"min_members"`
	Dynamic          *bool `mapstructure:"dynamic"`
	WaitForModerator bool  `mapstructure:"wait_for_moderator"`
	VideoFloorOnly   bool  `mapstructure:"video_floor_only"`
	MaxMembers       int   `mapstructure:"max_members"`
	AnnounceCount    int   `mapstructure:"announce_count"`

	Sounds SoundSetConfig `mapstructure:"sounds"`
	LeadIn int            `mapstructure:"lead_in"`

	TTSVoice string `mapstructure:"tts_voice"`

	InputQueueFrames  int `mapstructure:"input_queue_frames"`
	OutputQueueFrames int `mapstructure:"output_queue_frames"`
	FlushStaleTicks   int `mapstructure:"flush_stale_ticks"`
	FlushBacklog      int `mapstructure:"flush_backlog"`

	InterDigitTimeout time.Duration               `mapstructure:"inter_digit_timeout"`
	CallerControls    []conference.ControlBinding `mapstructure:"caller_controls"`
	ModeratorControls []conference.ControlBinding `mapstructure:"moderator_controls"`

	Events []string `mapstructure:"events"`
}

// SoundSetConfig звуки комнаты
type SoundSetConfig struct {
	Enter     string `mapstructure:"enter"`
	Exit      string `mapstructure:"exit"`
	Alone     string `mapstructure:"alone"`
	MOH       string `mapstructure:"moh"`
	Perpetual string `mapstructure:"perpetual"`
	Locked    string `mapstructure:"locked"`
	Kicked    string `mapstructure:"kicked"`
	Muted     string `mapstructure:"muted"`
	Unmuted   string `mapstructure:"unmuted"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("sip.enabled", false)
	v.SetDefault("sip.listen_host", "127.0.0.1")
	v.SetDefault("sip.listen_port", 5060)
	v.SetDefault("sip.transport", "udp")
	v.SetDefault("sip.user_agent", "soft_conference")
	v.SetDefault("sip.from_user", "conference")
	v.SetDefault("sip.dial_timeout", "60s")

	v.SetDefault("rtp.host", "127.0.0.1")
	v.SetDefault("rtp.port_min", 10000)
	v.SetDefault("rtp.port_max", 20000)
	v.SetDefault("rtp.ptime", "20ms")
	v.SetDefault("rtp.payload_types", []uint8{0, 8})
	v.SetDefault("rtp.dtmf_payload", 101)
	v.SetDefault("rtp.dscp", 46)

	v.SetDefault("sounds.dir", "./sounds")
	v.SetDefault("recordings.dir", "./recordings")
	v.SetDefault("recordings.queue_frames", 100)

	v.SetDefault("tts.timeout", "10s")

	v.SetDefault("events.subscriber_buffer", 256)
	v.SetDefault("events.ping_period", "30s")

	v.SetDefault("conference.max_conferences", 0)
	v.SetDefault("conference.default_profile", "default")
}

// Load читает файл path (может быть пустым) и переменные окружения
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("не удалось прочитать конфигурацию %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("не удалось разобрать конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default конфигурация без файла и окружения
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate проверяет общие настройки и все профили
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("неизвестный формат журнала %q", c.Log.Format))
	}
	if c.HTTP.Listen == "" {
		errs = append(errs, fmt.Errorf("http.listen не задан"))
	}
	if c.SIP.Enabled {
		if c.SIP.ListenPort <= 0 || c.SIP.ListenPort > 65535 {
			errs = append(errs, fmt.Errorf("некорректный sip.listen_port %d", c.SIP.ListenPort))
		}
		switch c.SIP.Transport {
		case "udp", "tcp":
		default:
			errs = append(errs, fmt.Errorf("неподдерживаемый sip.transport %q", c.SIP.Transport))
		}
		if c.RTP.PortMin <= 0 || c.RTP.PortMax > 65535 || c.RTP.PortMin >= c.RTP.PortMax {
			errs = append(errs, fmt.Errorf("некорректный диапазон RTP портов %d-%d", c.RTP.PortMin, c.RTP.PortMax))
		}
		if len(c.RTP.PayloadTypes) == 0 {
			errs = append(errs, fmt.Errorf("rtp.payload_types пуст"))
		}
	}
	if c.Conference.MaxConferences < 0 {
		errs = append(errs, fmt.Errorf("conference.max_conferences не может быть отрицательным"))
	}
	if _, err := c.ConferenceProfiles(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel уровень журнала для log/slog
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("неизвестный уровень журнала %q", l.Level)
	}
	return level, nil
}

// ConferenceProfiles профили движка по имени. "default" присутствует всегда.
func (c *Config) ConferenceProfiles() (map[string]*conference.Profile, error) {
	out := map[string]*conference.Profile{"default": conference.DefaultProfile()}
	for name, pc := range c.Profiles {
		p, err := pc.Profile(name)
		if err != nil {
			return nil, fmt.Errorf("профиль %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// Profile накладывает заданные поля на профиль по умолчанию
func (pc ProfileConfig) Profile(name string) (*conference.Profile, error) {
	p := conference.DefaultProfile()
	p.Name = name

	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, v time.Duration) {
		if v != 0 {
			*dst = v
		}
	}
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	setInt(&p.Rate, pc.Rate)
	setDuration(&p.Interval, pc.Interval)
	if pc.EnergyLevel != nil {
		p.EnergyLevel = *pc.EnergyLevel
	}
	setInt(&p.AGCLevel, pc.AGCLevel)
	setDuration(&p.AGCPeriod, pc.AGCPeriod)
	setInt(&p.TalkHangover, pc.TalkHangover)
	setInt(&p.TalkHangunder, pc.TalkHangunder)

	setInt(&p.MinMembers, pc.MinMembers)
	if pc.Dynamic != nil {
		p.Dynamic = *pc.Dynamic
	}
	p.WaitForModerator = pc.WaitForModerator
	p.VideoFloorOnly = pc.VideoFloorOnly
	setInt(&p.MaxMembers, pc.MaxMembers)
	setInt(&p.AnnounceCount, pc.AnnounceCount)

	setString(&p.EnterSound, pc.Sounds.Enter)
	setString(&p.ExitSound, pc.Sounds.Exit)
	setString(&p.AloneSound, pc.Sounds.Alone)
	setString(&p.MOHSound, pc.Sounds.MOH)
	setString(&p.PerpetualSound, pc.Sounds.Perpetual)
	setString(&p.LockedSound, pc.Sounds.Locked)
	setString(&p.KickedSound, pc.Sounds.Kicked)
	setString(&p.MutedSound, pc.Sounds.Muted)
	setString(&p.UnmutedSound, pc.Sounds.Unmuted)
	setInt(&p.LeadIn, pc.LeadIn)
	setString(&p.TTSVoice, pc.TTSVoice)

	setInt(&p.InputQueueFrames, pc.InputQueueFrames)
	setInt(&p.OutputQueueFrames, pc.OutputQueueFrames)
	setInt(&p.FlushStaleTicks, pc.FlushStaleTicks)
	setInt(&p.FlushBacklog, pc.FlushBacklog)

	setDuration(&p.InterDigitTimeout, pc.InterDigitTimeout)
	if pc.CallerControls != nil {
		p.CallerControls = pc.CallerControls
	}
	if pc.ModeratorControls != nil {
		p.ModeratorControls = pc.ModeratorControls
	}

	mask, err := conference.ParseEventMask(pc.Events)
	if err != nil {
		return nil, err
	}
	p.EventMask = mask

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
