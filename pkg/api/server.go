// Package api управляющий HTTP интерфейс конференций на gin.
//
// Маршруты повторяют операции conference.Conference: создание и
// уничтожение комнат, команды участникам, воспроизведение, запись,
// исходящие вызовы. /metrics отдает метрики Prometheus, /events
// транслирует события шины через WebSocket.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/soft_conference/pkg/conference"
)

// Config параметры HTTP интерфейса
type Config struct {
	Registry *conference.Registry
	// DefaultProfile профиль комнат, создаваемых без явного профиля
	DefaultProfile string
	// Gatherer источник /metrics; nil означает prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
	// Mode режим gin: debug, release, test
	Mode string
	// EventBuffer емкость очереди событий одного WebSocket клиента
	EventBuffer int
	// PingPeriod период ping кадров WebSocket
	PingPeriod time.Duration
	Logger     *slog.Logger
}

// Server HTTP обработчики поверх реестра конференций
type Server struct {
	registry    *conference.Registry
	profile     string
	engine      *gin.Engine
	logger      *slog.Logger
	eventBuffer int
	pingPeriod  time.Duration
}

// New создает сервер и регистрирует маршруты
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("реестр конференций не задан")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch cfg.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.Mode)
	case "":
		gin.SetMode(gin.ReleaseMode)
	default:
		return nil, errors.New("неизвестный режим gin: " + cfg.Mode)
	}

	s := &Server{
		registry:    cfg.Registry,
		profile:     cfg.DefaultProfile,
		engine:      gin.New(),
		logger:      cfg.Logger.With(slog.String("component", "api")),
		eventBuffer: cfg.EventBuffer,
		pingPeriod:  cfg.PingPeriod,
	}
	s.engine.Use(gin.Recovery(), s.accessLog())

	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/events", s.events)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/profiles", s.listProfiles)
	v1.GET("/conferences", s.listConferences)
	v1.POST("/conferences", s.createConference)

	rooms := v1.Group("/conferences/:name", s.withConference)
	rooms.GET("", s.getConference)
	rooms.DELETE("", s.destroyConference)
	rooms.POST("/lock", s.lock)
	rooms.POST("/unlock", s.unlock)
	rooms.POST("/play", s.play)
	rooms.POST("/say", s.say)
	rooms.POST("/stop", s.stop)
	rooms.PUT("/agc", s.setAGC)
	rooms.POST("/recordings", s.startRecording)
	rooms.DELETE("/recordings", s.stopRecording)
	rooms.POST("/dial", s.dial)

	member := rooms.Group("/members/:id", s.withMemberID)
	member.GET("", s.getMember)
	member.POST("/mute", s.memberCommand((*conference.Conference).MuteMember))
	member.POST("/unmute", s.memberCommand((*conference.Conference).UnmuteMember))
	member.POST("/deaf", s.memberCommand((*conference.Conference).DeafMember))
	member.POST("/undeaf", s.memberCommand((*conference.Conference).UndeafMember))
	member.POST("/kick", s.memberCommand((*conference.Conference).KickMember))
	member.POST("/hup", s.memberCommand((*conference.Conference).HangupMember))
	member.PUT("/energy", s.memberLevel((*conference.Conference).SetEnergyLevel))
	member.PUT("/volume_in", s.memberLevel((*conference.Conference).SetTalkVolume))
	member.PUT("/volume_out", s.memberLevel((*conference.Conference).SetListenVolume))
	member.POST("/play", s.playMember)
	member.POST("/say", s.sayMember)
	member.POST("/stop", s.stopMember)
	member.POST("/transfer", s.transfer)
	member.POST("/exec", s.execApp)
	member.GET("/relationships", s.relationships)
	member.PUT("/relationships/:other", s.setRelationship)
	member.DELETE("/relationships/:other", s.clearRelationship)

	return s, nil
}

// Handler корневой обработчик для http.Server
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "http запрос",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": conference.StatusSuccess.String(), "conferences": len(s.registry.List())})
}

// errorResponse тело ответа с ошибкой
type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// httpStatus код ответа для ошибки движка
func httpStatus(err error) int {
	var e *conference.Error
	if errors.As(err, &e) {
		switch e.Code {
		case conference.ErrorCodeNotFound:
			return http.StatusNotFound
		case conference.ErrorCodeAlreadyExists:
			return http.StatusConflict
		case conference.ErrorCodeAllocation:
			return http.StatusServiceUnavailable
		case conference.ErrorCodeLocked:
			return http.StatusLocked
		case conference.ErrorCodeInvalidArgument:
			return http.StatusBadRequest
		case conference.ErrorCodeTimeout:
			return http.StatusGatewayTimeout
		case conference.ErrorCodeDestructing:
			return http.StatusConflict
		case conference.ErrorCodeUnsupported, conference.ErrorCodeNoSpeechEngine:
			return http.StatusNotImplemented
		case conference.ErrorCodeSetupFailed:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), errorResponse{
		Status: conference.StatusOf(err).String(),
		Error:  err.Error(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		Status: conference.StatusGeneralError.String(),
		Error:  msg,
	})
}

func ok(c *gin.Context, extra gin.H) {
	body := gin.H{"status": conference.StatusSuccess.String()}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}
