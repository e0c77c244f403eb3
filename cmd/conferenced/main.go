// conferenced демон аудиоконференций: реестр комнат, HTTP управление,
// поток событий и исходящие SIP вызовы.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/soft_conference/pkg/api"
	"github.com/arzzra/soft_conference/pkg/conference"
	"github.com/arzzra/soft_conference/pkg/config"
	"github.com/arzzra/soft_conference/pkg/dialer"
	"github.com/arzzra/soft_conference/pkg/playback"
	"github.com/arzzra/soft_conference/pkg/record"
	"github.com/arzzra/soft_conference/pkg/rtp"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "conferenced:", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	profiles, err := cfg.ConferenceProfiles()
	if err != nil {
		return err
	}

	services := conference.Services{
		Sources: playback.NewOpener(playback.Config{SoundsDir: cfg.Sounds.Dir, Logger: logger}),
		Recorders: record.New(record.Config{
			Dir:         cfg.Recordings.Dir,
			QueueFrames: cfg.Recordings.QueueFrames,
			Logger:      logger,
		}),
	}
	if cfg.TTS.URL != "" {
		speech, err := playback.NewHTTPSpeech(playback.SpeechConfig{
			URL:          cfg.TTS.URL,
			DefaultVoice: cfg.TTS.Voice,
			Timeout:      cfg.TTS.Timeout,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		services.Speech = speech
	}

	g, gctx := errgroup.WithContext(ctx)

	var sipDialer *dialer.Dialer
	if cfg.SIP.Enabled {
		dc := dialer.DefaultConfig()
		dc.ListenHost = cfg.SIP.ListenHost
		dc.ListenPort = cfg.SIP.ListenPort
		dc.Transport = cfg.SIP.Transport
		dc.UserAgent = cfg.SIP.UserAgent
		dc.FromUser = cfg.SIP.FromUser
		dc.InviteTimeout = cfg.SIP.DialTimeout
		dc.RTPHost = cfg.RTP.Host
		dc.PortMin = cfg.RTP.PortMin
		dc.PortMax = cfg.RTP.PortMax
		dc.Payloads = cfg.RTP.PayloadTypes
		dc.DTMFPayload = cfg.RTP.DTMFPayload
		dc.Ptime = cfg.RTP.Ptime
		dc.DSCP = cfg.RTP.DSCP
		dc.Metrics = rtp.NewTransportMetrics(promReg)
		dc.Logger = logger

		sipDialer, err = dialer.New(dc)
		if err != nil {
			return err
		}
		defer sipDialer.Close()
		services.Dialer = sipDialer
		g.Go(func() error {
			if err := sipDialer.Serve(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("sip: %w", err)
			}
			return nil
		})
	}

	registry, err := conference.NewRegistry(conference.RegistryConfig{
		MaxConferences: cfg.Conference.MaxConferences,
		Profiles:       profiles,
		Services:       services,
		Metrics:        conference.NewMetrics(promReg),
		Logger:         logger.With(slog.String("component", "conference")),
	})
	if err != nil {
		return err
	}

	server, err := api.New(api.Config{
		Registry:       registry,
		DefaultProfile: cfg.Conference.DefaultProfile,
		Gatherer:       promReg,
		Mode:           cfg.HTTP.Mode,
		EventBuffer:    cfg.Events.SubscriberBuffer,
		PingPeriod:     cfg.Events.PingPeriod,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{Addr: cfg.HTTP.Listen, Handler: server.Handler()}

	g.Go(func() error {
		logger.Info("http сервер запущен", slog.String("addr", cfg.HTTP.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("остановка")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		regErr := registry.Shutdown(shutdownCtx)
		httpErr := httpServer.Shutdown(shutdownCtx)
		return errors.Join(regErr, httpErr)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("демон остановлен")
	return nil
}
