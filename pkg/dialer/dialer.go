// Package dialer создает исходящие плечи конференции: SIP INVITE через
// emiago/sipgo, согласование SDP через pion/sdp и RTP/UDP медиа.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/soft_conference/pkg/conference"
	"github.com/arzzra/soft_conference/pkg/leg"
	"github.com/arzzra/soft_conference/pkg/media"
	"github.com/arzzra/soft_conference/pkg/rtp"
)

var (
	ErrClosed       = errors.New("dialer закрыт")
	ErrRejected     = errors.New("вызов отклонен")
	ErrNoAnswer     = errors.New("нет ответа")
	ErrBadAnswer    = errors.New("некорректный ответ на INVITE")
	ErrInvalidLeg   = errors.New("некорректное назначение")
	ErrTransferFail = errors.New("перевод не принят")
)

// Config настройки SIP исходящих вызовов
type Config struct {
	ListenHost string
	ListenPort int
	Transport  string // udp, tcp
	UserAgent  string
	FromUser   string

	RTPHost       string
	PortMin       int
	PortMax       int
	Payloads      []uint8
	DTMFPayload   uint8
	Ptime         time.Duration
	DSCP          int
	InviteTimeout time.Duration

	Metrics *rtp.TransportMetrics
	Logger  *slog.Logger
}

// DefaultConfig локальная конфигурация G.711 с RFC 4733
func DefaultConfig() Config {
	return Config{
		ListenHost:    "127.0.0.1",
		ListenPort:    5060,
		Transport:     "udp",
		UserAgent:     "soft_conference",
		FromUser:      "conference",
		RTPHost:       "127.0.0.1",
		PortMin:       10000,
		PortMax:       20000,
		Payloads:      []uint8{uint8(media.PayloadTypePCMU), uint8(media.PayloadTypePCMA)},
		DTMFPayload:   101,
		Ptime:         20 * time.Millisecond,
		InviteTimeout: 60 * time.Second,
	}
}

// Dialer исходящие SIP вызовы. Реализует conference.Dialer.
type Dialer struct {
	config Config
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server
	ports  *PortPool
	logger *slog.Logger

	mu     sync.Mutex
	calls  map[string]*call
	closed bool
}

var _ conference.Dialer = (*Dialer)(nil)

// New создает Dialer; Serve запускает прием запросов внутри диалогов
func New(config Config) (*Dialer, error) {
	if config.Transport == "" {
		config.Transport = "udp"
	}
	if config.Ptime <= 0 {
		config.Ptime = 20 * time.Millisecond
	}
	if config.InviteTimeout <= 0 {
		config.InviteTimeout = 60 * time.Second
	}
	if len(config.Payloads) == 0 {
		return nil, fmt.Errorf("не задан ни один кодек")
	}
	ports, err := NewPortPool(config.PortMin, config.PortMax)
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(config.UserAgent),
		sipgo.WithUserAgentHostname(config.ListenHost),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания User Agent: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(config.ListenHost))
	if err != nil {
		_ = ua.Close()
		return nil, fmt.Errorf("ошибка создания клиента: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		_ = client.Close()
		_ = ua.Close()
		return nil, fmt.Errorf("ошибка создания сервера: %w", err)
	}

	d := &Dialer{
		config: config,
		ua:     ua,
		client: client,
		server: server,
		ports:  ports,
		logger: logger.With(slog.String("component", "dialer")),
		calls:  make(map[string]*call),
	}
	server.OnBye(d.handleBye)
	return d, nil
}

// Serve слушает SIP адрес до отмены ctx
func (d *Dialer) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(d.config.ListenHost, strconv.Itoa(d.config.ListenPort))
	d.logger.Info("запуск SIP", slog.String("transport", d.config.Transport), slog.String("addr", addr))
	return d.server.ListenAndServe(ctx, d.config.Transport, addr)
}

// Dial отправляет INVITE на destination и возвращает плечо после 2xx.
// Плечо G.711 работает на 8 кГц; комната пересчитывает частоту сама.
func (d *Dialer) Dial(ctx context.Context, destination string, rate int) (leg.Leg, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	target, err := ParseDestination(destination)
	if err != nil {
		return nil, err
	}

	port, err := d.ports.Allocate()
	if err != nil {
		return nil, err
	}
	tcfg := rtp.DefaultTransportConfig()
	tcfg.LocalAddr = net.JoinHostPort(d.config.RTPHost, strconv.Itoa(port))
	tcfg.DSCP = d.config.DSCP
	transport, err := rtp.NewUDPTransport(tcfg, d.config.Metrics)
	if err != nil {
		d.ports.Release(port)
		return nil, err
	}
	release := func() {
		_ = transport.Close()
		d.ports.Release(port)
	}

	offer := BuildOffer(OfferParams{
		LocalIP:     d.config.RTPHost,
		LocalPort:   port,
		Payloads:    d.config.Payloads,
		DTMFPayload: d.config.DTMFPayload,
		Ptime:       d.config.Ptime,
	})
	body, err := offer.Marshal()
	if err != nil {
		release()
		return nil, fmt.Errorf("ошибка формирования SDP: %w", err)
	}

	c := &call{dialer: d, target: target, fromTag: uuid.NewString()[:8], callID: uuid.NewString()}
	invite := c.buildInvite(body)
	logger := d.logger.With(slog.String("call_id", c.callID), slog.String("to", target.String()))
	logger.Debug("отправка INVITE", slog.Int("rtp_port", port), slog.Int("room_rate", rate))

	ctx, cancel := context.WithTimeout(ctx, d.config.InviteTimeout)
	defer cancel()
	res, err := d.invite(ctx, invite)
	if err != nil {
		release()
		logger.Info("вызов не установлен", slog.String("error", err.Error()))
		return nil, err
	}

	answer, err := ParseAnswer(res.Body(), d.config.Payloads)
	if err != nil {
		release()
		c.response = res
		c.sendACK()
		c.sendBye(context.Background())
		return nil, fmt.Errorf("%w: %v", ErrBadAnswer, err)
	}
	c.response = res
	c.sendACK()

	if err := transport.SetRemoteAddr(answer.RemoteAddr); err != nil {
		release()
		c.sendBye(context.Background())
		return nil, err
	}

	rtpLeg, err := leg.NewRTPLeg(leg.RTPLegConfig{
		ID:              c.callID,
		Transport:       transport,
		PayloadType:     answer.PayloadType,
		DTMFPayloadType: answer.DTMFPayload,
		Ptime:           answer.Ptime,
		Logger:          d.logger,
		OnHangup: func(cause leg.Cause) {
			d.ports.Release(port)
			d.forget(c.callID)
			if !c.remoteBye.Load() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				c.sendBye(ctx)
			}
		},
	})
	if err != nil {
		release()
		c.sendBye(context.Background())
		return nil, err
	}
	c.leg = rtpLeg

	d.mu.Lock()
	d.calls[c.callID] = c
	d.mu.Unlock()

	logger.Info("вызов установлен",
		slog.String("remote_rtp", answer.RemoteAddr),
		slog.Int("payload_type", int(answer.PayloadType)))
	return &sipLeg{RTPLeg: rtpLeg, call: c}, nil
}

// invite ждет финальный ответ на INVITE
func (d *Dialer) invite(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := d.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки INVITE: %w", err)
	}
	defer tx.Terminate()

	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, ErrNoAnswer
			}
			if res.StatusCode < 200 {
				continue
			}
			if res.StatusCode >= 300 {
				return nil, fmt.Errorf("%w: %d %s", ErrRejected, res.StatusCode, res.Reason)
			}
			return res, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoAnswer, err)
			}
			return nil, ErrNoAnswer
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// handleBye завершает плечо по BYE от абонента
func (d *Dialer) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	var callID string
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}
	d.mu.Lock()
	c := d.calls[callID]
	d.mu.Unlock()

	if c == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
	c.remoteBye.Store(true)
	d.logger.Info("BYE от абонента", slog.String("call_id", callID))
	_ = c.leg.Hangup(leg.CauseNormalClearing)
}

func (d *Dialer) forget(callID string) {
	d.mu.Lock()
	delete(d.calls, callID)
	d.mu.Unlock()
}

// Active количество установленных вызовов
func (d *Dialer) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// Close завершает все вызовы и SIP стек
func (d *Dialer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	calls := make([]*call, 0, len(d.calls))
	for _, c := range d.calls {
		calls = append(calls, c)
	}
	d.mu.Unlock()

	for _, c := range calls {
		_ = c.leg.Hangup(leg.CauseSystemShutdown)
	}
	return errors.Join(d.client.Close(), d.server.Close(), d.ua.Close())
}

// ParseDestination приводит назначение к SIP URI: "sip:bob@host", "bob@host:5070"
func ParseDestination(destination string) (sip.Uri, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return sip.Uri{}, ErrInvalidLeg
	}
	if !strings.HasPrefix(destination, "sip:") && !strings.HasPrefix(destination, "sips:") {
		destination = "sip:" + destination
	}
	var uri sip.Uri
	if err := sip.ParseUri(destination, &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("%w: %v", ErrInvalidLeg, err)
	}
	if uri.Host == "" {
		return sip.Uri{}, fmt.Errorf("%w: нет хоста в %q", ErrInvalidLeg, destination)
	}
	return uri, nil
}
