package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/soft_conference/pkg/leg"
)

// call SIP диалог одного исходящего плеча
type call struct {
	dialer  *Dialer
	target  sip.Uri
	fromTag string
	callID  string

	invite   *sip.Request
	response *sip.Response
	leg      *leg.RTPLeg

	seqMu sync.Mutex
	seq   uint32

	remoteBye atomic.Bool
}

func (c *call) localURI() sip.Uri {
	cfg := c.dialer.config
	return sip.Uri{Scheme: "sip", User: cfg.FromUser, Host: cfg.ListenHost, Port: cfg.ListenPort}
}

func (c *call) nextSeq() uint32 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq++
	return c.seq
}

func (c *call) buildInvite(body []byte) *sip.Request {
	req := sip.NewRequest(sip.INVITE, c.target)
	local := c.localURI()

	req.AppendHeader(&sip.FromHeader{Address: local, Params: sip.NewParams().Add("tag", c.fromTag)})
	req.AppendHeader(&sip.ToHeader{Address: c.target, Params: sip.NewParams()})
	req.AppendHeader(&sip.ContactHeader{Address: local, Params: sip.NewParams()})
	callID := sip.CallIDHeader(c.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: c.nextSeq(), MethodName: sip.INVITE})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	req.AppendHeader(sip.NewHeader("User-Agent", c.dialer.config.UserAgent))
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.SetBody(body)
	c.invite = req
	return req
}

// remoteTarget адрес абонента из Contact ответа
func (c *call) remoteTarget() sip.Uri {
	if c.response != nil {
		if contact := c.response.Contact(); contact != nil {
			return contact.Address
		}
	}
	return c.target
}

// inDialog новый запрос внутри диалога
func (c *call) inDialog(method sip.RequestMethod, seq uint32) *sip.Request {
	req := sip.NewRequest(method, c.remoteTarget())
	req.AppendHeader(c.invite.From())
	if c.response != nil {
		req.AppendHeader(c.response.To())
	} else {
		req.AppendHeader(c.invite.To())
	}
	callID := sip.CallIDHeader(c.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	return req
}

func (c *call) sendACK() {
	ack := c.inDialog(sip.ACK, c.invite.CSeq().SeqNo)
	if err := c.dialer.client.WriteRequest(ack); err != nil {
		c.dialer.logger.Warn("ошибка отправки ACK",
			slog.String("call_id", c.callID), slog.String("error", err.Error()))
	}
}

func (c *call) sendBye(ctx context.Context) {
	bye := c.inDialog(sip.BYE, c.nextSeq())
	res, err := c.dialer.client.Do(ctx, bye)
	if err != nil {
		c.dialer.logger.Warn("ошибка отправки BYE",
			slog.String("call_id", c.callID), slog.String("error", err.Error()))
		return
	}
	c.dialer.logger.Debug("BYE подтвержден",
		slog.String("call_id", c.callID), slog.Int("status", int(res.StatusCode)))
}

// buildRefer REFER внутри диалога с Refer-To и Referred-By
func (c *call) buildRefer(destination string) (*sip.Request, error) {
	target, err := ParseDestination(destination)
	if err != nil {
		return nil, err
	}
	req := c.inDialog(sip.REFER, c.nextSeq())
	req.AppendHeader(sip.NewHeader("Refer-To", "<"+target.String()+">"))
	from := c.localURI()
	req.AppendHeader(sip.NewHeader("Referred-By", "<"+from.String()+">"))
	return req, nil
}

// refer просит абонента перейти на destination
func (c *call) refer(ctx context.Context, destination string) error {
	req, err := c.buildRefer(destination)
	if err != nil {
		return err
	}
	res, err := c.dialer.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("ошибка отправки REFER: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s", ErrTransferFail, strconv.Itoa(int(res.StatusCode)), res.Reason)
	}
	return nil
}

// sipLeg RTP плечо с переводом через REFER
type sipLeg struct {
	*leg.RTPLeg
	call *call
}

var _ leg.Transferer = (*sipLeg)(nil)

// Transfer отправляет REFER; после 2xx абонент сам завершит диалог
func (l *sipLeg) Transfer(ctx context.Context, destination string) error {
	return l.call.refer(ctx, destination)
}
