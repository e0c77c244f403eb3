package conference

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arzzra/soft_conference/pkg/leg"
)

// TransferPrefix префикс назначения перевода в другую комнату
const TransferPrefix = "conference:"

// Dialer создает исходящее плечо до назначения.
// Dial должен завершиться при отмене ctx.
type Dialer interface {
	Dial(ctx context.Context, destination string, rate int) (leg.Leg, error)
}

// DialRequest параметры исходящего вызова в комнату
type DialRequest struct {
	Destination string
	Options     JoinOptions
	Timeout     time.Duration // 0 = без ограничения, кроме отмены комнаты
}

// dialContext контекст вызова, отменяемый также вместе с комнатой
func (c *Conference) dialContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.bgCtx, cancel)
	if timeout > 0 {
		var tcancel context.CancelFunc
		dctx, tcancel = context.WithTimeout(dctx, timeout)
		return dctx, func() {
			tcancel()
			stop()
			cancel()
		}
	}
	return dctx, func() {
		stop()
		cancel()
	}
}

// Dial вызывает назначение и добавляет ответившее плечо в комнату
func (c *Conference) Dial(ctx context.Context, req DialRequest) (*Member, error) {
	if c.services.Dialer == nil {
		return nil, newError(ErrorCodeUnsupported, c.name, 0, "исходящие вызовы не настроены", nil)
	}
	if c.hasFlag(flagDestruct) {
		return nil, newError(ErrorCodeDestructing, c.name, 0, "комната завершается", nil)
	}
	if !c.addTask(&c.dialWG) {
		return nil, newError(ErrorCodeDestructing, c.name, 0, "комната завершается", nil)
	}
	defer c.dialWG.Done()

	dctx, cancel := c.dialContext(ctx, req.Timeout)
	defer cancel()

	l, err := c.services.Dialer.Dial(dctx, req.Destination, c.profile.Rate)
	if err != nil {
		if dctx.Err() == context.DeadlineExceeded {
			return nil, newError(ErrorCodeTimeout, c.name, 0, "вызов "+req.Destination+" не отвечен", err)
		}
		return nil, newError(ErrorCodeSetupFailed, c.name, 0, "вызов "+req.Destination+" не удался", err)
	}
	m, err := c.Join(ctx, l, req.Options)
	if err != nil {
		_ = l.Hangup(leg.CauseNormalClearing)
		return nil, err
	}
	return m, nil
}

// BgDial запускает исходящий вызов в фоне и возвращает идентификатор задания.
// Результат публикуется событием bgdial-result.
func (c *Conference) BgDial(req DialRequest) (string, error) {
	if c.services.Dialer == nil {
		return "", newError(ErrorCodeUnsupported, c.name, 0, "исходящие вызовы не настроены", nil)
	}
	if c.hasFlag(flagDestruct) {
		return "", newError(ErrorCodeDestructing, c.name, 0, "комната завершается", nil)
	}
	if !c.addTask(&c.dialWG) {
		return "", newError(ErrorCodeDestructing, c.name, 0, "комната завершается", nil)
	}
	job := uuid.NewString()
	go func() {
		defer c.dialWG.Done()
		dctx, cancel := c.dialContext(c.bgCtx, req.Timeout)
		defer cancel()

		data := map[string]string{"job_uuid": job, "destination": req.Destination}
		l, err := c.services.Dialer.Dial(dctx, req.Destination, c.profile.Rate)
		if err == nil {
			var m *Member
			if m, err = c.Join(dctx, l, req.Options); err != nil {
				_ = l.Hangup(leg.CauseNormalClearing)
			} else {
				data["member_id"] = formatID(m.id)
			}
		}
		if err != nil {
			data["result"] = "failure"
			data["error"] = err.Error()
			c.logger.Info("фоновый вызов не удался", slog.String("destination", req.Destination), slog.String("error", err.Error()))
		} else {
			data["result"] = "success"
		}
		c.fire(ActionBgDialResult, nil, data)
	}()
	return job, nil
}

// Transfer переводит участника. Назначение вида "conference:<name>"
// переносит его в другую комнату, остальные передаются плечу.
func (c *Conference) Transfer(ctx context.Context, id uint32, destination string) error {
	m := c.findMember(id)
	if m == nil {
		return newError(ErrorCodeNotFound, c.name, id, "участник не найден", nil)
	}
	if destination == "" {
		return newError(ErrorCodeInvalidArgument, c.name, id, "пустое назначение", nil)
	}

	if name, ok := strings.CutPrefix(destination, TransferPrefix); ok {
		if name == "" || name == c.name {
			return newError(ErrorCodeInvalidArgument, c.name, id, "некорректная комната назначения", nil)
		}
		if _, err := c.registry.FindOrCreate(name, ""); err != nil {
			return err
		}
		m.flagMu.Lock()
		m.moveTo = name
		m.flagMu.Unlock()
		c.fire(ActionTransfer, m, map[string]string{"destination": destination})
		m.stop(leg.CauseNormalClearing, nil)
		return nil
	}

	tr, ok := m.leg.(leg.Transferer)
	if !ok {
		return newError(ErrorCodeUnsupported, c.name, id, "плечо не поддерживает перевод", nil)
	}
	c.fire(ActionTransfer, m, map[string]string{"destination": destination})
	if err := tr.Transfer(ctx, destination); err != nil {
		return newError(ErrorCodeSetupFailed, c.name, id, "ошибка перевода", err)
	}
	return nil
}

// completeMove добавляет плечо перенесенного участника в комнату назначения
func (c *Conference) completeMove(m *Member, name string) {
	target, err := c.registry.FindOrCreate(name, "")
	if err == nil {
		_, err = target.Join(context.Background(), m.leg, m.opts)
	}
	if err != nil {
		m.logger.Warn("перенос в комнату не удался", slog.String("target", name), slog.String("error", err.Error()))
		_ = m.leg.Hangup(leg.CauseNormalClearing)
		return
	}
	m.logger.Info("участник перенесен", slog.String("target", name))
}

func formatID(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
