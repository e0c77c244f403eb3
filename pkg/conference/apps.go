package conference

import (
	"context"
	"fmt"
)

// AppRunner выполняет приложение для участника по DTMF привязке
// execute_application или по команде управления
type AppRunner interface {
	Execute(ctx context.Context, c *Conference, m *Member, app, args string) error
}

// AppFunc приложение участника
type AppFunc func(ctx context.Context, c *Conference, m *Member, args string) error

// AppTable таблица приложений по имени
type AppTable map[string]AppFunc

// Execute запускает приложение по имени
func (t AppTable) Execute(ctx context.Context, c *Conference, m *Member, app, args string) error {
	fn, ok := t[app]
	if !ok {
		return fmt.Errorf("неизвестное приложение %q", app)
	}
	return fn(ctx, c, m, args)
}

// DefaultApps встроенные приложения: playback, speak и event
func DefaultApps() AppTable {
	return AppTable{
		"playback": func(ctx context.Context, c *Conference, m *Member, args string) error {
			return c.PlayFileMember(ctx, m.ID(), args, PlayOptions{LeadIn: -1})
		},
		"speak": func(ctx context.Context, c *Conference, m *Member, args string) error {
			return c.SayMember(ctx, m.ID(), args, PlayOptions{LeadIn: -1})
		},
		"event": func(_ context.Context, c *Conference, m *Member, args string) error {
			c.fire(ActionCustom, m, map[string]string{"data": args})
			return nil
		},
	}
}
