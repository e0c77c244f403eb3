package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/arzzra/soft_conference/pkg/conference"
)

const (
	writeWait = 10 * time.Second
	readLimit = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// events транслирует события шины в WebSocket.
// ?conference=<name> ограничивает поток одной комнатой.
func (s *Server) events(c *gin.Context) {
	var filter func(conference.Event) bool
	if name := c.Query("conference"); name != "" {
		filter = conference.ConferenceFilter(name)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade", slog.String("error", err.Error()))
		return
	}
	sub := s.registry.Events().Subscribe(s.eventBuffer, filter)
	logger := s.logger.With(slog.String("remote", conn.RemoteAddr().String()))
	logger.Info("подписчик событий подключен")

	closed := make(chan struct{})
	go s.readPump(conn, closed)
	s.writePump(conn, sub, closed)

	sub.Close()
	_ = conn.Close()
	logger.Info("подписчик событий отключен")
}

// readPump читает управляющие кадры клиента до закрытия соединения
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(readLimit)
	deadline := 2 * s.pingPeriod
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *conference.Subscription, closed <-chan struct{}) {
	ping := time.NewTicker(s.pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case e, open := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
