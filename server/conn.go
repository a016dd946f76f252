package server

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/hub"
)

// handleWS поднимает WebSocket и обслуживает его до закрытия.
// Без username соединение регистрируется под адресом клиента.
func (s *Server) handleWS(c echo.Context) error {
	username := strings.TrimSpace(c.QueryParam("username"))
	if username == "" {
		username = c.Request().RemoteAddr
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("server: websocket upgrade failed", "username", username, "error", err)
		return nil
	}

	s.serveConn(conn, username)
	return nil
}

// serveConn регистрирует соединение и запускает писателя и читателя.
// Сессия заканчивается вместе с первым завершившимся циклом; затем все соединения
// этого username удаляются из реестра вместе с подписками.
func (s *Server) serveConn(conn *websocket.Conn, username string) {
	clientID := uuid.NewString()
	client := s.registry.Register(username, clientID)
	logger := s.logger.With("client_id", clientID, "username", username)
	logger.Info("server: connection opened")

	ctx, cancel := context.WithCancel(s.baseCtx)
	done := make(chan string, 2)

	go func() {
		s.writeLoop(ctx, conn, client)
		done <- "writer"
	}()
	go func() {
		s.readLoop(ctx, conn, client)
		done <- "reader"
	}()

	first := <-done

	removed := s.registry.Unregister(context.WithoutCancel(ctx), username)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	cancel()
	<-done

	logger.Info("server: connection closed", "ended_by", first, "removed", len(removed))
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.Queue():
			if !ok {
				return
			}

			typ, data := websocket.MessageText, []byte(msg.Text)
			if msg.Kind == hub.KindBinary {
				typ, data = websocket.MessageBinary, msg.Data
			}

			writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := conn.Write(writeCtx, typ, data)
			cancel()
			if err != nil {
				s.logger.Warn("server: websocket write failed", "client_id", client.ID, "error", err)
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				s.logger.Debug("server: websocket closed by client", "client_id", client.ID)
			case errors.Is(err, io.EOF) || errors.Is(err, context.Canceled):
			default:
				s.logger.Warn("server: websocket read failed", "client_id", client.ID, "error", err)
			}
			return
		}

		if typ != websocket.MessageText {
			s.logger.Debug("server: non-text frame ignored", "client_id", client.ID, "type", typ.String())
			continue
		}
		s.handleCommand(ctx, client, string(data))
	}
}

// handleCommand: ping → pong, echo<текст> → всем вкладкам пользователя, join/part <канал> → подписка соединения.
func (s *Server) handleCommand(ctx context.Context, client *hub.Client, text string) {
	switch {
	case text == "ping":
		if err := s.registry.Unicast(ctx, client.ID, hub.Text("pong")); err != nil {
			errutil.LogError(s.logger, "server: pong failed", err, "client_id", client.ID)
		}
	case strings.HasPrefix(text, "echo"):
		rest := strings.TrimPrefix(text, "echo")
		if err := s.registry.MulticastByName(ctx, client.DisplayName, hub.Text(rest)); err != nil {
			errutil.LogError(s.logger, "server: echo failed", err, "client_id", client.ID)
		}
	case strings.HasPrefix(text, "join "):
		channel := strings.TrimSpace(strings.TrimPrefix(text, "join "))
		if err := s.subs.Subscribe(ctx, channel, client.ID); err != nil {
			errutil.LogError(s.logger, "server: join failed", err, "client_id", client.ID, "channel", channel)
		}
	case strings.HasPrefix(text, "part "):
		channel := strings.TrimSpace(strings.TrimPrefix(text, "part "))
		s.subs.Unsubscribe(ctx, channel, client.ID)
	default:
		s.logger.Debug("server: unknown command", "client_id", client.ID, "text", text)
	}
}
