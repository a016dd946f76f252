// Package server — HTTP control plane и WebSocket-эндпоинт ретранслятора.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/hub"
	"twitch-chat-relay/observability"
	"twitch-chat-relay/subscription"
)

const shutdownTimeout = 5 * time.Second

// Server держит echo и зависимости обработчиков.
type Server struct {
	E *echo.Echo

	registry       *hub.Registry
	subs           *subscription.Manager
	metrics        *observability.Metrics
	logger         *slog.Logger
	originPatterns []string
	writeTimeout   time.Duration
	// baseCtx отменяется при остановке сервера; от него наследуют WebSocket-сессии.
	baseCtx context.Context
	stop    context.CancelFunc
}

// Option настраивает Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithOriginPatterns задаёт разрешённые Origin для WebSocket; по умолчанию только тот же хост.
func WithOriginPatterns(patterns []string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithWriteTimeout ограничивает запись одного кадра в сокет.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// New создаёт сервер и регистрирует маршруты.
func New(registry *hub.Registry, subs *subscription.Manager, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		E:            e,
		registry:     registry,
		subs:         subs,
		logger:       slog.Default(),
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.stop = context.WithCancel(context.Background())

	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.httpErrorHandler
	s.registerRoutes()
	return s
}

// Run слушает addr до отмены ctx, затем останавливает сервер и закрывает WebSocket-сессии.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", addr)
		errCh <- s.E.Start(addr)
	}()

	select {
	case err := <-errCh:
		s.stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.E.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server: shutdown failed", "error", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close прерывает активные WebSocket-сессии.
func (s *Server) Close() {
	s.stop()
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// writeError отвечает JSON с кодом ошибки; статус выбирается по коду.
func (s *Server) writeError(c echo.Context, err error) error {
	code := errutil.Code(err)
	if code == "" {
		code = errutil.CodeUnknown
	}
	status := errutil.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		errutil.LogError(s.logger, "server: request failed", err, "path", c.Path())
	}
	return c.JSON(status, errorResponse{Error: code, Details: errutil.Summary(err)})
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, errorResponse{Error: errutil.CodeUnknown, Details: http.StatusText(he.Code)})
		return
	}
	_ = s.writeError(c, err)
}
