// Package service связывает чат-транспорт с конвейером доставки и переподключается при обрыве.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/model"
	"twitch-chat-relay/observability"
)

// Upstream открывает сессию чат-транспорта. Канал закрывается с концом сессии, wait возвращает причину.
type Upstream interface {
	Stream(ctx context.Context) (events <-chan model.Event, wait func() error)
}

// Service управляет жизненным циклом сессий транспорта и конвейером.
type Service struct {
	upstream    Upstream
	pipeline    *Pipeline
	logger      *slog.Logger
	metrics     *observability.Metrics
	backoffBase time.Duration
	backoffMax  time.Duration
	stableAfter time.Duration
}

// Option настраивает Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithBackoff задаёт экспоненциальную задержку переподключения и длительность сессии,
// после которой задержка сбрасывается.
func WithBackoff(base, maxDelay, stableAfter time.Duration) Option {
	return func(s *Service) {
		if base > 0 {
			s.backoffBase = base
		}
		if maxDelay >= s.backoffBase {
			s.backoffMax = maxDelay
		}
		if stableAfter > 0 {
			s.stableAfter = stableAfter
		}
	}
}

// New создаёт Service с уже собранными транспортом и конвейером.
func New(upstream Upstream, pipeline *Pipeline, opts ...Option) *Service {
	s := &Service{
		upstream:    upstream,
		pipeline:    pipeline,
		logger:      slog.Default(),
		backoffBase: time.Second,
		backoffMax:  time.Minute,
		stableAfter: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run открывает сессии одну за другой и блокируется до отмены контекста.
func (s *Service) Run(ctx context.Context) error {
	backoff := s.newBackoff()

	for attempt := 1; ; attempt++ {
		started := time.Now()
		events, wait := s.upstream.Stream(ctx)

		runErr := s.pipeline.Run(ctx, events)
		sessionErr := wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lasted := time.Since(started)
		if lasted >= s.stableAfter {
			s.metrics.ObserveSession(observability.ResultOK)
			backoff = s.newBackoff()
		} else {
			s.metrics.ObserveSession(observability.ResultFailed)
		}

		delay, _ := backoff.Next()
		errutil.LogError(s.logger, "service: сессия twitch завершена, переподключение", firstErr(sessionErr, runErr),
			"attempt", attempt, "lasted", lasted, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(s.backoffMax, retry.NewExponential(s.backoffBase))
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
