// Package emote находит эмоуты в тексте сообщений и заменяет их встроенной разметкой.
package emote

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"twitch-chat-relay/observability"
)

// Emote — эмоут одного из источников. Идентичность — пара (Source, ID).
type Emote struct {
	Source string
	ID     string
	Name   string
	// Channel — область, которой принадлежит эмоут: "global", канал или пользователь.
	Channel string
	Effect  *int64
	URLs    []string
}

// Tag формирует разметку <!id[:urls][:effect][:name]>.
func (e Emote) Tag() string {
	var b strings.Builder
	b.WriteString("<!")
	b.WriteString(e.ID)
	if len(e.URLs) > 0 {
		b.WriteByte(':')
		b.WriteString(strings.Join(e.URLs, ","))
	}
	if e.Effect != nil {
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(*e.Effect, 10))
	}
	if e.Name != "" {
		b.WriteByte(':')
		b.WriteString(e.Name)
	}
	b.WriteByte('>')
	return b.String()
}

// Provider отдаёт эмоуты одного источника и держит свой кеш.
type Provider interface {
	// Name используется в логах и метриках.
	Name() string
	// Fetch обновляет глобальные наборы; повторный вызов безопасен.
	Fetch(ctx context.Context) error
	// Lookup ищет токен в глобальном наборе, затем в наборе канала, затем в наборах пользователя.
	Lookup(ctx context.Context, userLogin, channel, token string) (Emote, bool)
}

// Engine опрашивает провайдеров по порядку; первое совпадение выигрывает.
type Engine struct {
	providers []Provider
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Option настраивает Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithProvider добавляет провайдера в конец списка.
func WithProvider(p Provider) Option {
	return func(e *Engine) { e.providers = append(e.providers, p) }
}

// NewEngine создаёт движок замены эмоутов.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Providers возвращает имена провайдеров в порядке опроса.
func (e *Engine) Providers() []string {
	names := make([]string, 0, len(e.providers))
	for _, p := range e.providers {
		names = append(names, p.Name())
	}
	return names
}

// Lookup возвращает первое совпадение среди провайдеров.
func (e *Engine) Lookup(ctx context.Context, userLogin, channel, token string) (Emote, bool) {
	for _, p := range e.providers {
		if em, ok := p.Lookup(ctx, userLogin, channel, token); ok {
			return em, true
		}
	}
	return Emote{}, false
}

// Enrich заменяет найденные эмоуты разметкой. Замена подстрочная, а не по границам слов:
// токен-эмоут внутри более длинного слова тоже будет заменён.
func (e *Engine) Enrich(ctx context.Context, userLogin, channel, message string) string {
	if len(e.providers) == 0 {
		return message
	}

	found := make(map[string]Emote)
	missed := make(map[string]struct{})
	var tokens []string

	for _, word := range strings.Fields(message) {
		if _, ok := found[word]; ok {
			continue
		}
		if _, ok := missed[word]; ok {
			continue
		}
		em, ok := e.Lookup(ctx, userLogin, channel, word)
		if !ok {
			missed[word] = struct{}{}
			continue
		}
		found[word] = em
		tokens = append(tokens, word)
	}

	if len(tokens) == 0 {
		return message
	}

	// Длинные токены первыми, чтобы в одной позиции выигрывало более длинное совпадение.
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })

	pairs := make([]string, 0, 2*len(tokens))
	for _, token := range tokens {
		em := found[token]
		pairs = append(pairs, token, em.Tag())
		e.metrics.ObserveEmote(em.Source)
	}
	return strings.NewReplacer(pairs...).Replace(message)
}

// Refresh вызывает Fetch у каждого провайдера; ошибки не прерывают обход.
func (e *Engine) Refresh(ctx context.Context) error {
	var errs []error
	for _, p := range e.providers {
		if err := p.Fetch(ctx); err != nil {
			e.logger.Warn("emote: fetch failed", "provider", p.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		e.logger.Info("emote: global sets loaded", "provider", p.Name())
	}
	return errors.Join(errs...)
}

// RunRefresher периодически обновляет глобальные наборы до отмены контекста.
func (e *Engine) RunRefresher(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = e.Refresh(ctx)
		}
	}
}
