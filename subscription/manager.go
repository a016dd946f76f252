// Package subscription ведёт двунаправленный индекс канал ↔ подписчик и
// входит в канал/выходит из него у чат-транспорта при смене пустоты набора.
package subscription

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/observability"
)

// Global — зарезервированный подписчик «все подключённые клиенты».
const Global = "global"

// Transport — вход и выход из канала у внешнего чата.
// Join обязан завершиться успешно, ошибка Part только логируется.
type Transport interface {
	Join(ctx context.Context, channel string) error
	Part(ctx context.Context, channel string) error
}

// Manager хранит подписки под одним мьютексом. Вызовы транспорта делаются
// под тем же мьютексом, так что join и part одного канала не переупорядочиваются.
type Manager struct {
	transport   Transport
	logger      *slog.Logger
	metrics     *observability.Metrics
	joinRetries uint64
	joinBackoff time.Duration

	mu          sync.Mutex
	channels    map[string]map[string]struct{}
	subscribers map[string]map[string]struct{}
}

// Option настраивает Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithMetrics(mt *observability.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithJoinRetry включает повтор join при TRANSPORT_ERROR с экспоненциальной задержкой.
func WithJoinRetry(retries uint64, base time.Duration) Option {
	return func(m *Manager) {
		m.joinRetries = retries
		m.joinBackoff = base
	}
}

// NewManager создаёт менеджер подписок поверх транспорта.
func NewManager(transport Transport, opts ...Option) *Manager {
	m := &Manager{
		transport:   transport,
		logger:      slog.Default(),
		joinBackoff: 200 * time.Millisecond,
		channels:    make(map[string]map[string]struct{}),
		subscribers: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NormalizeChannel приводит имя канала к логину Twitch: без '#', в нижнем регистре.
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}

// Subscribe идемпотентно добавляет подписку. Для первого подписчика канала выполняется join;
// ошибка join возвращается, но подписка остаётся — снимать её должен вызывающий.
func (m *Manager) Subscribe(ctx context.Context, channel, subscriber string) error {
	channel = NormalizeChannel(channel)
	if channel == "" || subscriber == "" {
		return oops.Code(errutil.CodeChannel).
			With("channel", channel, "subscriber", subscriber).
			Errorf("channel and subscriber are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.channels[channel]
	if !ok {
		subs = make(map[string]struct{})
		m.channels[channel] = subs
	}
	if _, already := subs[subscriber]; already {
		return nil
	}
	subs[subscriber] = struct{}{}
	addTo(m.subscribers, subscriber, channel)
	m.metrics.SetSubscribedChannels(len(m.channels))

	if len(subs) != 1 {
		return nil
	}

	m.logger.Info("subscription: joining channel", "channel", channel, "subscriber", subscriber)
	if err := m.join(ctx, channel); err != nil {
		return oops.With("channel", channel, "subscriber", subscriber).Wrapf(err, "join")
	}
	return nil
}

// Unsubscribe идемпотентно снимает подписку; когда канал пустеет, выполняется part.
func (m *Manager) Unsubscribe(ctx context.Context, channel, subscriber string) {
	channel = NormalizeChannel(channel)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.remove(ctx, channel, subscriber)
	removeFrom(m.subscribers, subscriber, channel)
	m.metrics.SetSubscribedChannels(len(m.channels))
}

// RemoveSubscriber снимает подписчика со всех каналов; опустевшие каналы покидаются.
func (m *Manager) RemoveSubscriber(ctx context.Context, subscriber string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	channels := m.subscribers[subscriber]
	delete(m.subscribers, subscriber)
	for channel := range channels {
		m.remove(ctx, channel, subscriber)
	}
	m.metrics.SetSubscribedChannels(len(m.channels))
}

// SubscribersOf возвращает копию набора подписчиков канала; для неизвестного канала — пустой набор.
func (m *Manager) SubscribersOf(channel string) map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySet(m.channels[NormalizeChannel(channel)])
}

// ChannelsOf возвращает копию набора каналов подписчика.
func (m *Manager) ChannelsOf(subscriber string) map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySet(m.subscribers[subscriber])
}

// Channels возвращает отсортированный список каналов, у которых есть подписчики.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.channels))
	for channel := range m.channels {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

// remove убирает подписчика из набора канала; вызывается под m.mu.
func (m *Manager) remove(ctx context.Context, channel, subscriber string) {
	subs, ok := m.channels[channel]
	if !ok {
		return
	}
	if _, present := subs[subscriber]; !present {
		return
	}
	delete(subs, subscriber)
	if len(subs) > 0 {
		return
	}

	delete(m.channels, channel)
	m.logger.Info("subscription: leaving channel", "channel", channel)
	if err := m.transport.Part(ctx, channel); err != nil {
		m.logger.Warn("subscription: part failed", "channel", channel, "error", err)
	}
}

func (m *Manager) join(ctx context.Context, channel string) error {
	if m.joinRetries == 0 {
		return m.joinOnce(ctx, channel)
	}

	backoff := retry.WithMaxRetries(m.joinRetries, retry.NewExponential(m.joinBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := m.joinOnce(ctx, channel)
		if errutil.Is(err, errutil.CodeTransport) {
			m.logger.Warn("subscription: join failed, retrying", "channel", channel, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (m *Manager) joinOnce(ctx context.Context, channel string) error {
	err := m.transport.Join(ctx, channel)
	if err != nil && errutil.Code(err) == "" {
		err = oops.Code(errutil.CodeTransport).With("channel", channel).Wrap(err)
	}
	return err
}

func addTo(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[value] = struct{}{}
}

func removeFrom(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(index, key)
	}
}

func copySet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}
