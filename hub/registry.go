// Package hub хранит живые клиентские соединения и доставляет им сообщения.
package hub

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/observability"
)

const (
	DefaultQueueSize   = 100
	DefaultSendTimeout = 5 * time.Second
)

// SubscriptionRemover снимает все подписки клиента при его удалении из реестра.
type SubscriptionRemover interface {
	RemoveSubscriber(ctx context.Context, subscriber string)
}

// Registry — реестр соединений: client id → клиент и display name → client ids.
// Все поля под одним мьютексом; доставка идёт по снимку, вне блокировки.
type Registry struct {
	subs        SubscriptionRemover
	logger      *slog.Logger
	metrics     *observability.Metrics
	queueSize   int
	sendTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*Client
	order   []string
	users   map[string][]string
}

// Option настраивает Registry.
type Option func(*Registry)

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

func WithMetrics(m *observability.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// WithQueueSize задаёт ёмкость исходящей очереди каждого соединения.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithSendTimeout ограничивает ожидание места в очереди при доставке.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(subs SubscriptionRemover, opts ...Option) *Registry {
	r := &Registry{
		subs:        subs,
		logger:      slog.Default(),
		queueSize:   DefaultQueueSize,
		sendTimeout: DefaultSendTimeout,
		clients:     make(map[string]*Client),
		users:       make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register добавляет соединение. Один display name может иметь несколько соединений (вкладки).
func (r *Registry) Register(displayName, clientID string) *Client {
	c := newClient(clientID, displayName, r.queueSize)

	r.mu.Lock()
	if _, exists := r.clients[clientID]; !exists {
		r.order = append(r.order, clientID)
	}
	r.clients[clientID] = c
	r.users[displayName] = append(r.users[displayName], clientID)
	total := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetConnections(total)
	r.logger.Debug("hub: connection registered", "display_name", displayName, "client_id", clientID, "total", total)
	return c
}

// Unregister удаляет все соединения с этим display name, закрывает их очереди
// и снимает подписки каждого удалённого клиента. Возвращает удалённые id.
func (r *Registry) Unregister(ctx context.Context, displayName string) []string {
	r.mu.Lock()
	ids := r.users[displayName]
	delete(r.users, displayName)

	removed := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.clients[id]; ok {
			delete(r.clients, id)
			removed = append(removed, c)
		}
	}
	if len(removed) > 0 {
		r.order = slices.DeleteFunc(r.order, func(id string) bool {
			_, ok := r.clients[id]
			return !ok
		})
	}
	total := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetConnections(total)

	out := make([]string, 0, len(removed))
	for _, c := range removed {
		c.close()
		if r.subs != nil {
			r.subs.RemoveSubscriber(ctx, c.ID)
		}
		out = append(out, c.ID)
	}

	if len(out) > 0 {
		r.logger.Debug("hub: connections removed", "display_name", displayName, "client_ids", out, "total", total)
	}
	return out
}

// Unicast доставляет сообщение одному соединению.
func (r *Registry) Unicast(ctx context.Context, clientID string, msg Message) error {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	r.mu.Unlock()

	if !ok {
		err := oops.Code(errutil.CodeConnectionNotFound).
			With("client_id", clientID).
			Errorf("connection %s not found", clientID)
		r.metrics.ObserveDelivery("unicast", err)
		return err
	}

	err := c.deliver(ctx, msg, r.sendTimeout)
	r.metrics.ObserveDelivery("unicast", err)
	return err
}

// MulticastByName доставляет сообщение всем соединениям пользователя по порядку.
// Первая неудачная доставка прерывает рассылку и возвращается вызывающему.
func (r *Registry) MulticastByName(ctx context.Context, displayName string, msg Message) error {
	r.mu.Lock()
	ids, ok := r.users[displayName]
	targets := make([]*Client, 0, len(ids))
	var missing string
	for _, id := range ids {
		c, found := r.clients[id]
		if !found {
			missing = id
			break
		}
		targets = append(targets, c)
	}
	r.mu.Unlock()

	if !ok || len(ids) == 0 {
		return oops.Code(errutil.CodeUserNotFound).
			With("display_name", displayName).
			Errorf("no connections for %s", displayName)
	}

	for _, c := range targets {
		if err := c.deliver(ctx, msg, r.sendTimeout); err != nil {
			r.metrics.ObserveDelivery("multicast", err)
			return oops.With("display_name", displayName).Wrapf(err, "multicast")
		}
		r.metrics.ObserveDelivery("multicast", nil)
	}

	if missing != "" {
		return oops.Code(errutil.CodeConnectionNotFound).
			With("display_name", displayName, "client_id", missing).
			Errorf("connection %s not found", missing)
	}
	return nil
}

// Broadcast доставляет сообщение каждому соединению в порядке регистрации.
// Ошибка одного соединения логируется и не прерывает рассылку. Возвращает число успешных доставок.
func (r *Registry) Broadcast(ctx context.Context, msg Message) int {
	targets := r.snapshot()

	r.logger.Debug("hub: broadcasting", "recipients", len(targets))

	delivered := 0
	for _, c := range targets {
		err := c.deliver(ctx, msg, r.sendTimeout)
		r.metrics.ObserveDelivery("broadcast", err)
		if err != nil {
			errutil.LogError(r.logger, "hub: broadcast delivery failed", err, "client_id", c.ID)
			continue
		}
		delivered++
	}
	return delivered
}

// Len возвращает число зарегистрированных соединений.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// ClientIDs возвращает id соединений пользователя в порядке регистрации.
func (r *Registry) ClientIDs(displayName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.users[displayName])
}

func (r *Registry) snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.order))
	for _, id := range r.order {
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
