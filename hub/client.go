package hub

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"twitch-chat-relay/errutil"
)

// Kind задаёт тип кадра, уходящего клиенту.
type Kind int

const (
	KindText Kind = iota
	KindBinary
)

// Message доставляется в соединение как текстовый или бинарный кадр.
type Message struct {
	Kind Kind
	Text string
	Data []byte
}

// Text создаёт текстовое сообщение.
func Text(s string) Message { return Message{Kind: KindText, Text: s} }

// Binary создаёт бинарное сообщение.
func Binary(b []byte) Message { return Message{Kind: KindBinary, Data: b} }

// Client — зарегистрированное соединение и его исходящая очередь.
// Очередью владеет Registry: только он её закрывает.
type Client struct {
	ID          string
	DisplayName string

	queue  chan Message
	mu     sync.RWMutex
	closed bool
}

func newClient(id, displayName string, size int) *Client {
	return &Client{
		ID:          id,
		DisplayName: displayName,
		queue:       make(chan Message, size),
	}
}

// Queue возвращает исходящую очередь; канал закрывается при удалении клиента из реестра.
func (c *Client) Queue() <-chan Message {
	return c.queue
}

// deliver кладёт сообщение в очередь, ожидая не дольше timeout.
// Read-lock удерживается на время отправки, поэтому close не закроет канал посреди записи.
func (c *Client) deliver(ctx context.Context, msg Message, timeout time.Duration) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return oops.Code(errutil.CodeConnectionClosed).
			With("client_id", c.ID).
			Errorf("connection %s is closed", c.ID)
	}

	select {
	case c.queue <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.queue <- msg:
		return nil
	case <-timer.C:
		return oops.Code(errutil.CodeQueueFull).
			With("client_id", c.ID, "timeout", timeout).
			Errorf("outbound queue of %s is full", c.ID)
	case <-ctx.Done():
		return oops.With("client_id", c.ID).Wrapf(ctx.Err(), "deliver")
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}
