package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"twitch-chat-relay/model"
	"twitch-chat-relay/subscription"
)

type session func(ctx context.Context, out chan<- model.Event)

type stubUpstream struct {
	mu       sync.Mutex
	sessions []session
	opened   int
}

func (u *stubUpstream) Stream(ctx context.Context) (<-chan model.Event, func() error) {
	u.mu.Lock()
	var script session
	if u.opened < len(u.sessions) {
		script = u.sessions[u.opened]
	}
	u.opened++
	u.mu.Unlock()

	events := make(chan model.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(events)
		if script != nil {
			script(ctx, events)
		}
	}()
	return events, func() error {
		<-done
		return errors.New("connection reset")
	}
}

func (u *stubUpstream) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.opened
}

func TestServiceReconnectsAfterSessionLoss(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.subs.Subscribe(ctx, "forsen", subscription.Global))
	c := f.registry.Register("c", "id-c")

	upstream := &stubUpstream{sessions: []session{
		func(context.Context, chan<- model.Event) {},
		func(ctx context.Context, out chan<- model.Event) {
			select {
			case out <- chatEvent("forsen", "after reconnect"):
			case <-ctx.Done():
				return
			}
			<-ctx.Done()
		},
	}}

	svc := New(upstream, f.pipeline, WithLogger(quietLogger()), WithBackoff(time.Millisecond, 5*time.Millisecond, time.Minute))
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	var got model.ChatMessage
	require.NoError(t, json.Unmarshal([]byte(receive(t, c)), &got))
	assert.Equal(t, "after reconnect", got.Message)
	assert.Equal(t, 2, upstream.count())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}

func TestServiceBackoffIsCapped(t *testing.T) {
	svc := New(nil, nil, WithBackoff(10*time.Millisecond, 30*time.Millisecond, time.Minute))
	b := svc.newBackoff()

	var got []time.Duration
	for range 4 {
		d, stop := b.Next()
		require.False(t, stop)
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 30 * time.Millisecond}, got)
}
