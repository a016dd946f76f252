package subscription

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-relay/errutil"
)

type stubTransport struct {
	mu        sync.Mutex
	joins     []string
	parts     []string
	joinErrs  []error
	partErr   error
	joinCalls int
}

func (s *stubTransport) Join(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinCalls++
	if len(s.joinErrs) > 0 {
		err := s.joinErrs[0]
		s.joinErrs = s.joinErrs[1:]
		if err != nil {
			return err
		}
	}
	s.joins = append(s.joins, channel)
	return nil
}

func (s *stubTransport) Part(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, channel)
	return s.partErr
}

func TestSubscribeJoinsOncePerTransition(t *testing.T) {
	tr := &stubTransport{}
	m := NewManager(tr)
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "foo", "c1"))
	require.NoError(t, m.Subscribe(ctx, "foo", "c1"))
	require.NoError(t, m.Subscribe(ctx, "#FOO", "c2"))

	assert.Equal(t, []string{"foo"}, tr.joins)
	assert.Equal(t, map[string]struct{}{"c1": {}, "c2": {}}, m.SubscribersOf("foo"))

	m.Unsubscribe(ctx, "foo", "c1")
	assert.Empty(t, tr.parts)

	m.Unsubscribe(ctx, "foo", "c2")
	m.Unsubscribe(ctx, "foo", "c2")
	assert.Equal(t, []string{"foo"}, tr.parts)
	assert.Empty(t, m.SubscribersOf("foo"))
	assert.Empty(t, m.ChannelsOf("c1"))

	require.NoError(t, m.Subscribe(ctx, "foo", "c3"))
	assert.Equal(t, []string{"foo", "foo"}, tr.joins)
}

func TestSubscribeValidatesInput(t *testing.T) {
	m := NewManager(&stubTransport{})

	errutil.AssertErrorCode(t, m.Subscribe(context.Background(), " # ", "c1"), errutil.CodeChannel)
	errutil.AssertErrorCode(t, m.Subscribe(context.Background(), "foo", ""), errutil.CodeChannel)
}

func TestJoinFailureKeepsSubscription(t *testing.T) {
	tr := &stubTransport{joinErrs: []error{errors.New("not connected")}}
	m := NewManager(tr)

	err := m.Subscribe(context.Background(), "foo", Global)

	errutil.AssertErrorCode(t, err, errutil.CodeTransport)
	assert.Contains(t, m.SubscribersOf("foo"), Global)
	assert.Contains(t, m.ChannelsOf(Global), "foo")
}

func TestJoinIsRetriedOnTransportError(t *testing.T) {
	tr := &stubTransport{joinErrs: []error{errors.New("timeout"), errors.New("timeout")}}
	m := NewManager(tr, WithJoinRetry(3, time.Millisecond))

	require.NoError(t, m.Subscribe(context.Background(), "foo", "c1"))
	assert.Equal(t, 3, tr.joinCalls)
	assert.Equal(t, []string{"foo"}, tr.joins)
}

func TestJoinRetryGivesUp(t *testing.T) {
	tr := &stubTransport{joinErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	m := NewManager(tr, WithJoinRetry(2, time.Millisecond))

	err := m.Subscribe(context.Background(), "foo", "c1")
	errutil.AssertErrorCode(t, err, errutil.CodeTransport)
	assert.Equal(t, 3, tr.joinCalls)
}

func TestChannelErrorIsNotRetried(t *testing.T) {
	tr := &stubTransport{joinErrs: []error{oops.Code(errutil.CodeChannel).Errorf("bad name")}}
	m := NewManager(tr, WithJoinRetry(3, time.Millisecond))

	err := m.Subscribe(context.Background(), "foo", "c1")
	errutil.AssertErrorCode(t, err, errutil.CodeChannel)
	assert.Equal(t, 1, tr.joinCalls)
}

func TestPartFailureIsSwallowed(t *testing.T) {
	tr := &stubTransport{partErr: errors.New("gone")}
	m := NewManager(tr)
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "foo", "c1"))
	m.Unsubscribe(ctx, "foo", "c1")

	assert.Equal(t, []string{"foo"}, tr.parts)
	assert.Empty(t, m.Channels())
}

func TestRemoveSubscriber(t *testing.T) {
	tr := &stubTransport{}
	m := NewManager(tr)
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "foo", "c1"))
	require.NoError(t, m.Subscribe(ctx, "bar", "c1"))
	require.NoError(t, m.Subscribe(ctx, "bar", "c2"))

	m.RemoveSubscriber(ctx, "c1")

	assert.Empty(t, m.ChannelsOf("c1"))
	assert.NotContains(t, m.SubscribersOf("foo"), "c1")
	assert.NotContains(t, m.SubscribersOf("bar"), "c1")
	assert.Equal(t, []string{"foo"}, tr.parts)
	assert.Equal(t, []string{"bar"}, m.Channels())
}

func TestSnapshotsAreCopies(t *testing.T) {
	m := NewManager(&stubTransport{})
	require.NoError(t, m.Subscribe(context.Background(), "foo", "c1"))

	snap := m.SubscribersOf("foo")
	delete(snap, "c1")

	assert.Contains(t, m.SubscribersOf("foo"), "c1")
	assert.Empty(t, m.SubscribersOf("unknown"))
}

func TestIndexesStayConsistent(t *testing.T) {
	tr := &stubTransport{}
	m := NewManager(tr)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	channels := []string{"a", "b", "c"}
	subscribers := []string{"s1", "s2", "s3", Global}
	active := map[string]int{}

	for i := 0; i < 500; i++ {
		ch := channels[rng.Intn(len(channels))]
		sub := subscribers[rng.Intn(len(subscribers))]
		switch rng.Intn(3) {
		case 0:
			require.NoError(t, m.Subscribe(ctx, ch, sub))
		case 1:
			m.Unsubscribe(ctx, ch, sub)
		default:
			m.RemoveSubscriber(ctx, sub)
		}

		for _, c := range channels {
			for s := range m.SubscribersOf(c) {
				assert.Contains(t, m.ChannelsOf(s), c, fmt.Sprintf("step %d", i))
			}
		}
		for _, s := range subscribers {
			for c := range m.ChannelsOf(s) {
				assert.Contains(t, m.SubscribersOf(c), s, fmt.Sprintf("step %d", i))
			}
		}
	}

	for _, j := range tr.joins {
		active[j]++
	}
	for _, p := range tr.parts {
		active[p]--
	}
	for _, c := range channels {
		expected := 0
		if len(m.SubscribersOf(c)) > 0 {
			expected = 1
		}
		assert.Equal(t, expected, active[c], "joins minus parts for %s", c)
	}
}
