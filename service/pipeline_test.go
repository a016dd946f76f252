package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/hub"
	"twitch-chat-relay/model"
	"twitch-chat-relay/subscription"
)

type noopTransport struct{}

func (noopTransport) Join(context.Context, string) error { return nil }
func (noopTransport) Part(context.Context, string) error { return nil }

type kappaEnricher struct{}

func (kappaEnricher) Enrich(_ context.Context, _, _, message string) string {
	if message == "hello Kappa" {
		return "hello <!25:u1:Kappa>"
	}
	return message
}

type stubArchive struct {
	mu      sync.Mutex
	chats   []model.ChatMessage
	notices []model.Notice
}

func (a *stubArchive) ArchiveChat(_ context.Context, msg model.ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chats = append(a.chats, msg)
}

func (a *stubArchive) ArchiveNotice(_ context.Context, n model.Notice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notices = append(a.notices, n)
}

type fixture struct {
	subs     *subscription.Manager
	registry *hub.Registry
	pipeline *Pipeline
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(opts ...PipelineOption) *fixture {
	subs := subscription.NewManager(noopTransport{}, subscription.WithLogger(quietLogger()))
	registry := hub.NewRegistry(subs, hub.WithLogger(quietLogger()), hub.WithSendTimeout(20*time.Millisecond))
	opts = append([]PipelineOption{WithPipelineLogger(quietLogger())}, opts...)
	return &fixture{
		subs:     subs,
		registry: registry,
		pipeline: NewPipeline(subs, registry, opts...),
	}
}

func chatEvent(channel, text string) model.ChatEvent {
	return model.ChatEvent{
		Channel:         channel,
		ChannelID:       "11",
		UserID:          "42",
		UserLogin:       "alice",
		UserDisplayName: "Alice",
		Badges:          []model.Badge{{Name: "moderator", Version: "1"}},
		Color:           "#FF0000",
		Text:            text,
		MessageID:       "msg-1",
		SentAt:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func receive(t *testing.T, c *hub.Client) string {
	t.Helper()
	select {
	case msg := <-c.Queue():
		return msg.Text
	case <-time.After(time.Second):
		t.Fatalf("no message for %s", c.ID)
		return ""
	}
}

func assertEmpty(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case msg := <-c.Queue():
		t.Fatalf("unexpected message for %s: %s", c.ID, msg.Text)
	default:
	}
}

func TestGlobalSubscriberReceivesEveryClient(t *testing.T) {
	f := newFixture(WithEnricher(kappaEnricher{}))
	ctx := context.Background()
	require.NoError(t, f.subs.Subscribe(ctx, "forsen", subscription.Global))

	a := f.registry.Register("a", "id-a")
	b := f.registry.Register("b", "id-b")

	f.pipeline.Handle(ctx, chatEvent("forsen", "hello Kappa"))

	for _, c := range []*hub.Client{a, b} {
		assert.JSONEq(t, `{
			"msgType": "PRIVMSG",
			"channel": "forsen",
			"channelId": "11",
			"user": {"userId": "42", "userName": "alice", "displayName": "Alice"},
			"userBadges": [["moderator", "1"]],
			"nicknameColor": [255, 0, 0],
			"message": "hello <!25:u1:Kappa>",
			"messageId": "msg-1",
			"serverTimestamp": "2024-05-01T12:00:00Z"
		}`, receive(t, c))
	}
}

func TestChannelSubscriberIsFiltered(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	b := f.registry.Register("b", "id-b")
	require.NoError(t, f.subs.Subscribe(ctx, "foo", b.ID))

	f.pipeline.Handle(ctx, chatEvent("bar", "not for b"))
	assertEmpty(t, b)

	f.pipeline.Handle(ctx, chatEvent("foo", "for b"))
	var got model.ChatMessage
	require.NoError(t, json.Unmarshal([]byte(receive(t, b)), &got))
	assert.Equal(t, "for b", got.Message)
}

func TestInstructions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	c := f.registry.Register("c", "id-c")
	require.NoError(t, f.subs.Subscribe(ctx, "forsen", c.ID))

	tests := []struct {
		name string
		ev   model.Event
		want string
	}{
		{"clear chat", model.ChatClearedEvent{Channel: "forsen"},
			`{"msgType":"CLEARCHAT","msgSubtype":"CLEAR_CHAT","associatedId":""}`},
		{"ban", model.UserBannedEvent{Channel: "forsen", UserID: "7"},
			`{"msgType":"CLEARCHAT","msgSubtype":"REMOVE_USER_MESSAGES","associatedId":"7"}`},
		{"timeout", model.UserTimedOutEvent{Channel: "forsen", UserID: "8", Duration: time.Minute},
			`{"msgType":"CLEARCHAT","msgSubtype":"REMOVE_USER_MESSAGES","associatedId":"8"}`},
		{"single", model.MessageClearedEvent{Channel: "forsen", MessageID: "m-9"},
			`{"msgType":"CLEARMSG","msgSubtype":"SINGLE","associatedId":"m-9"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.pipeline.Handle(ctx, tt.ev)
			assert.JSONEq(t, tt.want, receive(t, c))
		})
	}
}

func TestMalformedMessageIsDropped(t *testing.T) {
	archive := &stubArchive{}
	f := newFixture(WithArchive(archive))
	ctx := context.Background()
	c := f.registry.Register("c", "id-c")
	require.NoError(t, f.subs.Subscribe(ctx, "forsen", c.ID))

	bad := chatEvent("forsen", "broken")
	bad.UserID = ""
	f.pipeline.Handle(ctx, bad)
	assertEmpty(t, c)

	f.pipeline.Handle(ctx, chatEvent("forsen", "fine"))
	receive(t, c)
	assert.Len(t, archive.chats, 1)
}

func TestNoticeIsNotDispatched(t *testing.T) {
	archive := &stubArchive{}
	f := newFixture(WithArchive(archive))
	ctx := context.Background()
	c := f.registry.Register("c", "id-c")
	require.NoError(t, f.subs.Subscribe(ctx, "forsen", subscription.Global))

	f.pipeline.Handle(ctx, model.NoticeEvent{Notice: model.Notice{Channel: "forsen", ID: "msg_channel_suspended"}})

	assertEmpty(t, c)
	require.Len(t, archive.notices, 1)
	assert.Equal(t, "msg_channel_suspended", archive.notices[0].ID)
}

func TestDeliveryFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.subs.Subscribe(ctx, "forsen", "ghost"))
	c := f.registry.Register("c", "id-c")
	require.NoError(t, f.subs.Subscribe(ctx, "forsen", c.ID))

	f.pipeline.Handle(ctx, chatEvent("forsen", "still delivered"))

	receive(t, c)
}

func TestToChatMessageColor(t *testing.T) {
	ev := chatEvent("forsen", "hi")
	ev.Color = ""
	ev.UserDisplayName = ""
	ev.Badges = nil

	msg, err := ToChatMessage(ev)
	require.NoError(t, err)
	assert.Equal(t, model.ColorFor("alice"), msg.NicknameColor)
	assert.Equal(t, "alice", msg.User.DisplayName)
	assert.NotNil(t, msg.UserBadges)

	ev.UserLogin = ""
	_, err = ToChatMessage(ev)
	assert.Error(t, err)
}

func TestRunStopsWhenSourceCloses(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	events := make(chan model.Event, 1)
	events <- model.ChatClearedEvent{Channel: "nobody"}
	close(events)

	err := f.pipeline.Run(context.Background(), events)
	errutil.AssertErrorCode(t, err, errutil.CodeSourceClosed)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pipeline.Run(ctx, make(chan model.Event)) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop")
	}
}
