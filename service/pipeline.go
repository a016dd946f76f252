package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/oops"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/hub"
	"twitch-chat-relay/model"
	"twitch-chat-relay/observability"
	"twitch-chat-relay/subscription"
)

// Subscribers возвращает снимок подписчиков канала.
type Subscribers interface {
	SubscribersOf(channel string) map[string]struct{}
}

// Dispatcher доставляет сообщения в соединения.
type Dispatcher interface {
	Unicast(ctx context.Context, clientID string, msg hub.Message) error
	Broadcast(ctx context.Context, msg hub.Message) int
}

// Enricher заменяет эмоуты в тексте сообщения.
type Enricher interface {
	Enrich(ctx context.Context, userLogin, channel, message string) string
}

// Archiver сохраняет сообщения и NOTICE. Ошибки архива не влияют на доставку.
type Archiver interface {
	ArchiveChat(ctx context.Context, msg model.ChatMessage)
	ArchiveNotice(ctx context.Context, notice model.Notice)
}

// Типы событий для метрик.
const (
	kindChat      = "chat"
	kindClearChat = "clear_chat"
	kindBan       = "ban"
	kindTimeout   = "timeout"
	kindClearMsg  = "clear_msg"
	kindNotice    = "notice"
	kindDropped   = "dropped"
	kindUnknown   = "unknown"
)

// Pipeline превращает события транспорта в сообщения для клиентов и рассылает их подписчикам канала.
type Pipeline struct {
	subs     Subscribers
	out      Dispatcher
	enricher Enricher
	archive  Archiver
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// PipelineOption настраивает Pipeline.
type PipelineOption func(*Pipeline)

func WithEnricher(e Enricher) PipelineOption { return func(p *Pipeline) { p.enricher = e } }

func WithArchive(a Archiver) PipelineOption { return func(p *Pipeline) { p.archive = a } }

func WithPipelineLogger(l *slog.Logger) PipelineOption { return func(p *Pipeline) { p.logger = l } }

func WithPipelineMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline собирает конвейер.
func NewPipeline(subs Subscribers, out Dispatcher, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		subs:   subs,
		out:    out,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run обрабатывает события до закрытия источника (SOURCE_CLOSED) или отмены ctx.
func (p *Pipeline) Run(ctx context.Context, events <-chan model.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return oops.Code(errutil.CodeSourceClosed).Errorf("event source closed")
			}
			p.Handle(ctx, ev)
		}
	}
}

// Handle обрабатывает одно событие. Ошибки конвертации и доставки логируются.
func (p *Pipeline) Handle(ctx context.Context, ev model.Event) {
	switch e := ev.(type) {
	case model.ChatEvent:
		p.handleChat(ctx, e)
	case model.ChatClearedEvent:
		p.metrics.ObserveEvent(kindClearChat)
		p.dispatchInstruction(ctx, e.Channel, model.MsgTypeClearChat, model.SubtypeClearChat, "")
	case model.UserBannedEvent:
		p.metrics.ObserveEvent(kindBan)
		p.dispatchInstruction(ctx, e.Channel, model.MsgTypeClearChat, model.SubtypeRemoveUserMessages, e.UserID)
	case model.UserTimedOutEvent:
		p.metrics.ObserveEvent(kindTimeout)
		p.dispatchInstruction(ctx, e.Channel, model.MsgTypeClearChat, model.SubtypeRemoveUserMessages, e.UserID)
	case model.MessageClearedEvent:
		p.metrics.ObserveEvent(kindClearMsg)
		p.dispatchInstruction(ctx, e.Channel, model.MsgTypeClearMsg, model.SubtypeSingle, e.MessageID)
	case model.NoticeEvent:
		p.metrics.ObserveEvent(kindNotice)
		p.logger.Warn("pipeline: notice", "channel", e.Notice.Channel, "msg_id", e.Notice.ID, "message", e.Notice.Message)
		if p.archive != nil {
			p.archive.ArchiveNotice(ctx, e.Notice)
		}
	default:
		p.metrics.ObserveEvent(kindUnknown)
		p.logger.Debug("pipeline: event ignored", "type", fmt.Sprintf("%T", ev))
	}
}

func (p *Pipeline) handleChat(ctx context.Context, ev model.ChatEvent) {
	msg, err := ToChatMessage(ev)
	if err != nil {
		p.metrics.ObserveEvent(kindDropped)
		errutil.LogError(p.logger, "pipeline: message dropped", err, "channel", ev.Channel, "message_id", ev.MessageID)
		return
	}
	p.metrics.ObserveEvent(kindChat)

	if p.archive != nil {
		p.archive.ArchiveChat(ctx, msg)
	}

	subscribers := p.subs.SubscribersOf(ev.Channel)
	if len(subscribers) == 0 {
		return
	}

	if p.enricher != nil {
		msg.Message = p.enricher.Enrich(ctx, msg.User.UserName, msg.Channel, msg.Message)
	}
	p.dispatch(ctx, ev.Channel, subscribers, msg)
}

func (p *Pipeline) dispatchInstruction(ctx context.Context, channel, msgType, subtype, associatedID string) {
	subscribers := p.subs.SubscribersOf(channel)
	if len(subscribers) == 0 {
		return
	}
	p.dispatch(ctx, channel, subscribers, model.InstructionMessage{
		MsgType:      msgType,
		MsgSubtype:   subtype,
		AssociatedID: associatedID,
	})
}

// dispatch: подписчик global означает рассылку всем соединениям, иначе unicast каждому id.
func (p *Pipeline) dispatch(ctx context.Context, channel string, subscribers map[string]struct{}, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("pipeline: encode failed", "channel", channel, "error", err)
		return
	}
	msg := hub.Text(string(data))

	if _, ok := subscribers[subscription.Global]; ok {
		p.out.Broadcast(ctx, msg)
		return
	}

	ids := make([]string, 0, len(subscribers))
	for id := range subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := p.out.Unicast(ctx, id, msg); err != nil {
			errutil.LogError(p.logger, "pipeline: delivery failed", err, "channel", channel, "client_id", id)
		}
	}
}

// ToChatMessage нормализует сообщение чата. Без id или логина отправителя сообщение некорректно.
// Если цвет не задан или не разбирается, он выводится из логина.
func ToChatMessage(ev model.ChatEvent) (model.ChatMessage, error) {
	if ev.UserID == "" || ev.UserLogin == "" {
		return model.ChatMessage{}, oops.
			With("channel", ev.Channel, "user_id", ev.UserID, "user_login", ev.UserLogin).
			Errorf("malformed sender")
	}

	color, ok := model.ParseHexColor(ev.Color)
	if !ok {
		color = model.ColorFor(ev.UserLogin)
	}

	displayName := ev.UserDisplayName
	if displayName == "" {
		displayName = ev.UserLogin
	}

	badges := ev.Badges
	if badges == nil {
		badges = []model.Badge{}
	}

	sentAt := ev.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	return model.ChatMessage{
		MsgType:   model.MsgTypePrivmsg,
		Channel:   ev.Channel,
		ChannelID: ev.ChannelID,
		User: model.ChatUser{
			UserID:      ev.UserID,
			UserName:    ev.UserLogin,
			DisplayName: displayName,
		},
		UserBadges:      badges,
		NicknameColor:   color,
		Message:         ev.Text,
		MessageID:       ev.MessageID,
		ServerTimestamp: sentAt.UTC().Format(time.RFC3339),
		SentAt:          sentAt,
	}, nil
}
