package twitch

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"github.com/samber/oops"

	"twitch-chat-relay/config"
	"twitch-chat-relay/errutil"
	"twitch-chat-relay/model"
)

const eventBuffer = 1024

// Client оборачивает go-twitch-irc: на каждую сессию создаётся новый IRC-клиент,
// а список каналов переживает переподключения.
type Client struct {
	username   string
	oauthToken string
	logger     *slog.Logger

	// configure вызывается для каждого нового IRC-клиента до Connect.
	configure func(*twitchirc.Client)

	mu       sync.Mutex
	channels map[string]struct{}
	irc      *twitchirc.Client
}

// Option настраивает Client.
type Option func(*Client)

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithIRCOptions позволяет поменять адрес сервера, TLS и т.п.
func WithIRCOptions(fn func(*twitchirc.Client)) Option {
	return func(c *Client) { c.configure = fn }
}

// NewClient создаёт клиента. Без логина и токена подключение анонимное.
func NewClient(cfg config.TwitchConfig, opts ...Option) *Client {
	c := &Client{
		username:   cfg.Username,
		oauthToken: cfg.OAuthToken,
		logger:     slog.Default(),
		channels:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join добавляет канал; в активной сессии JOIN уходит сразу, иначе при следующем подключении.
func (c *Client) Join(ctx context.Context, channel string) error {
	ch, err := validateChannel(channel)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return oops.Code(errutil.CodeTransport).With("channel", ch).Wrapf(err, "join")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch] = struct{}{}
	if c.irc != nil {
		c.irc.Join(ch)
	}
	c.logger.Info("twitch: join", "channel", ch)
	return nil
}

// Part удаляет канал из списка и отправляет PART в активной сессии.
func (c *Client) Part(ctx context.Context, channel string) error {
	ch, err := validateChannel(channel)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return oops.Code(errutil.CodeTransport).With("channel", ch).Wrapf(err, "part")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, ch)
	if c.irc != nil {
		c.irc.Depart(ch)
	}
	c.logger.Info("twitch: part", "channel", ch)
	return nil
}

// Channels возвращает отсортированный список каналов.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Stream открывает сессию. Канал событий закрывается, когда соединение оборвалось или ctx отменён;
// после этого wait возвращает причину.
func (c *Client) Stream(ctx context.Context) (events <-chan model.Event, wait func() error) {
	s := newSession(ctx.Done())
	irc := c.newIRC(s)

	c.mu.Lock()
	c.irc = irc
	for ch := range c.channels {
		irc.Join(ch)
	}
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- irc.Connect()
	}()

	var result error
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			_ = irc.Disconnect()
			<-errCh
			result = ctx.Err()
		case err := <-errCh:
			result = oops.Code(errutil.CodeTransport).Wrapf(err, "twitch: соединение завершено")
		}

		c.mu.Lock()
		if c.irc == irc {
			c.irc = nil
		}
		c.mu.Unlock()
		s.close()
	}()

	return s.events, func() error {
		<-finished
		return result
	}
}

func (c *Client) newIRC(s *session) *twitchirc.Client {
	var irc *twitchirc.Client
	if c.username == "" && c.oauthToken == "" {
		irc = twitchirc.NewAnonymousClient()
	} else {
		irc = twitchirc.NewClient(c.username, c.oauthToken)
	}
	if c.configure != nil {
		c.configure(irc)
	}

	irc.OnConnect(func() {
		c.logger.Info("twitch: подключено", "channels", c.Channels())
	})
	irc.OnReconnectMessage(func(message twitchirc.ReconnectMessage) {
		c.logger.Warn("twitch: сервер запросил RECONNECT", "raw", message.Raw)
	})
	irc.OnPrivateMessage(func(m twitchirc.PrivateMessage) {
		s.emit(toChatEvent(m))
	})
	irc.OnClearChatMessage(func(m twitchirc.ClearChatMessage) {
		s.emit(toClearChatEvent(m))
	})
	irc.OnClearMessage(func(m twitchirc.ClearMessage) {
		s.emit(model.MessageClearedEvent{
			Channel:   normalizeChannel(m.Channel),
			MessageID: m.TargetMsgID,
			UserLogin: m.Login,
		})
	})
	irc.OnNoticeMessage(func(m twitchirc.NoticeMessage) {
		s.emit(model.NoticeEvent{Notice: toNotice(m)})
	})
	return irc
}

// session — канал событий одной сессии. emit не пишет в закрытый канал
// и не блокирует IRC-клиент после отмены контекста сессии.
type session struct {
	events    chan model.Event
	done      chan struct{}
	cancelled <-chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func newSession(cancelled <-chan struct{}) *session {
	return &session{
		events:    make(chan model.Event, eventBuffer),
		done:      make(chan struct{}),
		cancelled: cancelled,
	}
}

func (s *session) emit(ev model.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	case <-s.cancelled:
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

func toChatEvent(m twitchirc.PrivateMessage) model.ChatEvent {
	sentAt := m.Time
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	return model.ChatEvent{
		Channel:         normalizeChannel(m.Channel),
		ChannelID:       m.RoomID,
		UserID:          m.User.ID,
		UserLogin:       m.User.Name,
		UserDisplayName: m.User.DisplayName,
		Badges:          parseBadges(m.Tags["badges"]),
		Color:           m.User.Color,
		Text:            m.Message,
		MessageID:       m.ID,
		SentAt:          sentAt,
	}
}

func toClearChatEvent(m twitchirc.ClearChatMessage) model.Event {
	channel := normalizeChannel(m.Channel)
	switch {
	case m.TargetUserID == "":
		return model.ChatClearedEvent{Channel: channel}
	case m.BanDuration == 0:
		return model.UserBannedEvent{Channel: channel, UserID: m.TargetUserID, UserLogin: m.TargetUsername}
	default:
		return model.UserTimedOutEvent{
			Channel:   channel,
			UserID:    m.TargetUserID,
			UserLogin: m.TargetUsername,
			Duration:  time.Duration(m.BanDuration) * time.Second,
		}
	}
}

// parseBadges сохраняет порядок значков из тега badges ("moderator/1,subscriber/12").
func parseBadges(tag string) []model.Badge {
	if tag == "" {
		return nil
	}
	parts := strings.Split(tag, ",")
	out := make([]model.Badge, 0, len(parts))
	for _, p := range parts {
		name, version, _ := strings.Cut(p, "/")
		if name == "" {
			continue
		}
		out = append(out, model.Badge{Name: name, Version: version})
	}
	return out
}

func toNotice(msg twitchirc.NoticeMessage) model.Notice {
	return model.Notice{
		Channel:  normalizeChannel(msg.Channel),
		ID:       msg.MsgID,
		Message:  msg.Message,
		Tags:     msg.Tags,
		NoticeAt: noticeTimestamp(msg.Tags),
	}
}

func noticeTimestamp(tags map[string]string) time.Time {
	if ts := tags["tmi-sent-ts"]; ts != "" {
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}

	return time.Now().UTC()
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

// validateChannel допускает логины Twitch: латиница, цифры и подчёркивание.
func validateChannel(channel string) (string, error) {
	ch := normalizeChannel(channel)
	if ch == "" || len(ch) > 25 {
		return "", oops.Code(errutil.CodeChannel).With("channel", channel).Errorf("некорректное имя канала")
	}
	for _, r := range ch {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return "", oops.Code(errutil.CodeChannel).With("channel", channel).Errorf("некорректное имя канала")
		}
	}
	return ch, nil
}
