package model

import "time"

// Event — событие из потока чат-транспорта.
type Event interface {
	EventChannel() string
}

// ChatEvent — текстовое сообщение чата в том виде, в котором его отдаёт транспорт.
type ChatEvent struct {
	Channel         string
	ChannelID       string
	UserID          string
	UserLogin       string
	UserDisplayName string
	Badges          []Badge
	// Color пустой, если пользователь не выбрал цвет.
	Color     string
	Text      string
	MessageID string
	SentAt    time.Time
}

// ChatClearedEvent: модератор очистил весь чат.
type ChatClearedEvent struct {
	Channel string
}

// UserBannedEvent: пользователь забанен.
type UserBannedEvent struct {
	Channel   string
	UserID    string
	UserLogin string
}

// UserTimedOutEvent: пользователь получил таймаут.
type UserTimedOutEvent struct {
	Channel   string
	UserID    string
	UserLogin string
	Duration  time.Duration
}

// MessageClearedEvent: удалено одно сообщение.
type MessageClearedEvent struct {
	Channel   string
	MessageID string
	UserLogin string
}

// NoticeEvent содержит NOTICE от сервера.
type NoticeEvent struct {
	Notice Notice
}

func (e ChatEvent) EventChannel() string           { return e.Channel }
func (e ChatClearedEvent) EventChannel() string    { return e.Channel }
func (e UserBannedEvent) EventChannel() string     { return e.Channel }
func (e UserTimedOutEvent) EventChannel() string   { return e.Channel }
func (e MessageClearedEvent) EventChannel() string { return e.Channel }
func (e NoticeEvent) EventChannel() string         { return e.Notice.Channel }
