package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы сообщений, отправляемых клиентам.
const (
	MsgTypePrivmsg   = "PRIVMSG"
	MsgTypeClearChat = "CLEARCHAT"
	MsgTypeClearMsg  = "CLEARMSG"
)

// Подтипы инструкций.
const (
	SubtypeClearChat          = "CLEAR_CHAT"
	SubtypeRemoveUserMessages = "REMOVE_USER_MESSAGES"
	SubtypeSingle             = "SINGLE"
)

// ChatMessage — нормализованное сообщение чата в том виде, в котором его получают клиенты.
type ChatMessage struct {
	MsgType         string   `json:"msgType"`
	Channel         string   `json:"channel"`
	ChannelID       string   `json:"channelId"`
	User            ChatUser `json:"user"`
	UserBadges      []Badge  `json:"userBadges"`
	NicknameColor   RGB      `json:"nicknameColor"`
	Message         string   `json:"message"`
	MessageID       string   `json:"messageId"`
	ServerTimestamp string   `json:"serverTimestamp"`

	// SentAt используется архивом и не отправляется клиентам.
	SentAt time.Time `json:"-"`
}

// ChatUser описывает отправителя сообщения.
type ChatUser struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	DisplayName string `json:"displayName"`
}

// InstructionMessage — внеполосное событие состояния чата (очистка чата, удаление сообщений).
type InstructionMessage struct {
	MsgType      string `json:"msgType"`
	MsgSubtype   string `json:"msgSubtype"`
	AssociatedID string `json:"associatedId"`
}

// Badge — пара (имя, версия); в JSON кодируется как ["name","version"].
type Badge struct {
	Name    string
	Version string
}

func (b Badge) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{b.Name, b.Version})
}

func (b *Badge) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("badge: %w", err)
	}
	b.Name, b.Version = pair[0], pair[1]
	return nil
}

// Notice описывает notice-событие, полученное от Twitch.
type Notice struct {
	Channel  string
	ID       string
	Message  string
	Tags     map[string]string
	NoticeAt time.Time
}
