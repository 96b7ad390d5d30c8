package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SenderType says who wrote a message.
type SenderType string

const (
	SenderUser  SenderType = "user"
	SenderAdmin SenderType = "admin"
)

// Message is one chat utterance in a support room.
type Message struct {
	MessageID  ID         `json:"message_id,omitempty"`
	Text       string     `json:"text"`
	SenderType SenderType `json:"sender_type"`
	IsFromUser bool       `json:"is_from_user"`
	Timestamp  time.Time  `json:"timestamp"`
	SenderName string     `json:"sender_name,omitempty"`
}

// SameAs reports whether two messages are the same utterance.
// Messages that both carry an id are compared by id; otherwise by text and timestamp.
func (m Message) SameAs(o Message) bool {
	if m.MessageID != "" && o.MessageID != "" {
		return m.MessageID == o.MessageID
	}
	return m.Text == o.Text && m.Timestamp.Equal(o.Timestamp)
}

type messageWire struct {
	MessageID  ID       `json:"message_id"`
	MongoID    ID       `json:"_id"`
	ID         ID       `json:"id"`
	Text       string   `json:"text"`
	Message    string   `json:"message"`
	SenderType string   `json:"sender_type"`
	IsFromUser *bool    `json:"is_from_user"`
	IsUser     *bool    `json:"is_user"`
	Timestamp  wireTime `json:"timestamp"`
	CreatedAt  wireTime `json:"created_at"`
	SenderName string   `json:"sender_name"`
}

// UnmarshalJSON normalises the field aliases used by the history endpoints,
// the legacy API and the event stream.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("domain.Message: %w", err)
	}

	text := w.Text
	if text == "" {
		text = w.Message
	}
	sender := SenderType(strings.ToLower(w.SenderType))
	isUser := sender == SenderUser
	switch {
	case w.IsFromUser != nil && *w.IsFromUser:
		isUser = true
	case w.IsUser != nil && *w.IsUser:
		isUser = true
	}
	if sender == "" {
		sender = SenderAdmin
		if isUser {
			sender = SenderUser
		}
	}

	*m = Message{
		MessageID:  firstID(w.MessageID, w.ID, w.MongoID),
		Text:       text,
		SenderType: sender,
		IsFromUser: isUser,
		Timestamp:  firstTime(w.Timestamp.Time, w.CreatedAt.Time),
		SenderName: w.SenderName,
	}
	return nil
}

// WithSender forces the sender of m.
func (m Message) WithSender(s SenderType) Message {
	m.SenderType = s
	m.IsFromUser = s == SenderUser
	return m
}
