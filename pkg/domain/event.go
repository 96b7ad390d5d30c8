package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventKind names a server event on the chat-support stream.
type EventKind string

const (
	EventNewChatSession  EventKind = "newChatSession"
	EventNewUserMessage  EventKind = "newUserMessage"
	EventNewMessage      EventKind = "newMessage"
	EventNewAdminMessage EventKind = "newAdminMessage"
	EventUserJoinedRoom  EventKind = "userJoinedRoom"
	EventUserLeftRoom    EventKind = "userLeftRoom"
	EventUserTyping      EventKind = "userTyping"
)

// ErrUnknownEvent is returned by DecodeEvent for event names it does not handle.
var ErrUnknownEvent = errors.New("unknown event")

// ChatEvent is a decoded push notification. Message is set only for the
// message-bearing kinds.
type ChatEvent struct {
	Kind       EventKind
	RoomID     ID
	UserID     ID
	Message    *Message
	IsTyping   bool
	ReceivedAt time.Time
}

// CarriesMessage reports whether the kind delivers a chat message.
func (k EventKind) CarriesMessage() bool {
	switch k {
	case EventNewUserMessage, EventNewMessage, EventNewAdminMessage:
		return true
	}
	return false
}

type eventWire struct {
	RoomID    ID              `json:"room_id"`
	RoomIDAlt ID              `json:"roomId"`
	SessionID ID              `json:"session_id"`
	UserID    ID              `json:"user_id"`
	UserIDAlt ID              `json:"userId"`
	IsTyping  *bool           `json:"is_typing"`
	Message   json.RawMessage `json:"message"`
}

// DecodeEvent turns a raw stream event into a ChatEvent. Message timestamps
// missing from the payload are set to receivedAt.
func DecodeEvent(name string, data json.RawMessage, receivedAt time.Time) (ChatEvent, error) {
	kind := EventKind(name)
	switch kind {
	case EventNewChatSession, EventNewUserMessage, EventNewMessage, EventNewAdminMessage,
		EventUserJoinedRoom, EventUserLeftRoom, EventUserTyping:
	default:
		return ChatEvent{}, fmt.Errorf("domain.DecodeEvent %q: %w", name, ErrUnknownEvent)
	}

	ev := ChatEvent{Kind: kind, ReceivedAt: receivedAt}
	if len(data) == 0 || string(data) == "null" {
		return ev, nil
	}

	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return ChatEvent{}, fmt.Errorf("domain.DecodeEvent %q: %w", name, err)
	}
	ev.RoomID = firstID(w.RoomID, w.RoomIDAlt, w.SessionID)
	ev.UserID = firstID(w.UserID, w.UserIDAlt)
	ev.IsTyping = kind == EventUserTyping
	if w.IsTyping != nil {
		ev.IsTyping = *w.IsTyping
	}

	if kind.CarriesMessage() && len(w.Message) > 0 && string(w.Message) != "null" {
		var msg Message
		if w.Message[0] == '"' {
			if err := json.Unmarshal(w.Message, &msg.Text); err != nil {
				return ChatEvent{}, fmt.Errorf("domain.DecodeEvent %q: %w", name, err)
			}
			msg.SenderType = SenderAdmin
		} else if err := json.Unmarshal(w.Message, &msg); err != nil {
			return ChatEvent{}, fmt.Errorf("domain.DecodeEvent %q: %w", name, err)
		}
		switch kind {
		case EventNewUserMessage:
			msg = msg.WithSender(SenderUser)
		case EventNewAdminMessage:
			msg = msg.WithSender(SenderAdmin)
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = receivedAt
		}
		ev.Message = &msg
	}
	return ev, nil
}
