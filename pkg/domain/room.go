package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RoomStatus is the lifecycle state of a support room.
type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomClosed   RoomStatus = "closed"
	RoomArchived RoomStatus = "archived"
)

// UserRef identifies a customer or staff member attached to a room.
type UserRef struct {
	ID    ID     `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// DisplayName returns the name to show for the user, falling back to fallback.
func (u UserRef) DisplayName(fallback string) string {
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	return fallback
}

// LastMessage is the denormalised preview of the newest message in a room.
type LastMessage struct {
	Text      string    `json:"text"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
}

// Room is one customer-support conversation.
// RoomID is the only stable key; SessionID is the legacy alias for it.
type Room struct {
	RoomID        ID           `json:"room_id"`
	SessionID     ID           `json:"session_id,omitempty"`
	User          UserRef      `json:"user"`
	Admin         *UserRef     `json:"admin,omitempty"`
	Status        RoomStatus   `json:"status"`
	LastMessage   *LastMessage `json:"last_message,omitempty"`
	LastActivity  time.Time    `json:"last_activity,omitempty"`
	TotalMessages int          `json:"total_messages"`
	UnreadCount   int          `json:"unread_count"`
	IsOnline      bool         `json:"is_online"`
}

// LegacyID returns the identifier the legacy chat API expects for this room.
func (r Room) LegacyID() ID {
	return firstID(r.SessionID, r.RoomID)
}

type userWire struct {
	ID       ID     `json:"id"`
	MongoID  ID     `json:"_id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (w *userWire) ref() *UserRef {
	if w == nil {
		return nil
	}
	name := w.Name
	if name == "" {
		name = w.FullName
	}
	if name == "" {
		name = w.Username
	}
	return &UserRef{ID: firstID(w.ID, w.MongoID), Name: name, Email: w.Email}
}

type lastMessageWire struct {
	Text       string   `json:"text"`
	Message    string   `json:"message"`
	SenderType string   `json:"sender_type"`
	IsUser     *bool    `json:"is_user"`
	Timestamp  wireTime `json:"timestamp"`
	CreatedAt  wireTime `json:"created_at"`
}

type roomStatsWire struct {
	TotalMessages      *int `json:"total_messages"`
	UnreadUserMessages *int `json:"unread_user_messages"`
}

// roomWire accepts both the chat-support room shape and the legacy session shape.
type roomWire struct {
	RoomID        ID               `json:"room_id"`
	SessionID     ID               `json:"session_id"`
	MongoID       ID               `json:"_id"`
	User          *userWire        `json:"user"`
	Admin         *userWire        `json:"admin"`
	Status        string           `json:"status"`
	LastMessage   *lastMessageWire `json:"last_message"`
	LastActivity  wireTime         `json:"last_activity"`
	UpdatedAt     wireTime         `json:"updated_at"`
	Stats         *roomStatsWire   `json:"stats"`
	TotalMessages int              `json:"total_messages"`
	UnreadCount   int              `json:"unread_count"`
	IsOnline      bool             `json:"is_online"`
}

// UnmarshalJSON normalises the primary and legacy room payloads into one shape.
func (r *Room) UnmarshalJSON(data []byte) error {
	var w roomWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("domain.Room: %w", err)
	}

	room := Room{
		RoomID:        firstID(w.RoomID, w.SessionID, w.MongoID),
		SessionID:     firstID(w.SessionID, w.RoomID, w.MongoID),
		Status:        RoomStatus(strings.ToLower(w.Status)),
		LastActivity:  firstTime(w.LastActivity.Time, w.UpdatedAt.Time),
		TotalMessages: w.TotalMessages,
		UnreadCount:   w.UnreadCount,
		IsOnline:      w.IsOnline,
	}
	if room.Status == "" {
		room.Status = RoomActive
	}
	if u := w.User.ref(); u != nil {
		room.User = *u
	}
	room.Admin = w.Admin.ref()
	if w.Stats != nil {
		if w.Stats.TotalMessages != nil {
			room.TotalMessages = *w.Stats.TotalMessages
		}
		if w.Stats.UnreadUserMessages != nil {
			room.UnreadCount = *w.Stats.UnreadUserMessages
		}
	}
	if lm := w.LastMessage; lm != nil {
		text := lm.Text
		if text == "" {
			text = lm.Message
		}
		isUser := lm.SenderType == string(SenderUser)
		if lm.IsUser != nil {
			isUser = *lm.IsUser
		}
		room.LastMessage = &LastMessage{
			Text:      text,
			IsUser:    isUser,
			Timestamp: firstTime(lm.Timestamp.Time, lm.CreatedAt.Time),
		}
	}

	*r = room
	return nil
}
