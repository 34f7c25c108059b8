package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the engine. Subscribers filter by prefix, so
// "chat." receives every message list change.
const (
	KindMessageAppended  = "chat.message_appended"
	KindMessageConfirmed = "chat.message_confirmed"
	KindHistoryLoaded    = "chat.history_loaded"
	KindHistoryFailed    = "chat.history_failed"
	KindBotTyping        = "chat.bot_typing"
	KindTypingChanged    = "typing.changed"
	KindPresenceUpdated  = "presence.updated"
	KindUnreadChanged    = "presence.unread_changed"
	KindStatusChanged    = "session.status_changed"
	KindLoggedOut        = "session.logged_out"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
