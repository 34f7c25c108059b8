// Package chat keeps the open conversation's message list consistent with
// the server while sends are in flight.
package chat

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// PlaceholderPrefix marks ids assigned locally before the server confirms a
// message.
const PlaceholderPrefix = "temp-"

const botPlaceholderPrefix = PlaceholderPrefix + "ai-"

// Message is one chat message as carried on the wire.
type Message struct {
	ID        string    `json:"_id,omitempty"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// IsPlaceholder reports whether the message is still awaiting confirmation.
func (m Message) IsPlaceholder() bool {
	return strings.HasPrefix(m.ID, PlaceholderPrefix)
}

// Outbound returns the message as sent to the server, without an id.
func (m Message) Outbound() Message {
	m.ID = ""
	return m
}

// sameSend reports whether two messages describe the same send.
func (m Message) sameSend(o Message) bool {
	return m.Sender == o.Sender && m.Recipient == o.Recipient && m.Content == o.Content
}

// Conversation is the pair of participants in a one-to-one chat.
type Conversation struct {
	Self string
	Peer string
}

// Key is the same for both participants' view of the conversation.
func (c Conversation) Key() string {
	a, b := c.Self, c.Peer
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Contains reports whether m travels between the two participants, in either
// direction.
func (c Conversation) Contains(m Message) bool {
	return (m.Sender == c.Self && m.Recipient == c.Peer) ||
		(m.Sender == c.Peer && m.Recipient == c.Self)
}

var placeholderSeq atomic.Uint64

// nextPlaceholder returns a fresh placeholder id and its sequence number.
func nextPlaceholder(prefix string) (string, uint64) {
	n := placeholderSeq.Add(1)
	return prefix + strconv.FormatUint(n, 10), n
}
