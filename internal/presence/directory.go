// Package presence derives the contact list from the server's online-user
// snapshots.
package presence

import (
	"go.uber.org/zap"

	"github.com/Akgit99/message-dash-f/internal/bus"
	"github.com/Akgit99/message-dash-f/internal/channel"
)

// The synthetic autoresponder contact.
const (
	BotID   = "ai"
	BotName = "AI Bot"
)

// Contact is a conversation partner as shown in the contact list.
type Contact struct {
	ID          string
	DisplayName string
	Online      bool
	UnreadCount int
	Bot         bool
}

// BotContact returns the autoresponder contact.
func BotContact() Contact {
	return Contact{ID: BotID, DisplayName: BotName, Online: true, Bot: true}
}

// Entry is one element of an onlineUsers snapshot.
type Entry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Updated is published after every snapshot.
type Updated struct {
	Contacts []Contact
}

// UnreadChanged is published when a contact's unread count moves.
type UnreadChanged struct {
	ContactID string
	Unread    int
}

// Directory owns the contact list. It never invents identities: every
// contact besides the bot comes from a snapshot.
type Directory struct {
	ch     channel.Channel
	bus    *bus.Bus
	logger *zap.Logger

	self     string
	focused  string
	contacts []Contact
	offs     []func()
}

func New(ch channel.Channel, b *bus.Bus, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{ch: ch, bus: b, logger: logger}
}

// Attach starts tracking presence for self. Any previous attachment is
// dropped first.
func (d *Directory) Attach(self string) {
	d.Reset()
	d.self = self
	d.contacts = []Contact{BotContact()}
	d.offs = append(d.offs,
		d.ch.On(channel.EventOnlineUsers, d.onSnapshot),
		d.ch.On(channel.EventMessage, d.onMessage),
	)
}

// ApplySnapshot replaces the contact list with the bot followed by every
// snapshot entry except self and the bot. A repeated id keeps its first
// occurrence.
func (d *Directory) ApplySnapshot(entries []Entry) {
	contacts := make([]Contact, 0, len(entries)+1)
	contacts = append(contacts, BotContact())
	seen := map[string]bool{BotID: true, d.self: true}
	for _, e := range entries {
		if e.UserID == "" || seen[e.UserID] {
			continue
		}
		seen[e.UserID] = true
		contacts = append(contacts, Contact{
			ID:          e.UserID,
			DisplayName: e.Username,
			Online:      true,
		})
	}
	d.contacts = contacts
	d.logger.Debug("presence snapshot applied", zap.Int("contacts", len(contacts)))
	d.bus.Emit(bus.KindPresenceUpdated, Updated{Contacts: d.Contacts()})
}

// Refresh asks the server for a fresh snapshot.
func (d *Directory) Refresh() error {
	return d.ch.Emit(channel.EventRequestOnlineUsers, nil)
}

// Focus marks peerID as the open conversation and clears its unread count.
// An empty id clears the focus.
func (d *Directory) Focus(peerID string) {
	d.focused = peerID
	for i := range d.contacts {
		if d.contacts[i].ID == peerID && d.contacts[i].UnreadCount != 0 {
			d.contacts[i].UnreadCount = 0
			d.bus.Emit(bus.KindUnreadChanged, UnreadChanged{ContactID: peerID})
		}
	}
}

// Contacts returns a copy of the contact list.
func (d *Directory) Contacts() []Contact {
	return append([]Contact(nil), d.contacts...)
}

// Lookup finds a contact by id.
func (d *Directory) Lookup(id string) (Contact, bool) {
	for _, c := range d.contacts {
		if c.ID == id {
			return c, true
		}
	}
	return Contact{}, false
}

// Reset deregisters the listeners and forgets every contact.
func (d *Directory) Reset() {
	for _, off := range d.offs {
		off()
	}
	d.offs = nil
	d.self = ""
	d.focused = ""
	d.contacts = nil
}

func (d *Directory) onSnapshot(evt channel.Event) {
	var entries []Entry
	if err := evt.Decode(&entries); err != nil {
		d.logger.Warn("dropping malformed presence snapshot", zap.Error(err))
		return
	}
	d.ApplySnapshot(entries)
}

func (d *Directory) onMessage(evt channel.Event) {
	var hdr struct {
		Sender    string `json:"sender"`
		Recipient string `json:"recipient"`
	}
	if err := evt.Decode(&hdr); err != nil {
		return
	}
	if hdr.Recipient != d.self || hdr.Sender == d.focused {
		return
	}
	for i := range d.contacts {
		if d.contacts[i].ID == hdr.Sender {
			d.contacts[i].UnreadCount++
			d.bus.Emit(bus.KindUnreadChanged, UnreadChanged{
				ContactID: hdr.Sender,
				Unread:    d.contacts[i].UnreadCount,
			})
			return
		}
	}
}
