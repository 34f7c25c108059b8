package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Akgit99/message-dash-f/internal/api"
	"github.com/Akgit99/message-dash-f/internal/bus"
	"github.com/Akgit99/message-dash-f/internal/chat"
	"github.com/Akgit99/message-dash-f/internal/conn"
	"github.com/Akgit99/message-dash-f/internal/loop"
	"github.com/Akgit99/message-dash-f/internal/presence"
	"github.com/Akgit99/message-dash-f/internal/status"
	"github.com/Akgit99/message-dash-f/internal/typing"
)

// ErrUnknownContact is returned when opening a conversation with someone
// who is not in the contact list.
var ErrUnknownContact = errors.New("unknown contact")

// Client is the surface a front end drives. Every method is safe to call
// from any goroutine; state reads and writes are marshalled onto the loop.
type Client struct {
	sched  loop.Scheduler
	mgr    *conn.Manager
	sync   *chat.Synchronizer
	dir    *presence.Directory
	typing *typing.Coordinator
	bus    *bus.Bus
	logger *zap.Logger
}

// NewClient wires a Client over the engine components.
func NewClient(sched loop.Scheduler, mgr *conn.Manager, s *chat.Synchronizer, dir *presence.Directory, tc *typing.Coordinator, b *bus.Bus, logger *zap.Logger) *Client {
	return &Client{
		sched:  sched,
		mgr:    mgr,
		sync:   s,
		dir:    dir,
		typing: tc,
		bus:    b,
		logger: logger.Named("client"),
	}
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	return c.mgr.Login(ctx, api.Credential{Username: username, Password: password})
}

func (c *Client) Signup(ctx context.Context, username, password string) error {
	return c.mgr.Signup(ctx, api.Credential{Username: username, Password: password})
}

func (c *Client) Logout(ctx context.Context) error {
	return c.mgr.Logout(ctx)
}

// Open makes peerID the active conversation, loads its history and clears
// its unread count.
func (c *Client) Open(peerID string) error {
	var err error
	c.sched.Call(func() {
		var id conn.Identity
		id, err = c.mgr.Identity()
		if err != nil {
			return
		}
		peer, ok := c.dir.Lookup(peerID)
		if !ok {
			err = ErrUnknownContact
			return
		}
		self := presence.Contact{ID: id.UserID, DisplayName: id.Username, Online: true}
		c.sync.Open(c.mgr.Context(), self, peer)
		c.typing.Open(self.ID, peer.ID)
		c.dir.Focus(peer.ID)
		c.logger.Debug("conversation opened", zap.String("peer", peer.ID))
	})
	return err
}

// CloseConversation leaves the active conversation. Pending bot replies
// still deliver if the user returns to the bot.
func (c *Client) CloseConversation() {
	c.sched.Call(func() {
		c.sync.Close()
		c.typing.Close()
		c.dir.Focus("")
	})
}

// Compose reports a keystroke in the composer.
func (c *Client) Compose(text string) error {
	var err error
	c.sched.Call(func() { err = c.typing.Compose(text) })
	return err
}

// Send appends a placeholder to the active conversation and transmits it.
func (c *Client) Send(text string) (chat.Message, error) {
	var (
		msg chat.Message
		err error
	)
	c.sched.Call(func() {
		var id conn.Identity
		id, err = c.mgr.Identity()
		if err != nil {
			return
		}
		peer, ok := c.sync.Peer()
		if !ok {
			err = chat.ErrNoConversation
			return
		}
		self := presence.Contact{ID: id.UserID, DisplayName: id.Username, Online: true}
		msg, err = c.sync.SendLocal(text, self, peer)
	})
	return msg, err
}

func (c *Client) Messages() []chat.Message {
	var out []chat.Message
	c.sched.Call(func() { out = c.sync.Messages() })
	return out
}

func (c *Client) Contacts() []presence.Contact {
	var out []presence.Contact
	c.sched.Call(func() { out = c.dir.Contacts() })
	return out
}

// Peer returns the contact of the active conversation.
func (c *Client) Peer() (presence.Contact, bool) {
	var (
		p  presence.Contact
		ok bool
	)
	c.sched.Call(func() { p, ok = c.sync.Peer() })
	return p, ok
}

func (c *Client) PeerTyping() bool {
	var v bool
	c.sched.Call(func() { v = c.typing.PeerTyping() })
	return v
}

func (c *Client) BotTyping() bool {
	var v bool
	c.sched.Call(func() { v = c.sync.BotTyping() })
	return v
}

func (c *Client) Identity() (conn.Identity, error) {
	var (
		id  conn.Identity
		err error
	)
	c.sched.Call(func() { id, err = c.mgr.Identity() })
	return id, err
}

func (c *Client) State() status.State {
	return c.mgr.State()
}

// Subscribe returns bus events whose kind starts with namespace.
func (c *Client) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(namespace, bufSize)
}
