package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Akgit99/message-dash-f/internal/bot"
	"github.com/Akgit99/message-dash-f/internal/bus"
	"github.com/Akgit99/message-dash-f/internal/channel"
	"github.com/Akgit99/message-dash-f/internal/loop"
	"github.com/Akgit99/message-dash-f/internal/metrics"
	"github.com/Akgit99/message-dash-f/internal/presence"
)

// DefaultBotReplyDelay is how long the autoresponder "thinks" before replying.
const DefaultBotReplyDelay = time.Second

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoConversation = errors.New("no matching open conversation")
)

// HistoryFetcher loads the stored messages exchanged with a peer.
type HistoryFetcher interface {
	History(ctx context.Context, peerID string) ([]Message, error)
}

// Options tunes the synchronizer.
type Options struct {
	BotReplyDelay time.Duration
	// PersistBotReplies emits bot replies to the server so they are stored
	// and echoed back like any other message.
	PersistBotReplies bool
	// Reply produces the bot's answer. Defaults to bot.Reply.
	Reply func(string) string
}

// Event payloads published on the bus.
type (
	Appended struct {
		Conversation string
		Message      Message
	}
	Confirmed struct {
		Conversation  string
		PlaceholderID string
		Message       Message
	}
	HistoryLoaded struct {
		Conversation string
		Count        int
	}
	HistoryFailed struct {
		Conversation string
		Err          error
	}
	BotTyping struct {
		Conversation string
		Typing       bool
	}
)

type botReply struct {
	timer loop.Timer
	conv  Conversation
}

// Synchronizer owns the message list of the open conversation. All methods
// must run on the scheduler's execution context.
type Synchronizer struct {
	sched   loop.Scheduler
	ch      channel.Channel
	fetch   HistoryFetcher
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options

	conv     *Conversation
	peer     presence.Contact
	messages []Message

	// placeholders maps the id of each local placeholder still in the list
	// to the sequence number it was created with.
	placeholders map[string]uint64
	off          func()
	gen          uint64
	bots         map[*botReply]struct{}
}

func NewSynchronizer(sched loop.Scheduler, ch channel.Channel, fetch HistoryFetcher, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger, opts Options) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BotReplyDelay <= 0 {
		opts.BotReplyDelay = DefaultBotReplyDelay
	}
	if opts.Reply == nil {
		opts.Reply = bot.Reply
	}
	return &Synchronizer{
		sched:        sched,
		ch:           ch,
		fetch:        fetch,
		bus:          b,
		metrics:      metrics.OrNew(m),
		logger:       logger,
		opts:         opts,
		placeholders: make(map[string]uint64),
		bots:         make(map[*botReply]struct{}),
	}
}

// Open makes the conversation between self and peer the active one and loads
// its history.
func (s *Synchronizer) Open(ctx context.Context, self, peer presence.Contact) {
	s.Close()
	s.conv = &Conversation{Self: self.ID, Peer: peer.ID}
	s.peer = peer
	s.off = s.ch.On(channel.EventMessage, func(evt channel.Event) {
		var msg Message
		if err := evt.Decode(&msg); err != nil {
			s.logger.Warn("dropping malformed message", zap.Error(err))
			return
		}
		s.OnRemoteMessage(msg)
	})
	s.logger.Debug("conversation opened", zap.String("conversation", s.conv.Key()))
	s.LoadHistory(ctx)
}

// Close deregisters the active conversation and clears its list. Pending bot
// replies keep running.
func (s *Synchronizer) Close() {
	if s.off != nil {
		s.off()
		s.off = nil
	}
	s.conv = nil
	s.peer = presence.Contact{}
	s.messages = nil
	clear(s.placeholders)
	s.gen++
}

// Reset closes the conversation and cancels pending bot replies.
func (s *Synchronizer) Reset() {
	for r := range s.bots {
		r.timer.Stop()
	}
	clear(s.bots)
	s.Close()
}

// LoadHistory fetches the active conversation's history in the background.
// The fetched list replaces the current one; placeholders created after the
// request went out are kept at the end. A failed fetch leaves only those
// placeholders. Results arriving after the conversation changed are dropped.
func (s *Synchronizer) LoadHistory(ctx context.Context) {
	if s.conv == nil {
		return
	}
	s.gen++
	gen := s.gen
	mark := placeholderSeq.Load()
	key := s.conv.Key()
	peer := s.conv.Peer

	var (
		fetched []Message
		err     error
	)
	s.sched.Go(func() {
		fetched, err = s.fetch.History(ctx, peer)
	}, func() {
		if gen != s.gen || s.conv == nil {
			s.logger.Debug("discarding stale history", zap.String("conversation", key))
			return
		}
		s.applyHistory(key, mark, fetched, err)
	})
}

// Reload refetches the active conversation.
func (s *Synchronizer) Reload(ctx context.Context) { s.LoadHistory(ctx) }

func (s *Synchronizer) applyHistory(key string, mark uint64, fetched []Message, err error) {
	var kept []Message
	for _, m := range s.messages {
		if seq, ok := s.placeholders[m.ID]; ok && seq > mark {
			kept = append(kept, m)
		}
	}

	if err != nil {
		s.messages = kept
		s.prunePlaceholders()
		s.metrics.HistoryFailures.Inc()
		s.logger.Error("failed to load history", zap.String("conversation", key), zap.Error(err))
		s.bus.Emit(bus.KindHistoryFailed, HistoryFailed{Conversation: key, Err: err})
		return
	}

	list := make([]Message, 0, len(fetched)+len(kept))
	seen := make(map[string]bool, len(fetched))
	for _, m := range fetched {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		list = append(list, m)
	}
	s.messages = append(list, kept...)
	s.prunePlaceholders()
	s.logger.Debug("history loaded", zap.String("conversation", key), zap.Int("count", len(list)))
	s.bus.Emit(bus.KindHistoryLoaded, HistoryLoaded{Conversation: key, Count: len(s.messages)})
}

func (s *Synchronizer) prunePlaceholders() {
	live := make(map[string]bool, len(s.messages))
	for _, m := range s.messages {
		live[m.ID] = true
	}
	for id := range s.placeholders {
		if !live[id] {
			delete(s.placeholders, id)
		}
	}
}

// SendLocal appends a placeholder for content and emits it to the server.
// A send to the bot also schedules its reply. An emit failure is logged and
// the placeholder stays in the list.
func (s *Synchronizer) SendLocal(content string, sender, recipient presence.Contact) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyMessage
	}
	if s.conv == nil || s.conv.Self != sender.ID || s.conv.Peer != recipient.ID {
		return Message{}, ErrNoConversation
	}

	id, seq := nextPlaceholder(PlaceholderPrefix)
	msg := Message{
		ID:        id,
		Sender:    sender.ID,
		Recipient: recipient.ID,
		Content:   content,
		Timestamp: s.sched.Now(),
	}
	s.messages = append(s.messages, msg)
	s.placeholders[id] = seq
	s.metrics.Appended.Inc()
	s.bus.Emit(bus.KindMessageAppended, Appended{Conversation: s.conv.Key(), Message: msg})

	if err := s.ch.Emit(channel.EventMessage, msg.Outbound()); err != nil {
		s.metrics.ChannelErrors.Inc()
		s.logger.Error("channel error", zap.String("op", "emit message"), zap.String("msg_id", id), zap.Error(err))
	}

	if recipient.Bot {
		s.scheduleBotReply(content, sender, recipient)
	}
	return msg, nil
}

// OnRemoteMessage merges an inbound message into the active conversation.
// Messages without an id, with an id already in the list, or for another
// conversation are dropped. A confirmed message replaces the oldest
// placeholder describing the same send; anything else is appended.
func (s *Synchronizer) OnRemoteMessage(msg Message) {
	if s.conv == nil || !s.conv.Contains(msg) || msg.ID == "" {
		s.metrics.Ignored.Inc()
		return
	}
	if s.indexOf(msg.ID) >= 0 {
		s.metrics.Duplicates.Inc()
		s.logger.Debug("dropping duplicate message", zap.String("msg_id", msg.ID))
		return
	}

	key := s.conv.Key()
	if !msg.IsPlaceholder() {
		for i, m := range s.messages {
			if m.IsPlaceholder() && m.sameSend(msg) {
				s.messages[i] = msg
				delete(s.placeholders, m.ID)
				s.metrics.Reconciled.Inc()
				s.bus.Emit(bus.KindMessageConfirmed, Confirmed{Conversation: key, PlaceholderID: m.ID, Message: msg})
				return
			}
		}
	}

	s.messages = append(s.messages, msg)
	s.metrics.Appended.Inc()
	s.bus.Emit(bus.KindMessageAppended, Appended{Conversation: key, Message: msg})
}

func (s *Synchronizer) indexOf(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) scheduleBotReply(text string, user, botContact presence.Contact) {
	r := &botReply{conv: Conversation{Self: user.ID, Peer: botContact.ID}}
	r.timer = s.sched.AfterFunc(s.opts.BotReplyDelay, func() {
		s.deliverBotReply(r, text)
	})
	s.bots[r] = struct{}{}
	s.publishBotTyping(r.conv)
}

func (s *Synchronizer) deliverBotReply(r *botReply, text string) {
	delete(s.bots, r)

	id, seq := nextPlaceholder(botPlaceholderPrefix)
	msg := Message{
		ID:        id,
		Sender:    r.conv.Peer,
		Recipient: r.conv.Self,
		Content:   s.opts.Reply(text),
		Timestamp: s.sched.Now(),
		Read:      true,
	}
	s.OnRemoteMessage(msg)
	if s.indexOf(id) >= 0 {
		s.placeholders[id] = seq
	}

	if s.opts.PersistBotReplies {
		if err := s.ch.Emit(channel.EventMessage, msg.Outbound()); err != nil {
			s.metrics.ChannelErrors.Inc()
			s.logger.Error("channel error", zap.String("op", "emit bot reply"), zap.String("msg_id", id), zap.Error(err))
		}
	}
	s.publishBotTyping(r.conv)
}

func (s *Synchronizer) publishBotTyping(conv Conversation) {
	if s.conv == nil || *s.conv != conv {
		return
	}
	s.bus.Emit(bus.KindBotTyping, BotTyping{Conversation: conv.Key(), Typing: s.BotTyping()})
}

// BotTyping reports whether a bot reply is pending for the active conversation.
func (s *Synchronizer) BotTyping() bool {
	if s.conv == nil {
		return false
	}
	for r := range s.bots {
		if r.conv == *s.conv {
			return true
		}
	}
	return false
}

// Messages returns a copy of the active conversation's list.
func (s *Synchronizer) Messages() []Message {
	return append([]Message(nil), s.messages...)
}

// Conversation returns the active conversation, if any.
func (s *Synchronizer) Conversation() (Conversation, bool) {
	if s.conv == nil {
		return Conversation{}, false
	}
	return *s.conv, true
}

// Peer returns the contact of the active conversation.
func (s *Synchronizer) Peer() (presence.Contact, bool) {
	if s.conv == nil {
		return presence.Contact{}, false
	}
	return s.peer, true
}
