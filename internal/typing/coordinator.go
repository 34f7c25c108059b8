// Package typing tracks whether the open conversation's peer is typing and
// announces the local user's own typing.
package typing

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Akgit99/message-dash-f/internal/bus"
	"github.com/Akgit99/message-dash-f/internal/channel"
	"github.com/Akgit99/message-dash-f/internal/loop"
	"github.com/Akgit99/message-dash-f/internal/metrics"
)

// DefaultTimeout is how long a typing signal keeps the indicator on.
const DefaultTimeout = time.Second

// Signal is the typing event payload.
type Signal struct {
	UserID    string `json:"userId"`
	Recipient string `json:"recipient,omitempty"`
}

// Changed is published when the peer typing flag flips.
type Changed struct {
	PeerID string
	Typing bool
}

// Options tunes the coordinator.
type Options struct {
	// Timeout is how long the indicator stays on after the last signal.
	Timeout time.Duration
	// Coalesce is the minimum gap between outbound signals. Zero sends one
	// per keystroke.
	Coalesce time.Duration
}

// Coordinator owns the typing state of the open conversation.
type Coordinator struct {
	sched   loop.Scheduler
	ch      channel.Channel
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options

	self    string
	peer    string
	typing  bool
	timer   loop.Timer
	off     func()
	limiter *rate.Limiter
}

func New(sched loop.Scheduler, ch channel.Channel, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Coordinator{
		sched:   sched,
		ch:      ch,
		bus:     b,
		metrics: metrics.OrNew(m),
		logger:  logger,
		opts:    opts,
	}
}

// Open switches the coordinator to the conversation between self and peer.
func (c *Coordinator) Open(self, peer string) {
	c.Close()
	c.self = self
	c.peer = peer
	if c.opts.Coalesce > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.opts.Coalesce), 1)
	}
	c.off = c.ch.On(channel.EventTyping, func(evt channel.Event) {
		var sig Signal
		if err := evt.Decode(&sig); err != nil {
			c.logger.Warn("dropping malformed typing signal", zap.Error(err))
			return
		}
		c.OnTypingSignal(sig)
	})
}

// Close deregisters the listener and clears the indicator.
func (c *Coordinator) Close() {
	if c.off != nil {
		c.off()
		c.off = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.setTyping(false)
	c.self, c.peer = "", ""
	c.limiter = nil
}

// Compose tells the peer the local user is typing. It is a no-op with no open
// conversation or while coalescing suppresses the signal.
func (c *Coordinator) Compose(string) error {
	if c.peer == "" {
		return nil
	}
	if c.limiter != nil && !c.limiter.AllowN(c.sched.Now(), 1) {
		return nil
	}
	if err := c.ch.Emit(channel.EventTyping, Signal{UserID: c.self, Recipient: c.peer}); err != nil {
		c.metrics.ChannelErrors.Inc()
		c.logger.Warn("channel error", zap.String("op", "emit typing"), zap.Error(err))
		return err
	}
	return nil
}

// OnTypingSignal turns the indicator on for the open peer and restarts its
// expiry. Signals from anyone else are ignored.
func (c *Coordinator) OnTypingSignal(sig Signal) {
	if c.peer == "" || sig.UserID != c.peer {
		return
	}
	c.metrics.TypingSignals.Inc()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.setTyping(true)
	c.timer = c.sched.AfterFunc(c.opts.Timeout, func() {
		c.timer = nil
		c.setTyping(false)
	})
}

// PeerTyping reports whether the open peer is typing.
func (c *Coordinator) PeerTyping() bool { return c.typing }

func (c *Coordinator) setTyping(v bool) {
	if c.typing == v {
		return
	}
	c.typing = v
	c.bus.Emit(bus.KindTypingChanged, Changed{PeerID: c.peer, Typing: v})
}
