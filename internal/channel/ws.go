package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errQueueFull = errors.New("outbound queue full")

// WSConfig configures the websocket channel.
type WSConfig struct {
	// URL is the server base URL. http and https are mapped to ws and wss.
	URL           string
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	StableAfter   time.Duration
	DialTimeout   time.Duration
	OutboundQueue int
	ReadLimit     int64
}

// DefaultWSConfig returns the reconnect policy used when nothing is configured.
func DefaultWSConfig(baseURL string) WSConfig {
	return WSConfig{
		URL:           baseURL,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		MaxAttempts:   10,
		StableAfter:   60 * time.Second,
		DialTimeout:   10 * time.Second,
		OutboundQueue: 64,
		ReadLimit:     1 << 20,
	}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Post moves a dispatch onto the caller's execution context. It must give up
// once ctx is cancelled and report whether f was accepted.
type Post func(ctx context.Context, f func()) bool

// WS is a Channel over a websocket carrying {"event","data"} JSON text frames.
// Listeners are invoked through post. Events still waiting to be posted when
// Close cancels the connection are dropped.
type WS struct {
	cfg       WSConfig
	logger    *zap.Logger
	post      Post
	listeners Listeners

	mu     sync.Mutex
	out    chan []byte
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWS creates a websocket channel. A nil post runs listeners on the reader
// goroutine.
func NewWS(cfg WSConfig, logger *zap.Logger, post Post) *WS {
	if logger == nil {
		logger = zap.NewNop()
	}
	if post == nil {
		post = func(_ context.Context, f func()) bool {
			f()
			return true
		}
	}
	def := DefaultWSConfig(cfg.URL)
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = def.StableAfter
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = def.OutboundQueue
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	return &WS{cfg: cfg, logger: logger, post: post}
}

// SocketURL derives the websocket endpoint for a server base URL.
func SocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect starts dialing in the background and returns. Progress is reported
// through EventConnect, EventConnectError and EventDisconnect. Calling Connect
// while a previous call is still active is a no-op.
func (w *WS) Connect(ctx context.Context, token string) error {
	target, err := SocketURL(w.cfg.URL, token)
	if err != nil {
		return &Error{Op: "connect", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	go w.supervise(runCtx, target, done)
	return nil
}

// Close stops reconnecting, closes the live connection and waits for the
// background goroutines to exit. No disconnect event is dispatched.
func (w *WS) Close() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Connected reports whether a connection is live.
func (w *WS) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out != nil
}

// On registers a listener.
func (w *WS) On(name string, l Listener) func() {
	return w.listeners.On(name, l)
}

// Emit queues an event for the live connection.
func (w *WS) Emit(name string, payload any) error {
	env := envelope{Event: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &Error{Op: "emit", Err: fmt.Errorf("encode %s: %w", name, err)}
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return &Error{Op: "emit", Err: fmt.Errorf("encode %s: %w", name, err)}
	}

	w.mu.Lock()
	out := w.out
	w.mu.Unlock()
	if out == nil {
		return &Error{Op: "emit", Err: ErrNotConnected}
	}
	select {
	case out <- frame:
		return nil
	default:
		return &Error{Op: "emit", Err: errQueueFull}
	}
}

func (w *WS) supervise(ctx context.Context, target string, done chan struct{}) {
	defer close(done)
	defer func() {
		w.mu.Lock()
		if w.done == done {
			w.cancel()
			w.cancel, w.done = nil, nil
		}
		w.mu.Unlock()
	}()

	recon := newReconnector(w.cfg)
	for {
		conn, err := w.dial(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("channel dial failed", zap.Int("attempt", recon.attempt), zap.Error(err))
			w.dispatchValue(ctx, EventConnectError, ConnectError{Message: err.Error()})
		} else {
			recon.markConnected()
			d := w.serve(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			recon.markDropped()
			d.WillRetry = d.WillRetry && recon.shouldReconnect()
			w.dispatchValue(ctx, EventDisconnect, d)
			if !d.WillRetry {
				return
			}
		}

		if !recon.shouldReconnect() {
			w.dispatchValue(ctx, EventDisconnect, Disconnect{Reason: "reconnect failed", WillRetry: false})
			return
		}
		delay := recon.nextDelay()
		w.logger.Info("channel reconnecting", zap.Int("attempt", recon.attempt), zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (w *WS) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, w.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(w.cfg.ReadLimit)
	return conn, nil
}

// serve runs one connection until it drops and describes how it ended.
func (w *WS) serve(ctx context.Context, conn *websocket.Conn) Disconnect {
	logger := w.logger.With(zap.String("conn_id", uuid.NewString()))
	logger.Info("channel connected")

	out := make(chan []byte, w.cfg.OutboundQueue)
	w.mu.Lock()
	w.out = out
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.out = nil
		w.mu.Unlock()
	}()

	w.dispatchValue(ctx, EventConnect, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.readLoop(gctx, conn, logger) })
	g.Go(func() error { return writeLoop(gctx, conn, out) })
	err := g.Wait()

	if ctx.Err() != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		return Disconnect{Reason: "io client disconnect"}
	}
	_ = conn.CloseNow()
	logger.Info("channel dropped", zap.Error(err))
	return disconnectFor(err)
}

func (w *WS) readLoop(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			logger.Warn("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		w.dispatch(ctx, Event{Name: env.Event, Data: env.Data})
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-out:
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return err
			}
		}
	}
}

func disconnectFor(err error) Disconnect {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusPolicyViolation:
		return Disconnect{Reason: "io server disconnect", WillRetry: false}
	default:
		return Disconnect{Reason: "transport close", WillRetry: true}
	}
}

func (w *WS) dispatch(ctx context.Context, evt Event) {
	if !w.post(ctx, func() { w.listeners.Dispatch(evt) }) {
		w.logger.Debug("dropping event after close", zap.String("event", evt.Name))
	}
}

func (w *WS) dispatchValue(ctx context.Context, name string, v any) {
	evt := Event{Name: name}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			w.logger.Error("failed to encode lifecycle event", zap.String("event", name), zap.Error(err))
			return
		}
		evt.Data = data
	}
	w.dispatch(ctx, evt)
}
