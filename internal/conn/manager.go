// Package conn supervises the session: login, the channel's connection
// lifecycle, keepalive and recovery after reconnects.
package conn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Akgit99/message-dash-f/internal/api"
	"github.com/Akgit99/message-dash-f/internal/bus"
	"github.com/Akgit99/message-dash-f/internal/channel"
	"github.com/Akgit99/message-dash-f/internal/loop"
	"github.com/Akgit99/message-dash-f/internal/metrics"
	"github.com/Akgit99/message-dash-f/internal/status"
)

// DefaultKeepalive is the ping interval while connected.
const DefaultKeepalive = 5 * time.Second

var (
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrNotLoggedIn     = errors.New("not logged in")
)

// Authenticator issues session tokens.
type Authenticator interface {
	Login(ctx context.Context, cred api.Credential) (*api.Session, error)
	Signup(ctx context.Context, cred api.Credential) error
}

// TokenStore persists the session token.
type TokenStore interface {
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Resyncer is the part of the message synchronizer the manager drives.
type Resyncer interface {
	Reload(ctx context.Context)
	Reset()
}

// Directory is the part of the presence directory the manager drives.
type Directory interface {
	Attach(self string)
	Refresh() error
	Reset()
}

// Closer is anything holding per-conversation state that logout clears.
type Closer interface {
	Close()
}

// Identity is the logged-in user.
type Identity struct {
	UserID   string
	Username string
}

// LoggedOut is published after a logout completes.
type LoggedOut struct {
	UserID string
}

// Options tunes the manager.
type Options struct {
	KeepaliveInterval time.Duration
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Sched   loop.Scheduler
	Channel channel.Channel
	Auth    Authenticator
	Tokens  TokenStore
	Machine *status.Machine
	Sync    Resyncer
	Dir     Directory
	Typing  Closer
	Bus     *bus.Bus
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Manager owns the ConnectionState and the channel's open and close. Except
// for Login, Logout, Signup and Shutdown, its methods run on the loop.
type Manager struct {
	Deps
	opts Options

	identity  Identity
	keepalive loop.Timer
	offs      []func()
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(d Deps, opts Options) *Manager {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	d.Metrics = metrics.OrNew(d.Metrics)
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepalive
	}
	return &Manager{Deps: d, opts: opts, ctx: context.Background()}
}

// Login authenticates on the calling goroutine, stores the token and starts
// connecting. Authentication failures are returned as *api.AuthError and
// leave the manager disconnected.
func (m *Manager) Login(ctx context.Context, cred api.Credential) error {
	if !m.Machine.Is(status.Disconnected) {
		return ErrAlreadyLoggedIn
	}

	sess, err := m.Auth.Login(ctx, cred)
	if err != nil {
		m.Logger.Warn("login failed", zap.String("username", cred.Username), zap.Error(err))
		return err
	}
	if err := m.Tokens.SetToken(ctx, sess.Token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	id := Identity{UserID: sess.UserID, Username: cred.Username}
	var result error
	m.Sched.Call(func() { result = m.start(id, sess.Token) })
	if result != nil {
		// The session never started, so the token must not outlive it.
		if err := m.Tokens.ClearToken(ctx); err != nil {
			m.Logger.Warn("clear token after failed start", zap.Error(err))
		}
	}
	return result
}

// Signup registers a new account.
func (m *Manager) Signup(ctx context.Context, cred api.Credential) error {
	return m.Auth.Signup(ctx, cred)
}

func (m *Manager) start(id Identity, token string) error {
	if !m.Machine.Is(status.Disconnected) {
		return ErrAlreadyLoggedIn
	}
	m.identity = id
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.Dir.Attach(id.UserID)
	m.offs = append(m.offs,
		m.Channel.On(channel.EventConnect, func(channel.Event) { m.onConnect() }),
		m.Channel.On(channel.EventDisconnect, m.onDisconnect),
		m.Channel.On(channel.EventConnectError, m.onConnectError),
	)
	if err := m.Machine.Transition(status.Connecting); err != nil {
		return err
	}
	if err := m.Channel.Connect(m.ctx, token); err != nil {
		m.Metrics.ChannelErrors.Inc()
		m.Logger.Error("channel error", zap.String("op", "connect"), zap.Error(err))
		m.teardown()
		return fmt.Errorf("connect channel: %w", err)
	}
	m.Logger.Info("connecting", zap.String("user_id", id.UserID))
	return nil
}

func (m *Manager) onConnect() {
	switch m.Machine.Current() {
	case status.Connecting:
		m.transition(status.Connected)
		m.onConnected()
	case status.Reconnecting:
		m.transition(status.Connected)
		m.onReconnected()
	default:
		m.Logger.Debug("ignoring connect", zap.String("state", string(m.Machine.Current())))
	}
}

func (m *Manager) onConnected() {
	m.announce()
	m.startKeepalive()
}

func (m *Manager) onReconnected() {
	m.Metrics.Reconnects.Inc()
	m.Logger.Info("reconnected", zap.String("user_id", m.identity.UserID))
	m.announce()
	m.startKeepalive()
	m.Sync.Reload(m.ctx)
	if err := m.Dir.Refresh(); err != nil {
		m.channelError("emit getOnlineUsers", err)
	}
}

func (m *Manager) onDisconnect(evt channel.Event) {
	var d channel.Disconnect
	if err := evt.Decode(&d); err != nil {
		m.Logger.Warn("malformed disconnect payload", zap.Error(err))
	}

	if d.WillRetry {
		if m.Machine.Is(status.Connected) {
			m.Logger.Warn("connection lost, channel will retry", zap.String("reason", d.Reason))
			m.transition(status.Reconnecting)
			m.stopKeepalive()
		}
		return
	}
	if m.Machine.Is(status.Disconnected) {
		return
	}
	m.Logger.Error("connection lost for good", zap.String("reason", d.Reason))
	m.teardown()
}

func (m *Manager) onConnectError(evt channel.Event) {
	var ce channel.ConnectError
	if err := evt.Decode(&ce); err != nil {
		m.Logger.Warn("malformed connect_error payload", zap.Error(err))
	}
	m.channelError("connect", &channel.Error{Op: "connect", Err: errors.New(ce.Message)})
}

func (m *Manager) announce() {
	if err := m.Channel.Emit(channel.EventJoin, m.identity.UserID); err != nil {
		m.channelError("emit join", err)
	}
	if err := m.Channel.Emit(channel.EventSetUsername, m.identity.Username); err != nil {
		m.channelError("emit setUsername", err)
	}
}

func (m *Manager) startKeepalive() {
	m.stopKeepalive()
	m.keepalive = m.Sched.Every(m.opts.KeepaliveInterval, func() {
		if err := m.Channel.Emit(channel.EventPing, nil); err != nil {
			m.Logger.Debug("keepalive ping failed", zap.Error(err))
		}
	})
}

func (m *Manager) stopKeepalive() {
	if m.keepalive != nil {
		m.keepalive.Stop()
		m.keepalive = nil
	}
}

func (m *Manager) transition(to status.State) {
	if err := m.Machine.Transition(to); err != nil {
		m.Logger.Error("state transition rejected", zap.Error(err))
	}
}

func (m *Manager) channelError(op string, err error) {
	m.Metrics.ChannelErrors.Inc()
	m.Logger.Warn("channel error", zap.String("op", op), zap.Error(err))
}

// teardown releases everything the session holds except the stored token.
func (m *Manager) teardown() {
	m.stopKeepalive()
	for _, off := range m.offs {
		off()
	}
	m.offs = nil
	if err := m.Channel.Close(); err != nil {
		m.Logger.Warn("close channel", zap.Error(err))
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.Typing.Close()
	m.Sync.Reset()
	m.Dir.Reset()
	m.identity = Identity{}
	if !m.Machine.Is(status.Disconnected) {
		m.transition(status.Disconnected)
	}
}

// Logout ends the session and forgets the stored token.
func (m *Manager) Logout(ctx context.Context) error {
	var userID string
	m.Sched.Call(func() {
		userID = m.identity.UserID
		m.teardown()
	})
	if err := m.Tokens.ClearToken(ctx); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	m.Logger.Info("logged out", zap.String("user_id", userID))
	m.Bus.Emit(bus.KindLoggedOut, LoggedOut{UserID: userID})
	return nil
}

// Shutdown ends the session for process exit. The token stays stored.
func (m *Manager) Shutdown() {
	m.Sched.Call(m.teardown)
}

// Identity returns the logged-in user, or ErrNotLoggedIn.
func (m *Manager) Identity() (Identity, error) {
	if m.identity.UserID == "" {
		return Identity{}, ErrNotLoggedIn
	}
	return m.identity, nil
}

// State returns the current ConnectionState.
func (m *Manager) State() status.State {
	return m.Machine.Current()
}

// Context is cancelled when the session ends.
func (m *Manager) Context() context.Context {
	return m.ctx
}
