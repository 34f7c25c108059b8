package conn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Akgit99/message-dash-f/internal/api"
	"github.com/Akgit99/message-dash-f/internal/bus"
	"github.com/Akgit99/message-dash-f/internal/channel"
	"github.com/Akgit99/message-dash-f/internal/channel/channeltest"
	"github.com/Akgit99/message-dash-f/internal/loop"
	"github.com/Akgit99/message-dash-f/internal/metrics"
	"github.com/Akgit99/message-dash-f/internal/presence"
	"github.com/Akgit99/message-dash-f/internal/status"
)

type mockAuth struct {
	session *api.Session
	err     error
	logins  []api.Credential
	signups []api.Credential
}

func (a *mockAuth) Login(_ context.Context, cred api.Credential) (*api.Session, error) {
	a.logins = append(a.logins, cred)
	if a.err != nil {
		return nil, a.err
	}
	return a.session, nil
}

func (a *mockAuth) Signup(_ context.Context, cred api.Credential) error {
	a.signups = append(a.signups, cred)
	return a.err
}

type mockTokens struct {
	token   string
	cleared int
}

func (s *mockTokens) SetToken(_ context.Context, token string) error {
	s.token = token
	return nil
}

func (s *mockTokens) ClearToken(context.Context) error {
	s.token = ""
	s.cleared++
	return nil
}

type mockSync struct {
	reloads int
	resets  int
}

func (s *mockSync) Reload(context.Context) { s.reloads++ }
func (s *mockSync) Reset()                 { s.resets++ }

type mockTyping struct{ closes int }

func (t *mockTyping) Close() { t.closes++ }

type fixture struct {
	m       *Manager
	ch      *channeltest.Fake
	sched   *loop.Manual
	auth    *mockAuth
	tokens  *mockTokens
	sync    *mockSync
	typing  *mockTyping
	dir     *presence.Directory
	bus     *bus.Bus
	metrics *metrics.Metrics
}

var alice = api.Credential{Username: "alice", Password: "pw"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ch:      channeltest.New(),
		sched:   loop.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		auth:    &mockAuth{session: &api.Session{Token: "tok", UserID: "u1"}},
		tokens:  &mockTokens{},
		sync:    &mockSync{},
		typing:  &mockTyping{},
		bus:     bus.New(),
		metrics: metrics.New(),
	}
	f.dir = presence.New(f.ch, f.bus, zap.NewNop())
	f.m = New(Deps{
		Sched:   f.sched,
		Channel: f.ch,
		Auth:    f.auth,
		Tokens:  f.tokens,
		Machine: status.NewMachine(f.bus),
		Sync:    f.sync,
		Dir:     f.dir,
		Typing:  f.typing,
		Bus:     f.bus,
		Metrics: f.metrics,
		Logger:  zap.NewNop(),
	}, Options{})
	return f
}

func (f *fixture) loginConnected(t *testing.T) {
	t.Helper()
	if err := f.m.Login(context.Background(), alice); err != nil {
		t.Fatalf("login: %v", err)
	}
	f.ch.Deliver(channel.EventConnect, nil)
	if got := f.m.State(); got != status.Connected {
		t.Fatalf("state = %s, want CONNECTED", got)
	}
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)

	if err := f.m.Login(context.Background(), alice); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := f.m.State(); got != status.Connecting {
		t.Fatalf("state = %s, want CONNECTING", got)
	}
	if f.tokens.token != "tok" {
		t.Errorf("stored token = %q, want tok", f.tokens.token)
	}
	if diff := cmp.Diff([]string{"tok"}, f.ch.Tokens()); diff != "" {
		t.Errorf("connect tokens mismatch (-want +got):\n%s", diff)
	}
	id, err := f.m.Identity()
	if err != nil || id != (Identity{UserID: "u1", Username: "alice"}) {
		t.Errorf("identity = %+v, %v", id, err)
	}
	if got := f.dir.Contacts(); len(got) != 1 || !got[0].Bot {
		t.Errorf("contacts = %+v, want just the bot", got)
	}
}

func TestLoginFailureStaysDisconnected(t *testing.T) {
	f := newFixture(t)
	f.auth.err = &api.AuthError{Kind: api.AuthRejected, Status: 400, Message: "Invalid credentials"}

	err := f.m.Login(context.Background(), alice)
	var ae *api.AuthError
	if !errors.As(err, &ae) || ae.Message != "Invalid credentials" {
		t.Fatalf("got %v, want the AuthError", err)
	}
	if got := f.m.State(); got != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}
	if len(f.ch.Tokens()) != 0 {
		t.Error("channel connect attempted after failed login")
	}
	if f.tokens.token != "" {
		t.Error("token stored after failed login")
	}
}

func TestLoginTwice(t *testing.T) {
	f := newFixture(t)
	f.loginConnected(t)

	if err := f.m.Login(context.Background(), alice); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Fatalf("got %v, want ErrAlreadyLoggedIn", err)
	}
	if n := len(f.auth.logins); n != 1 {
		t.Errorf("authenticator called %d times, want 1", n)
	}
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	f := newFixture(t)
	f.ch.ConnectErr = errors.New("bad url")

	if err := f.m.Login(context.Background(), alice); err == nil {
		t.Fatal("expected connect error")
	}
	if got := f.m.State(); got != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}
	if n := f.ch.Listening(""); n != 0 {
		t.Errorf("%d listeners left after failed connect", n)
	}
	if f.tokens.token != "" || f.tokens.cleared != 1 {
		t.Errorf("token = %q cleared %d times, want it cleared once", f.tokens.token, f.tokens.cleared)
	}
}

func TestConnectAnnouncesOnceAndStartsKeepalive(t *testing.T) {
	f := newFixture(t)
	f.loginConnected(t)

	wantAnnounce := []channeltest.Emitted{
		{Name: channel.EventJoin, Payload: "u1"},
		{Name: channel.EventSetUsername, Payload: "alice"},
	}
	if diff := cmp.Diff(wantAnnounce, f.ch.Sent()); diff != "" {
		t.Fatalf("announce mismatch (-want +got):\n%s", diff)
	}

	f.sched.Advance(4 * time.Second)
	if n := len(f.ch.SentNamed(channel.EventPing)); n != 0 {
		t.Fatalf("got %d pings before the interval, want 0", n)
	}
	f.sched.Advance(6 * time.Second)
	if n := len(f.ch.SentNamed(channel.EventPing)); n != 2 {
		t.Fatalf("got %d pings after 10s, want 2", n)
	}
}

func TestReconnectResynchronizes(t *testing.T) {
	f := newFixture(t)
	f.loginConnected(t)
	f.ch.ClearSent()

	f.ch.Deliver(channel.EventDisconnect, channel.Disconnect{Reason: "transport close", WillRetry: true})
	if got := f.m.State(); got != status.Reconnecting {
		t.Fatalf("state = %s, want RECONNECTING", got)
	}
	f.sched.Advance(20 * time.Second)
	if n := len(f.ch.SentNamed(channel.EventPing)); n != 0 {
		t.Fatalf("got %d pings while reconnecting, want 0", n)
	}
	if f.sync.resets != 0 {
		t.Fatal("message state reset on a recoverable drop")
	}

	f.ch.Deliver(channel.EventConnect, nil)
	if got := f.m.State(); got != status.Connected {
		t.Fatalf("state = %s, want CONNECTED", got)
	}
	if n := len(f.ch.SentNamed(channel.EventJoin)); n != 1 {
		t.Errorf("got %d joins after reconnect, want exactly 1", n)
	}
	if n := len(f.ch.SentNamed(channel.EventSetUsername)); n != 1 {
		t.Errorf("got %d setUsername after reconnect, want 1", n)
	}
	if f.sync.reloads != 1 {
		t.Errorf("history reloaded %d times, want 1", f.sync.reloads)
	}
	if n := len(f.ch.SentNamed(channel.EventRequestOnlineUsers)); n != 1 {
		t.Errorf("got %d presence refreshes, want 1", n)
	}
	if got := testutil.ToFloat64(f.metrics.Reconnects); got != 1 {
		t.Errorf("reconnects metric = %v, want 1", got)
	}

	f.sched.Advance(5 * time.Second)
	if n := len(f.ch.SentNamed(channel.EventPing)); n != 1 {
		t.Errorf("got %d pings after reconnect, want 1", n)
	}
}

func TestDuplicateConnectIgnored(t *testing.T) {
	f := newFixture(t)
	f.loginConnected(t)
	f.ch.Deliver(channel.EventConnect, nil)

	if n := len(f.ch.SentNamed(channel.EventJoin)); n != 1 {
		t.Errorf("got %d joins, want 1", n)
	}
}

func TestFatalDisconnectKeepsCredential(t *testing.T) {
	f := newFixture(t)
	f.loginConnected(t)

	f.ch.Deliver(channel.EventDisconnect, channel.Disconnect{Reason: "reconnect failed"})

	if got := f.m.State(); got != status.Disconnected {
		t.Fatalf("state = %s, want DISCONNECTED", got)
	}
	if f.tokens.token != "tok" {
		t.Error("credential cleared by a fatal disconnect")
	}
	if n := f.ch.Listening(""); n != 0 {
		t.Errorf("%d listeners left after fatal disconnect", n)
	}
	if n := f.sched.Pending(); n != 0 {
		t.Errorf("%d timers left after fatal disconnect", n)
	}
	if err := f.m.Login(context.Background(), alice); err != nil {
		t.Fatalf("login after fatal disconnect: %v", err)
	}
}

func TestConnectErrorCounted(t *testing.T) {
	f := newFixture(t)
	if err := f.m.Login(context.Background(), alice); err != nil {
		t.Fatal(err)
	}

	f.ch.Deliver(channel.EventConnectError, channel.ConnectError{Message: "refused"})

	if got := f.m.State(); got != status.Connecting {
		t.Errorf("state = %s, want CONNECTING", got)
	}
	if got := testutil.ToFloat64(f.metrics.ChannelErrors); got != 1 {
		t.Errorf("channel errors = %v, want 1", got)
	}
}

func TestMalformedConnectErrorLogged(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.WarnLevel)
	f.m.Logger = zap.New(core)
	if err := f.m.Login(context.Background(), alice); err != nil {
		t.Fatal(err)
	}

	f.ch.DeliverRaw(channel.EventConnectError, `"refused"`)

	if n := logs.FilterMessage("malformed connect_error payload").Len(); n != 1 {
		t.Errorf("got %d malformed payload warnings, want 1", n)
	}
	if got := testutil.ToFloat64(f.metrics.ChannelErrors); got != 1 {
		t.Errorf("channel errors = %v, want 1", got)
	}
}

func TestLogoutTearsEverythingDown(t *testing.T) {
	f := newFixture(t)
	f.loginConnected(t)
	events, unsub := f.bus.Subscribe(bus.KindLoggedOut, 1)
	defer unsub()

	if err := f.m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if got := f.m.State(); got != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}
	if f.ch.Closes() != 1 {
		t.Errorf("channel closed %d times, want 1", f.ch.Closes())
	}
	if f.tokens.token != "" || f.tokens.cleared != 1 {
		t.Errorf("token %q cleared %d times", f.tokens.token, f.tokens.cleared)
	}
	if f.sync.resets != 1 || f.typing.closes != 1 {
		t.Errorf("sync resets %d typing closes %d, want 1 and 1", f.sync.resets, f.typing.closes)
	}
	if n := len(f.dir.Contacts()); n != 0 {
		t.Errorf("%d contacts left after logout", n)
	}
	if n := f.ch.Listening(""); n != 0 {
		t.Errorf("%d listeners left after logout", n)
	}
	if n := f.sched.Pending(); n != 0 {
		t.Errorf("%d timers left after logout", n)
	}
	if _, err := f.m.Identity(); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("identity err = %v, want ErrNotLoggedIn", err)
	}
	if f.m.Context().Err() == nil {
		t.Error("session context not cancelled")
	}
	select {
	case evt := <-events:
		if evt.Payload.(LoggedOut).UserID != "u1" {
			t.Errorf("logged out payload = %+v", evt.Payload)
		}
	default:
		t.Error("expected session.logged_out")
	}
}

func TestShutdownKeepsCredential(t *testing.T) {
	f := newFixture(t)
	f.loginConnected(t)

	f.m.Shutdown()

	if got := f.m.State(); got != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}
	if f.tokens.token != "tok" {
		t.Error("shutdown cleared the credential")
	}
}

func TestStatusChangesPublished(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(bus.KindStatusChanged, 16)
	defer unsub()

	f.loginConnected(t)
	f.ch.Deliver(channel.EventDisconnect, channel.Disconnect{WillRetry: true})
	f.ch.Deliver(channel.EventConnect, nil)
	f.m.Logout(context.Background())

	var got []status.State
	for len(events) > 0 {
		got = append(got, (<-events).Payload.(status.StatusChange).To)
	}
	want := []status.State{status.Connecting, status.Connected, status.Reconnecting, status.Connected, status.Disconnected}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestSignupPassesThrough(t *testing.T) {
	f := newFixture(t)
	if err := f.m.Signup(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	if len(f.auth.signups) != 1 {
		t.Errorf("signups = %d, want 1", len(f.auth.signups))
	}
}
