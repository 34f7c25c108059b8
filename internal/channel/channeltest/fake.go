// Package channeltest provides an in-memory channel.Channel for tests.
package channeltest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Akgit99/message-dash-f/internal/channel"
)

// Emitted is one outbound event recorded by Fake.
type Emitted struct {
	Name    string
	Payload any
}

// Fake records outbound events and lets tests deliver inbound ones
// synchronously on the calling goroutine.
type Fake struct {
	listeners channel.Listeners

	mu        sync.Mutex
	emitted   []Emitted
	tokens    []string
	closes    int
	connected bool

	// ConnectErr is returned by Connect when set.
	ConnectErr error
	// EmitErr is returned by Emit when set. The event is not recorded.
	EmitErr error
}

// New returns an empty fake.
func New() *Fake { return &Fake{} }

func (f *Fake) Connect(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
	return nil
}

func (f *Fake) Emit(name string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EmitErr != nil {
		return f.EmitErr
	}
	f.emitted = append(f.emitted, Emitted{Name: name, Payload: payload})
	return nil
}

func (f *Fake) On(name string, l channel.Listener) func() {
	return f.listeners.On(name, l)
}

// Deliver dispatches an inbound event. payload is JSON-encoded first so
// listeners decode it exactly as they would from the wire.
func (f *Fake) Deliver(name string, payload any) {
	evt := channel.Event{Name: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		evt.Data = data
	}
	f.listeners.Dispatch(evt)
}

// DeliverRaw dispatches an inbound event with a literal JSON payload.
func (f *Fake) DeliverRaw(name, data string) {
	f.listeners.Dispatch(channel.Event{Name: name, Data: json.RawMessage(data)})
}

// Sent returns every recorded outbound event.
func (f *Fake) Sent() []Emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Emitted(nil), f.emitted...)
}

// SentNamed returns the payloads of outbound events called name.
func (f *Fake) SentNamed(name string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.emitted {
		if e.Name == name {
			out = append(out, e.Payload)
		}
	}
	return out
}

// ClearSent forgets recorded outbound events.
func (f *Fake) ClearSent() {
	f.mu.Lock()
	f.emitted = nil
	f.mu.Unlock()
}

// Tokens returns the tokens passed to Connect.
func (f *Fake) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

// Closes reports how many times Close was called.
func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Connected reports whether Connect succeeded more recently than Close.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Listening reports how many listeners are registered for name, or in total
// when name is empty.
func (f *Fake) Listening(name string) int {
	return f.listeners.Count(name)
}

var _ channel.Channel = (*Fake)(nil)
