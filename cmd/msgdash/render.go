package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Akgit99/message-dash-f/internal/app"
	"github.com/Akgit99/message-dash-f/internal/bus"
	"github.com/Akgit99/message-dash-f/internal/chat"
	"github.com/Akgit99/message-dash-f/internal/presence"
	"github.com/Akgit99/message-dash-f/internal/status"
	"github.com/Akgit99/message-dash-f/internal/typing"
)

// printer serializes lines from the REPL and the event renderer.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func renderEvents(done <-chan struct{}, out *printer, client *app.Client, events <-chan bus.Event) {
	for {
		var evt bus.Event
		select {
		case <-done:
			return
		case evt = <-events:
		}
		switch p := evt.Payload.(type) {
		case chat.HistoryLoaded:
			peer, _ := client.Peer()
			out.Printf("-- %s (%d messages) --", peer.DisplayName, p.Count)
			for _, m := range client.Messages() {
				out.Printf("%s", formatMessage(m, peer))
			}
		case chat.HistoryFailed:
			out.Printf("-- could not load history: %v --", p.Err)
		case chat.Appended:
			peer, _ := client.Peer()
			out.Printf("%s", formatMessage(p.Message, peer))
		case chat.BotTyping:
			if p.Typing {
				out.Printf("%s is typing...", presence.BotName)
			}
		case typing.Changed:
			if p.Typing {
				out.Printf("%s is typing...", p.PeerID)
			}
		case presence.UnreadChanged:
			out.Printf("%s: %d unread", p.ContactID, p.Unread)
		case status.StatusChange:
			out.Printf("[%s]", strings.ToLower(string(p.To)))
		}
	}
}

// formatMessage renders one line; messages from the peer carry its name and
// unconfirmed sends are marked.
func formatMessage(m chat.Message, peer presence.Contact) string {
	from := "you"
	if m.Sender == peer.ID {
		from = peer.DisplayName
	}
	line := fmt.Sprintf("%s %s: %s", m.Timestamp.Local().Format("15:04"), from, m.Content)
	if m.IsPlaceholder() && m.Sender != peer.ID {
		line += " (sending)"
	}
	return line
}

func formatContact(c presence.Contact) string {
	state := "offline"
	if c.Online {
		state = "online"
	}
	line := fmt.Sprintf("%-20s %-24s %s", c.ID, c.DisplayName, state)
	if c.UnreadCount > 0 {
		line += fmt.Sprintf(" (%d unread)", c.UnreadCount)
	}
	return line
}
