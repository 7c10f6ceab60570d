// Package ws implements [display.Display] as a WebSocket feed.
//
// A [Display] is an [http.Handler]: every connected client first receives
// the current screen (status, emotion, chat bubble) and then one JSON
// [Message] per update. Clients that fall behind are disconnected rather
// than slowing the device down.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/wakecore/pkg/display"
)

const (
	// clientBuffer is the per-client queue depth before the client is dropped.
	clientBuffer = 32

	writeTimeout = 5 * time.Second
)

// Message is one display update on the wire.
type Message struct {
	// Type is one of "status", "emotion", "chat", "notification".
	Type string `json:"type"`

	// Role is set for "chat" messages.
	Role string `json:"role,omitempty"`

	// Text carries the status, emotion name, chat text or notification.
	Text string `json:"text"`
}

// Option is a functional option for [New].
type Option func(*Display)

// WithOriginPatterns allows cross-origin clients matching the given host
// patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(d *Display) { d.origins = patterns }
}

// Display broadcasts updates to WebSocket clients.
type Display struct {
	origins []string

	mu      sync.Mutex
	clients map[*client]struct{}
	status  Message
	emotion Message
	chat    Message
	closed  bool
}

type client struct {
	send   chan []byte
	cancel context.CancelFunc
}

// New creates a display with no clients.
func New(opts ...Option) *Display {
	d := &Display{
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetStatus broadcasts a status update.
func (d *Display) SetStatus(status string) {
	d.publish(Message{Type: "status", Text: status})
}

// SetEmotion broadcasts an emotion update.
func (d *Display) SetEmotion(emotion string) {
	d.publish(Message{Type: "emotion", Text: emotion})
}

// SetChatMessage broadcasts a chat bubble.
func (d *Display) SetChatMessage(role, text string) {
	d.publish(Message{Type: "chat", Role: role, Text: text})
}

// ShowNotification broadcasts a transient notification. Notifications are
// not part of the snapshot sent to new clients.
func (d *Display) ShowNotification(text string) {
	d.publish(Message{Type: "notification", Text: text})
}

// Clients returns the number of connected clients.
func (d *Display) Clients() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *Display) publish(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("ws display: marshal message", "err", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch m.Type {
	case "status":
		d.status = m
	case "emotion":
		d.emotion = m
	case "chat":
		d.chat = m
	}

	for c := range d.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("ws display: client too slow, disconnecting")
			delete(d.clients, c)
			c.cancel()
		}
	}
}

// snapshot returns the messages describing the current screen.
func (d *Display) snapshot() [][]byte {
	var out [][]byte
	for _, m := range []Message{d.status, d.emotion, d.chat} {
		if m.Type == "" {
			continue
		}
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// ServeHTTP upgrades the request and streams updates until the client goes
// away or the display is closed.
func (d *Display) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: d.origins,
	})
	if err != nil {
		slog.Warn("ws display: accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "display writer exited")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Updates only flow to the client; CloseRead handles control frames and
	// cancels ctx when the peer closes.
	ctx = conn.CloseRead(ctx)

	c := &client{send: make(chan []byte, clientBuffer), cancel: cancel}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "display closed")
		return
	}
	for _, data := range d.snapshot() {
		c.send <- data
	}
	d.clients[c] = struct{}{}
	n := len(d.clients)
	d.mu.Unlock()

	slog.Debug("ws display: client connected", "remote", r.RemoteAddr, "clients", n)

	defer func() {
		d.mu.Lock()
		delete(d.clients, c)
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			closed := d.closed
			d.mu.Unlock()
			if closed {
				conn.Close(websocket.StatusGoingAway, "display closed")
			}
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				slog.Debug("ws display: write failed", "err", err)
				return
			}
		}
	}
}

// Close disconnects all clients and rejects new ones.
func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for c := range d.clients {
		delete(d.clients, c)
		c.cancel()
	}
	return nil
}

var _ display.Display = (*Display)(nil)
