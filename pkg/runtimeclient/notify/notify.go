// Package notify implements a one-way, best-effort websocket wake-up
// channel supplementing PreviewStateProjector's poll loop (SPEC_FULL.md
// supplement 4): it never carries state itself, only a signal telling a
// SessionClient to refresh early. Grounded on agent/cmd/agent/main.go's
// websocket.Upgrader{CheckOrigin: ...} + read/write pump goroutine pair,
// retargeted from a pty byte stream to a small typed wake-up message.
package notify

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the only payload this channel carries: a nudge to refresh
// state for composeID, never the state itself.
type Message struct {
	ComposeID string `json:"composeId"`
	Reason    string `json:"reason"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the server-side broadcaster: one HttpSurface instance owns one
// Hub and calls Notify after a session heartbeat and after it triggers a
// compose redeploy.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn      *websocket.Conn
	composeID string
	send      chan Message
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Serve upgrades r into a websocket connection subscribed to wake-ups
// for composeID, and pumps messages until the connection closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, composeID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{conn: conn, composeID: composeID, send: make(chan Message, 8)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		conn.Close()
	}()

	go c.writePump()
	c.readPump()
	return nil
}

func (c *client) writePump() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// readPump drains and discards inbound frames (this channel is
// server-to-client only) until the connection closes.
func (c *client) readPump() {
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Notify wakes every client subscribed to composeID. Best-effort:
// slow/full clients are skipped rather than blocking the caller.
func (h *Hub) Notify(composeID, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.composeID != composeID {
			continue
		}
		select {
		case c.send <- Message{ComposeID: composeID, Reason: reason}:
		default:
			log.Printf("notify: dropping wake-up for compose %s, client send buffer full", composeID)
		}
	}
}

// Listener is the client-side counterpart: it dials a Hub's websocket
// endpoint and invokes onWake for every Message received, reconnecting
// with backoff until Close is called.
type Listener struct {
	url    string
	onWake func(Message)

	cancel context.CancelFunc
}

func NewListener(url string, onWake func(Message)) *Listener {
	return &Listener{url: url, onWake: onWake}
}

// Start begins the dial-and-reconnect loop in a background goroutine.
func (l *Listener) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.run(ctx)
}

func (l *Listener) Close() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Listener) run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
		if err != nil {
			log.Printf("notify: dial failed, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		l.readLoop(ctx, conn)
		conn.Close()
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if l.onWake != nil {
			l.onWake(msg)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
