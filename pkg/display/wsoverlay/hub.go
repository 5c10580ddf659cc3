// Package wsoverlay serves the overlay to browser clients over WebSocket.
//
// A [Hub] is both a [display.Sink] and an [http.Handler]. Every connected
// client receives a JSON [Event] for each overlay update; a client that
// connects late first receives the current settings and, if text is shown,
// the text. Clients that cannot keep up are disconnected rather than slowing
// the overlay down.
package wsoverlay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hermes/pkg/display"
)

// Compile-time interface assertions.
var (
	_ display.Sink = (*Hub)(nil)
	_ http.Handler = (*Hub)(nil)
)

// Event types.
const (
	EventPresent   = "present"
	EventDismiss   = "dismiss"
	EventConfigure = "configure"
)

const (
	defaultBuffer       = 16
	defaultWriteTimeout = 5 * time.Second
)

// Event is the JSON message sent to overlay clients.
type Event struct {
	Type        string    `json:"type"`
	Original    string    `json:"original,omitempty"`
	Translated  string    `json:"translated,omitempty"`
	Opacity     int       `json:"opacity"`
	Sensitivity int       `json:"sensitivity"`
	Time        time.Time `json:"time"`
}

// Option configures a [Hub].
type Option func(*Hub)

// WithOriginPatterns allows cross-origin clients whose host matches one of
// patterns (see websocket.AcceptOptions).
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) {
		h.origins = append(h.origins, patterns...)
	}
}

// WithBuffer sets how many events may queue per client before it is
// disconnected. Default: 16.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithWriteTimeout bounds a single write to a client. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.log = l
	}
}

// Hub broadcasts overlay events to WebSocket clients.
type Hub struct {
	origins      []string
	buffer       int
	writeTimeout time.Duration
	log          *slog.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	settings display.Settings
	shown    *Event // nil while hidden
	closed   bool
}

type client struct {
	send chan Event
}

// New returns an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		buffer:       defaultBuffer,
		writeTimeout: defaultWriteTimeout,
		log:          slog.Default(),
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request to a WebSocket and streams events until the
// client goes away or the hub is closed. Messages from the client are
// ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "overlay closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("wsoverlay: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	c, ok := h.register()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "overlay closed")
		return
	}
	defer h.unregister(c)
	h.log.Debug("wsoverlay: client connected", "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "overlay closed or client too slow")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				h.log.Debug("wsoverlay: write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

// register adds a client and queues the current state for it.
func (h *Hub) register() (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{send: make(chan Event, h.buffer+2)}
	c.send <- h.event(EventConfigure)
	if h.shown != nil {
		c.send <- *h.shown
	}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Present implements [display.Sink].
func (h *Hub) Present(original, translated string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev := h.event(EventPresent)
	ev.Original, ev.Translated = original, translated
	h.shown = &ev
	h.broadcastLocked(ev)
}

// Dismiss implements [display.Sink].
func (h *Hub) Dismiss() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shown = nil
	h.broadcastLocked(h.event(EventDismiss))
}

// Configure implements [display.Sink].
func (h *Hub) Configure(s display.Settings) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = s.Clamp()
	if h.shown != nil {
		h.shown.Opacity = h.settings.Opacity
		h.shown.Sensitivity = h.settings.Sensitivity
	}
	h.broadcastLocked(h.event(EventConfigure))
}

// Close disconnects every client and rejects new ones. It is idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}

func (h *Hub) event(typ string) Event {
	return Event{
		Type:        typ,
		Opacity:     h.settings.Opacity,
		Sensitivity: h.settings.Sensitivity,
		Time:        time.Now(),
	}
}

// broadcastLocked queues ev for every client. Clients whose buffer is full
// are dropped. Must be called with h.mu held.
func (h *Hub) broadcastLocked(ev Event) {
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			delete(h.clients, c)
			close(c.send)
			h.log.Warn("wsoverlay: dropped slow client")
		}
	}
}
